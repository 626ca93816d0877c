package gate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultLibraryURL is the devtools detection library loaded by the snippet.
const DefaultLibraryURL = "https://cdn.jsdelivr.net/npm/disable-devtool@0.3.9/disable-devtool.min.js"

// forceBlockScript must run before the library so window.__mw_block exists when it fires.
const forceBlockScript = `
<script>
(function(){
  var style = document.createElement('style');
  style.id = 'mw-no-select-style';
  style.textContent = '*{user-select:none !important;-webkit-user-select:none !important;-moz-user-select:none !important;-ms-user-select:none !important;}';
  try { document.head && document.head.appendChild(style); } catch(e){}

  function block(e){ try{ e.preventDefault(); e.stopPropagation(); } catch(err){} }
  ['contextmenu','selectstart','copy','cut','paste'].forEach(function(name){
    document.addEventListener(name, block, true);
  });

  document.addEventListener('keydown', function(e){
    var k = (e.key || '').toString();
    var K = k.length === 1 ? k.toUpperCase() : k;
    var mod = e.ctrlKey || e.metaKey;
    if (K === 'F12' || e.keyCode === 123) { block(e); return; }
    if (mod && e.shiftKey && (K === 'I' || K === 'J' || K === 'C')) { block(e); return; }
    if (mod && (K === 'U' || K === 'C')) { block(e); return; }
    if (e.metaKey && e.altKey && (K === 'J' || K === 'I')) { block(e); return; }
  }, true);

  setInterval(function(){
    try {
      if (!document.head.querySelector('#mw-no-select-style')) { document.head.appendChild(style); }
      document.removeEventListener('contextmenu', block, true);
      document.addEventListener('contextmenu', block, true);
      document.removeEventListener('copy', block, true);
      document.addEventListener('copy', block, true);
    } catch(e){}
  }, 800);

  window.__mw_block = function(){
    try {
      document.documentElement.innerHTML = '<div style="height:100vh;display:flex;align-items:center;justify-content:center;font-family:system-ui,Arial,sans-serif"><div><h2>Access denied</h2><p>Developer tools detected.</p></div></div>';
      try { window.open('', '_self').close(); } catch(e){}
    } catch(e){}
  };
})();
</script>
`

const initScript = `
<script>
(function(){
  var cfg = {
    disableMenu: true,
    disableCopy: true,
    disableCut: true,
    disablePaste: true,
    md5: %[1]s,
    url: %[2]s,
    ondevtoolopen: function(){
      try { if (typeof window.__mw_block === 'function') { window.__mw_block(); } else { location.href = %[2]s; } } catch(e) {}
    }
  };
  function tryInit(retries){
    if (window.DisableDevtool) { try { window.DisableDevtool(cfg); } catch(e){} return; }
    if (!retries) return;
    setTimeout(function(){ tryInit(retries-1); }, 200);
  }
  tryInit(15);
})();
</script>
`

// BuildSnippet renders the force-block script, the library tag and its init script.
func BuildSnippet(libraryURL, md5Token, unauthorizedPath string) string {
	if libraryURL == "" {
		libraryURL = DefaultLibraryURL
	}
	var b strings.Builder
	b.WriteString(forceBlockScript)
	fmt.Fprintf(&b, "\n<script src=%q disable-devtool disable-devtool-auto></script>\n", libraryURL)
	fmt.Fprintf(&b, initScript, jsString(md5Token), jsString(unauthorizedPath))
	return b.String()
}

// Inject places snippet before </body>, else before </head>, else at the end.
func Inject(html, snippet string) string {
	for _, marker := range []string{"</body>", "</head>"} {
		if strings.Contains(html, marker) {
			return strings.Replace(html, marker, snippet+marker, 1)
		}
	}
	return html + snippet
}

func jsString(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}
