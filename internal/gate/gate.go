package gate

import (
	"bytes"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// InternalHeader marks requests the gate issued itself so they are not gated twice.
const InternalHeader = "x-mw-internal"

// LoginPath is where requests without a valid session are sent.
const LoginPath = "/login.html"

// DefaultUnauthorizedPath is the page shown once devtools are detected.
const DefaultUnauthorizedPath = "/unauthorized.html"

const (
	DecisionPass     = "pass"
	DecisionRedirect = "redirect"
	DecisionInject   = "inject"
)

var (
	excludedPrefixes = []string{"api", "_next", "_static", "favicon.ico", "login.html", "set-password.html"}
	assetPattern     = regexp.MustCompile(`\.(?:png|jpg|jpeg|gif|webp|svg|css|js|map|woff2|woff|ttf)`)
)

// DecisionRecorder counts gate outcomes.
type DecisionRecorder interface {
	GateDecision(decision string)
}

type Options struct {
	UnauthorizedPath string
	MD5              string
	LibraryURL       string
	Logger           *zap.Logger
	Recorder         DecisionRecorder
	Now              func() time.Time
}

// Middleware requires a session cookie for pages and injects the protection
// snippet into every HTML document served by next.
type Middleware struct {
	next             http.Handler
	unauthorizedPath string
	snippet          string
	logger           *zap.Logger
	recorder         DecisionRecorder
	now              func() time.Time
}

func New(next http.Handler, opts Options) *Middleware {
	m := &Middleware{
		next:             next,
		unauthorizedPath: opts.UnauthorizedPath,
		logger:           opts.Logger,
		recorder:         opts.Recorder,
		now:              opts.Now,
	}
	if m.unauthorizedPath == "" {
		m.unauthorizedPath = DefaultUnauthorizedPath
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.snippet = BuildSnippet(opts.LibraryURL, opts.MD5, m.unauthorizedPath)
	return m
}

func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(InternalHeader) == "1" || Excluded(r.URL.Path) || m.public(r.URL.Path) {
		m.pass(w, r)
		return
	}

	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" || !ValidSession(cookie.Value, m.now()) {
		m.decide(DecisionRedirect)
		m.logger.Debug("gate redirect", zap.String("path", r.URL.Path))
		http.Redirect(w, r, LoginPath, http.StatusTemporaryRedirect)
		return
	}

	if !strings.Contains(r.Header.Get("Accept"), "text/html") {
		m.pass(w, r)
		return
	}

	internal := r.Clone(r.Context())
	internal.Header.Set(InternalHeader, "1")
	internal.Header.Del("Accept-Encoding")

	buf := newBufferedWriter()
	m.next.ServeHTTP(buf, internal)

	header := w.Header()
	for k, v := range buf.header {
		header[k] = v
	}
	if !strings.Contains(strings.ToLower(buf.header.Get("Content-Type")), "text/html") {
		w.WriteHeader(buf.status)
		_, _ = w.Write(buf.body.Bytes())
		m.decide(DecisionPass)
		return
	}

	html := Inject(buf.body.String(), m.snippet)
	header.Del("Content-Length")
	header.Del("Content-Encoding")
	w.WriteHeader(buf.status)
	_, _ = w.Write([]byte(html))
	m.decide(DecisionInject)
}

func (m *Middleware) pass(w http.ResponseWriter, r *http.Request) {
	m.decide(DecisionPass)
	m.next.ServeHTTP(w, r)
}

func (m *Middleware) public(path string) bool {
	return path == LoginPath || path == "/set-password.html" || path == m.unauthorizedPath
}

func (m *Middleware) decide(decision string) {
	if m.recorder != nil {
		m.recorder.GateDecision(decision)
	}
}

// Excluded reports whether a path is outside the gate: APIs, build assets, the icon,
// static files by extension and the login pages.
func Excluded(path string) bool {
	rest := strings.TrimPrefix(path, "/")
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(rest, prefix) {
			return true
		}
	}
	return assetPattern.MatchString(rest)
}

// Upstream returns the handler the gate fronts: a reverse proxy when target is set,
// a file server over dir otherwise.
func Upstream(target, dir string) (http.Handler, error) {
	if target == "" {
		return http.FileServer(http.Dir(dir)), nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	return httputil.NewSingleHostReverseProxy(u), nil
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
	wrote  bool
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.wrote {
		return
	}
	b.wrote = true
	b.status = status
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if !b.wrote {
		b.WriteHeader(http.StatusOK)
	}
	if b.header.Get("Content-Type") == "" {
		b.header.Set("Content-Type", http.DetectContentType(p))
	}
	return b.body.Write(p)
}
