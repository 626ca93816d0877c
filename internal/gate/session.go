package gate

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the cookie carrying the login session.
const SessionCookie = "sessionid"

// ValidSession reports whether a raw sessionid cookie value looks like a live session.
// The token signature is never checked; only the exp claim is consulted.
func ValidSession(raw string, now time.Time) bool {
	value := raw
	if decoded, err := url.PathUnescape(raw); err == nil {
		value = decoded
	}
	if strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		if len(value) < 2 {
			value = ""
		} else {
			value = value[1 : len(value)-1]
		}
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(value), &parsed); err == nil && truthy(parsed["accessToken"]) {
		token, isString := parsed["accessToken"].(string)
		return !(isString && tokenExpired(token, now))
	}
	if len(strings.Split(value, ".")) == 3 {
		return !tokenExpired(value, now)
	}
	return len(value) >= 10
}

var stdAlphabet = strings.NewReplacer("-", "+", "_", "/")

// tokenExpired decodes the payload segment of a three-part token and compares exp
// against now. Anything undecodable counts as not expired.
func tokenExpired(token string, now time.Time) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	segment := strings.TrimRight(parts[1], "=")
	payload, err := jwt.NewParser().DecodeSegment(segment)
	if err != nil {
		// Browsers decode with atob after mapping -_ to +/, so either alphabet may appear.
		payload, err = base64.RawStdEncoding.DecodeString(stdAlphabet.Replace(segment))
		if err != nil {
			return false
		}
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || exp.Unix() == 0 {
		return false
	}
	return !time.Unix(now.Unix(), 0).Before(exp.Time)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}
