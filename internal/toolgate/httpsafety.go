package toolgate

import (
	"net/http"
	"net/url"

	"github.com/conductorhq/core/internal/net/ssrf"
)

// IsSafeHTTPCall reports whether an HTTP tool call may auto-approve: only
// GET requests to a resolvable public hostname pass (spec §4.7: "reject
// non-GET HTTP without approval"), reusing the teacher's internal/net/ssrf
// package verbatim for hostname/IP blocking.
func IsSafeHTTPCall(method, rawURL string) bool {
	if method != "" && method != http.MethodGet {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return ssrf.ValidatePublicHostname(u.Hostname()) == nil
}
