package fetch

import (
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/marmos91/urlimage/pkg/transport"
)

// DefaultKeyHeaders are the request headers that take part in the default
// RequestKey. Accept changes which representation a server returns, so two
// requests differing in it must not share a fetch or a cache entry.
var DefaultKeyHeaders = []string{"Accept"}

// RequestKey identifies a resource for deduplication. Two tasks with equal
// keys never have overlapping transport operations.
type RequestKey struct {
	Method string
	URL    string
	Vary   string
}

// String renders the key. It is also the cache store key.
func (k RequestKey) String() string {
	if k.Vary == "" {
		return k.Method + " " + k.URL
	}
	return k.Method + " " + k.URL + " " + k.Vary
}

// KeyFunc derives a RequestKey from a request.
type KeyFunc func(transport.Request) RequestKey

// DefaultKey keys requests by method, normalized URL and DefaultKeyHeaders.
func DefaultKey(req transport.Request) RequestKey {
	return HeaderKey(DefaultKeyHeaders...)(req)
}

// URLKey ignores headers entirely.
func URLKey(req transport.Request) RequestKey {
	return RequestKey{Method: normalizeMethod(req.Method), URL: NormalizeURL(req.URL)}
}

// HeaderKey returns a KeyFunc that includes the values of the named headers.
// Header names are matched case-insensitively and listed in sorted order,
// so the order they are configured in does not matter.
func HeaderKey(headers ...string) KeyFunc {
	names := make([]string, 0, len(headers))
	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		c := http.CanonicalHeaderKey(strings.TrimSpace(h))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		names = append(names, c)
	}
	sort.Strings(names)

	return func(req transport.Request) RequestKey {
		key := URLKey(req)

		var parts []string
		for _, name := range names {
			values := req.Header.Values(name)
			if len(values) == 0 {
				continue
			}
			canon := make([]string, 0, len(values))
			for _, v := range values {
				for _, item := range strings.Split(v, ",") {
					if item = strings.TrimSpace(item); item != "" {
						canon = append(canon, item)
					}
				}
			}
			parts = append(parts, strings.ToLower(name)+"="+strings.Join(canon, ","))
		}
		key.Vary = strings.Join(parts, "&")
		return key
	}
}

func normalizeMethod(m string) string {
	if m == "" {
		return http.MethodGet
	}
	return strings.ToUpper(m)
}

// NormalizeURL lower-cases scheme and host, drops the fragment and the
// scheme's default port. Path and query are kept verbatim. Unparseable
// input is returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host, port := u.Hostname(), u.Port()
	host = strings.ToLower(host)
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
