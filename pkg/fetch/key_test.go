package fetch

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/urlimage/pkg/transport"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://Example.COM/a.png", "https://example.com/a.png"},
		{"HTTPS://example.com/a.png", "https://example.com/a.png"},
		{"https://example.com:443/a.png", "https://example.com/a.png"},
		{"http://example.com:80/a.png", "http://example.com/a.png"},
		{"http://example.com:8080/a.png", "http://example.com:8080/a.png"},
		{"https://example.com:80/a.png", "https://example.com:80/a.png"},
		{"https://example.com/a.png#frag", "https://example.com/a.png"},
		{"https://example.com/A.png?b=2&a=1", "https://example.com/A.png?b=2&a=1"},
		{"http://[::1]:80/x", "http://[::1]/x"},
		{"not a url", "not a url"},
		{"/relative/path", "/relative/path"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestDefaultKey(t *testing.T) {
	t.Run("EmptyMethodIsGet", func(t *testing.T) {
		key := DefaultKey(transport.Request{URL: "https://example.com/a.png"})
		assert.Equal(t, RequestKey{Method: "GET", URL: "https://example.com/a.png"}, key)
		assert.Equal(t, "GET https://example.com/a.png", key.String())
	})

	t.Run("EquivalentRequestsShareKey", func(t *testing.T) {
		a := DefaultKey(transport.Request{Method: "get", URL: "https://EXAMPLE.com:443/a.png#x"})
		b := DefaultKey(transport.NewRequest("https://example.com/a.png"))
		assert.Equal(t, a, b)
	})

	t.Run("AcceptChangesKey", func(t *testing.T) {
		plain := DefaultKey(transport.NewRequest("https://example.com/a"))
		webp := DefaultKey(transport.Request{URL: "https://example.com/a", Header: http.Header{"Accept": {"image/webp"}}})

		assert.NotEqual(t, plain, webp)
		assert.Equal(t, "accept=image/webp", webp.Vary)
		assert.Equal(t, "GET https://example.com/a accept=image/webp", webp.String())
	})

	t.Run("UnlistedHeadersIgnored", func(t *testing.T) {
		a := DefaultKey(transport.Request{URL: "u", Header: http.Header{"Authorization": {"x"}}})
		b := DefaultKey(transport.Request{URL: "u", Header: http.Header{"Authorization": {"y"}}})
		assert.Equal(t, a, b)
	})
}

func TestHeaderKey(t *testing.T) {
	fn := HeaderKey("accept-language", "Accept", "ACCEPT")

	req := transport.Request{URL: "u", Header: http.Header{
		"Accept":          {"image/png, image/*"},
		"Accept-Language": {"en"},
	}}
	assert.Equal(t, "accept=image/png,image/*&accept-language=en", fn(req).Vary)

	split := transport.Request{URL: "u", Header: http.Header{
		"Accept":          {"image/png", "image/*"},
		"Accept-Language": {"en"},
	}}
	assert.Equal(t, fn(req), fn(split))
}

func TestURLKey(t *testing.T) {
	req := transport.Request{URL: "u", Header: http.Header{"Accept": {"image/png"}}}
	assert.Empty(t, URLKey(req).Vary)
}
