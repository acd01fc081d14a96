package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPrivateHost(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/a.png", false},
		{"https://93.184.216.34/a.png", false},
		{"http://localhost/a.png", true},
		{"http://LOCALHOST./a.png", true},
		{"http://api.localhost/a.png", true},
		{"http://127.0.0.1:8080/a.png", true},
		{"http://10.0.0.1/a.png", true},
		{"http://172.16.5.4/a.png", true},
		{"http://192.168.1.1/a.png", true},
		{"http://169.254.169.254/latest/meta-data", true},
		{"http://0.0.0.0/a.png", true},
		{"http://[::1]/a.png", true},
		{"http://[fd00::1]/a.png", true},
		{"http://[::ffff:127.0.0.1]/a.png", true},
		{"http://[2606:4700::1111]/a.png", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPrivateHost(tt.url))
		})
	}
}

func TestValidator_ImageURL(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		url   string
		valid bool
	}{
		{"https://example.com/a.png", true},
		{"http://example.com", true},
		{"", false},
		{"example.com/a.png", false},
		{"file:///etc/passwd", false},
		{"https://", false},
		{"://bad", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := v.Struct(ImageQuery{URL: tt.url})
			assert.Equal(t, tt.valid, err == nil, "error: %v", err)
		})
	}
}
