package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestASCIILower(t *testing.T) {
	assert.Equal(t, "https://example.com/ä", ASCIILower("HTTPS://Example.COM/ä"))
	in := "already.lower"
	assert.Equal(t, in, ASCIILower(in))
}

func TestHostBounds(t *testing.T) {
	tests := []struct {
		url  string
		host string
	}{
		{"https://example.com/path", "example.com"},
		{"https://user:pw@example.com:8443/x", "example.com"},
		{"http://example.com?q=1", "example.com"},
		{"http://example.com#frag", "example.com"},
		{"http://[::1]:8080/", "[::1]"},
		{"wss://cdn.example.net", "cdn.example.net"},
		{"example.com/path", ""},
		{"", ""},
	}
	for _, tt := range tests {
		start, end := HostBounds(tt.url)
		assert.Equal(t, tt.host, tt.url[start:end], tt.url)
	}
}

func TestURLHost(t *testing.T) {
	assert.Equal(t, "example.com", URLHost("https://Example.com./a"))
	assert.Equal(t, "www.example.com", URLHost("HTTPS://WWW.Example.com/a"))
	assert.Equal(t, "::1", URLHost("http://[::1]/"))
	assert.Equal(t, "", URLHost("about:blank"))
}

func TestScheme(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://example.com", "https:"},
		{"DATA:text/plain,hi", "data:"},
		{"blob:https://example.com/uuid", "blob:"},
		{"about:blank", "about:"},
		{"chrome-extension://abc", "chrome-extension:"},
		{"//example.com", ""},
		{"example.com/a:b", ""},
		{":foo", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Scheme(tt.in), tt.in)
	}
}
