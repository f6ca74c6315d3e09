package harvest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURLSlashes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"clean", "https://example.org/a/b.shp", "https://example.org/a/b.shp"},
		{"double slashes in path", "https://example.org//a///b", "https://example.org/a/b"},
		{"backslashes", `http:\\example.org\a\b.zip`, "http://example.org/a/b.zip"},
		{"no scheme", "//files//a.zip", "/files/a.zip"},
		{"only first separator kept", "https://a.org/redirect?u=http://b.org//x", "https://a.org/redirect?u=http:/b.org/x"},
		{"ftp", "ftp://host//pub//f.gml", "ftp://host/pub/f.gml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURLSlashes(tt.in))
		})
	}
}

func TestNormalizeURLSlashes_Idempotent(t *testing.T) {
	inputs := []string{
		"https://example.org//a//b",
		`file:\\\\share\\x`,
		"a////b",
		"https:///triple",
		"://",
		`\\`,
	}
	for _, in := range inputs {
		once := NormalizeURLSlashes(in)
		assert.Equal(t, once, NormalizeURLSlashes(once), "input %q", in)
		if strings.Contains(in, "://") {
			assert.Contains(t, once, "://", "scheme separator kept for %q", in)
		}
	}
}
