package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ValidateSourceUrl(t *testing.T) {
	tests := []struct {
		Summary   string
		Url       string
		ExpectErr bool
	}{
		{"standard watch url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", false},
		{"bare host", "https://youtube.com/watch?v=dQw4w9WgXcQ", false},
		{"mobile host", "https://m.youtube.com/watch?v=dQw4w9WgXcQ", false},
		{"music subdomain", "https://music.youtube.com/watch?v=dQw4w9WgXcQ", false},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", false},
		{"plain http", "http://www.youtube.com/watch?v=dQw4w9WgXcQ", false},
		{"missing scheme", "www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"unsupported host", "https://vimeo.com/123456", true},
		{"lookalike host", "https://youtube.com.evil.example/watch?v=x", true},
		{"ftp scheme", "ftp://www.youtube.com/watch?v=x", true},
		{"empty", "", true},
	}

	for _, test := range tests {
		t.Run(test.Summary, func(t *testing.T) {
			err := ValidateSourceUrl(test.Url)
			if test.ExpectErr {
				assert.ErrorIs(t, err, ErrSourceUrlInvalid)
			} else {
				assert.Nil(t, err)
			}
		})
	}
}
