package webrtc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "dmp-portal-client/pkg/errors"
)

func TestValidateConferenceLink(t *testing.T) {
	tests := []struct {
		name  string
		link  string
		valid bool
	}{
		{"https link", "https://portal.example/conference/abc123", true},
		{"http link", "http://localhost:3000/conference/abc123", true},
		{"bare word", "not-a-url", false},
		{"empty", "", false},
		{"whitespace", "   ", false},
		{"wrong scheme", "ftp://portal.example/conference/abc", false},
		{"no host", "https:///conference/abc", false},
		{"javascript scheme", "javascript:alert(1)", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConferenceLink(tt.link)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
			}
		})
	}
}

func TestNewConferenceLink(t *testing.T) {
	link := NewConferenceLink("http://localhost:3000/")

	assert.NoError(t, ValidateConferenceLink(link))
	assert.Contains(t, link, "http://localhost:3000/conference/")
	assert.NotEqual(t, link, NewConferenceLink("http://localhost:3000/"))
}
