package webrtc

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	apperrors "dmp-portal-client/pkg/errors"
)

// ValidateConferenceLink checks that a conference link is an absolute
// http(s) URL with a host. Everything a session joins through must pass
// this before any join is attempted.
func ValidateConferenceLink(link string) error {
	if strings.TrimSpace(link) == "" {
		return apperrors.InvalidInputError("conference link is empty")
	}
	u, err := url.Parse(link)
	if err != nil {
		return apperrors.InvalidInputError(fmt.Sprintf("malformed conference link %q", link))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperrors.InvalidInputError(fmt.Sprintf("conference link %q must be http or https", link))
	}
	if u.Host == "" {
		return apperrors.InvalidInputError(fmt.Sprintf("conference link %q has no host", link))
	}
	return nil
}

// NewConferenceLink builds a join link under the portal origin with a
// fresh room code.
func NewConferenceLink(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/conference/" + newRoomCode()
}

// newRoomCode returns a short, URL-safe room identifier.
func newRoomCode() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}
