package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "dmp-portal-client/pkg/errors"
)

func TestDoDecodesEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"id":12,"kind":"patient_medecin"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, staticToken("test-token"))

	var out struct {
		ID   int64  `json:"id"`
		Kind string `json:"kind"`
	}
	err := client.Do(context.Background(), http.MethodGet, "/api/messaging/conversations", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, int64(12), out.ID)
	assert.Equal(t, "patient_medecin", out.Kind)
}

func TestDoRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, staticToken("t"))

	err := client.Do(context.Background(), http.MethodGet, "/api/notifications", nil, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRateLimited))
}

func TestDoServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, staticToken("t"))

	err := client.Do(context.Background(), http.MethodGet, "/api/messaging/conversations", nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRequestFailed))
	assert.Equal(t, http.StatusInternalServerError, apperrors.GetAppError(err).StatusCode)
}

func TestDoRejectedEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"error":{"code":"FORBIDDEN","message":"not a participant"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, staticToken("t"))

	err := client.Do(context.Background(), http.MethodPost, "/api/messaging/conversations", map[string]int{"patient_id": 7}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRequestFailed))
	assert.Contains(t, err.Error(), "not a participant")
}

func TestDoTokenProviderFailure(t *testing.T) {
	client := NewClient("http://unused", failingTokens{})

	err := client.Do(context.Background(), http.MethodGet, "/anything", nil, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAuthenticated))
}

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) {
	return "", apperrors.NotAuthenticatedError()
}
