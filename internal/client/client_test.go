package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"conflict","message":"job already claimed"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).ClaimJob(context.Background(), "some-id")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "conflict", apiErr.Kind)
	assert.Equal(t, "job already claimed", apiErr.Message)

	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsTransport(err))
}

func TestIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NewServeMux())
	addr := srv.URL
	srv.Close()

	_, err := New(addr).GetJob(context.Background(), "some-id")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.False(t, IsConflict(err))
}
