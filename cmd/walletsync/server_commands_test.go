package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCommand_Success(t *testing.T) {
	// Create test server that returns 200 OK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	out, err := runApp(t, "", "--server-url", server.URL, "server", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Server is healthy")
	assert.Contains(t, out, server.URL)
}

func TestHealthCommand_Failure(t *testing.T) {
	// Create test server that returns 500
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := runApp(t, "", "--server-url", server.URL, "server", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}

func TestHealthCommand_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := runApp(t, "", "--server-url", url, "server", "health", "--timeout", "1s")
	require.Error(t, err)
}

func TestReleaseCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/release", r.URL.Path)
		writeTestJSON(w, map[string]any{"current": "1.0.0", "latest": "1.1.0", "updateAvailable": true})
	}))
	defer server.Close()

	out, err := runApp(t, "", "--server-url", server.URL, "server", "release")
	require.NoError(t, err)
	assert.Contains(t, out, "Current: 1.0.0")
	assert.Contains(t, out, "Latest:  1.1.0 (update available)")

	out, err = runApp(t, "", "--server-url", server.URL, "--json", "server", "release")
	require.NoError(t, err)
	assert.JSONEq(t, `{"current":"1.0.0","latest":"1.1.0","updateAvailable":true}`, out)
}
