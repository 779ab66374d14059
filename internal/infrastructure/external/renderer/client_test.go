package renderer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/certification-hub/pkg/circuitbreaker"
)

func testClient(baseURL string) *Client {
	cfg := DefaultClientConfig(baseURL)
	cfg.APIKey = "secret"
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	return NewClient(cfg)
}

func TestRender_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/render", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req renderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, renderRequest{UserID: "u1", CourseID: "go-101", ScorePercentage: 87.5}, req)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"document_ref":"https://docs.example/cert/1.pdf"}`))
	}))
	defer srv.Close()

	ref, err := testClient(srv.URL).Render(context.Background(), "u1", "go-101", 87.5)
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example/cert/1.pdf", ref)
}

func TestRender_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"document_ref":"doc-3"}`))
	}))
	defer srv.Close()

	ref, err := testClient(srv.URL).Render(context.Background(), "u1", "go-101", 100)
	require.NoError(t, err)
	assert.Equal(t, "doc-3", ref)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRender_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"unknown template"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Render(context.Background(), "u1", "go-101", 100)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "unknown template", statusErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRender_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Render(context.Background(), "u1", "go-101", 100)
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestRender_EmptyReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Render(context.Background(), "u1", "go-101", 100)
	assert.ErrorIs(t, err, ErrEmptyReference)
}

func TestRender_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := DefaultClientConfig(srv.URL)
	cfg.MaxAttempts = 1
	cfg.BreakerThreshold = 2
	cfg.BreakerTimeout = time.Minute
	c := NewClient(cfg)

	for i := 0; i < 2; i++ {
		_, err := c.Render(context.Background(), "u1", "go-101", 100)
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, c.BreakerState())

	_, err := c.Render(context.Background(), "u1", "go-101", 100)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDiscard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		switch r.URL.Query().Get("ref") {
		case "gone":
			w.WriteHeader(http.StatusNotFound)
		case "doc 1":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	assert.NoError(t, c.Discard(context.Background(), "doc 1"))
	assert.NoError(t, c.Discard(context.Background(), "gone"))
	assert.Error(t, c.Discard(context.Background(), "other"))
}
