package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/things", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id":"a"},{"id":"b"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithToken("secret"))

	var out []struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.Get(context.Background(), "/things", &out))
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[1].ID)
}

func TestClient_PostSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["name"]})
	}))
	defer srv.Close()

	c := New(srv.URL)

	var out map[string]string
	require.NoError(t, c.Do(context.Background(), http.MethodPost, "/echo", map[string]string{"name": "x"}, &out))
	assert.Equal(t, "x", out["echo"])
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"name already used"}`))
	}))
	defer srv.Close()

	err := New(srv.URL).Get(context.Background(), "/x", nil)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Status)
	assert.Equal(t, "name already used", se.Message)
	assert.Equal(t, http.StatusConflict, StatusCode(err))
	assert.False(t, errors.Is(err, ErrUnreachable))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url, WithTimeout(time.Second)).Get(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Zero(t, StatusCode(err))
}

func TestClient_WriteRateDoesNotThrottleReads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithWriteRate(0.001, 1))

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Get(context.Background(), "/x", nil))
	}
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_WriteRateHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithWriteRate(0.001, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Burst of one lets the first write through, the second must wait.
	require.NoError(t, c.Do(ctx, http.MethodPost, "/x", nil, nil))
	err := c.Do(ctx, http.MethodPost, "/x", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
