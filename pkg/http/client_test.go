package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbols"))
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		_, _ = w.Write([]byte(`{"status":"ACTIVE"}`))
	}))
	defer srv.Close()

	c := NewClient(WithRetries(5, time.Second))
	c.initial = time.Millisecond

	var out struct{ Status string }
	err := c.Do(context.Background(), &Request{
		Method: MethodGet,
		URL:    srv.URL,
		Header: map[string]string{"APCA-API-KEY-ID": "key"},
		Query:  map[string][]string{"symbols": {"AAPL"}},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", out.Status)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "insufficient buying power", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(WithRetries(5, time.Second))
	c.initial = time.Millisecond

	err := c.Do(context.Background(), &Request{Method: MethodPost, URL: srv.URL, Body: map[string]int{"qty": 1}}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, "insufficient buying power", se.Body)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClientSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_, _ = w.Write([]byte(in["symbol"]))
	}))
	defer srv.Close()

	var raw []byte
	err := NewClient().Do(context.Background(), &Request{Method: MethodPost, URL: srv.URL, Body: map[string]string{"symbol": "MSFT"}}, &raw)
	require.NoError(t, err)
	assert.Equal(t, "MSFT", string(raw))
}
