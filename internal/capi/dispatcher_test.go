package capi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pixel-relay/internal/httpx"
	"pixel-relay/internal/model"
)

func testCreds() Resolver {
	return NewStaticResolver(map[string]Credentials{
		"default": {PixelID: "12345", AccessToken: "tok", TestEventCode: "TEST1"},
	})
}

func TestDispatchDelivers(t *testing.T) {
	var got envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/12345/events", r.URL.Path)
		require.Equal(t, "TEST1", r.URL.Query().Get("test_event_code"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"events_received":1}`))
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second, testCreds(), testOpts)
	evt := model.Event{
		Type:      model.EventAddToCart,
		Path:      "/product/widget-pro",
		IPAddress: "1.2.3.4",
		UserAgent: "Mozilla/5.0",
		TS:        1_700_000_000_000,
		Product:   &model.Product{ID: "p1", Name: "Widget", Price: 9.99, Currency: "USD"},
	}
	res := d.Dispatch(context.Background(), evt, httpx.HeaderMap{})

	require.True(t, res.Delivered)
	require.False(t, res.Skipped)
	require.NoError(t, res.Err)
	require.Equal(t, 1, res.EventsReceived)

	require.Equal(t, "tok", got.AccessToken)
	require.Len(t, got.Data, 1)
	require.Equal(t, "AddToCart", got.Data[0].EventName)
	require.InDelta(t, 9.99, *got.Data[0].CustomData.Value, 1e-9)
}

func TestDispatchSkipsWithoutCredentials(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second, NewStaticResolver(nil), testOpts)
	res := d.Dispatch(context.Background(), model.Event{Type: model.EventPageView}, httpx.HeaderMap{})

	require.True(t, res.Skipped)
	require.False(t, res.Delivered)
	require.NoError(t, res.Err)
	require.Zero(t, calls.Load())
}

func TestDispatchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid parameter"}}`))
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second, testCreds(), testOpts)
	res := d.Dispatch(context.Background(), model.Event{Type: model.EventPageView}, httpx.HeaderMap{})

	require.False(t, res.Delivered)
	require.Error(t, res.Err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestDispatchNetworkFailure(t *testing.T) {
	d := NewDispatcher("http://127.0.0.1:1", 200*time.Millisecond, testCreds(), testOpts)
	res := d.Dispatch(context.Background(), model.Event{Type: model.EventPageView}, httpx.HeaderMap{})

	require.False(t, res.Delivered)
	require.False(t, res.Skipped)
	require.Error(t, res.Err)
}

func TestDispatchNoTestEventCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.URL.RawQuery)
		w.Write([]byte(`{"events_received":1}`))
	}))
	defer srv.Close()

	creds := NewStaticResolver(map[string]Credentials{
		"default": {PixelID: "12345", AccessToken: "tok"},
	})
	d := NewDispatcher(srv.URL, time.Second, creds, testOpts)
	res := d.Dispatch(context.Background(), model.Event{Type: model.EventPageView}, httpx.HeaderMap{})
	require.True(t, res.Delivered)
}

func TestStaticResolverSlugFallback(t *testing.T) {
	r := NewStaticResolver(map[string]Credentials{
		"default":    {PixelID: "1", AccessToken: "a"},
		"widget-pro": {PixelID: "2", AccessToken: "b"},
	})

	creds, err := r.Resolve(context.Background(), "widget-pro")
	require.NoError(t, err)
	require.Equal(t, "2", creds.PixelID)

	creds, err = r.Resolve(context.Background(), "unknown-product")
	require.NoError(t, err)
	require.Equal(t, "1", creds.PixelID)
}

func TestHTTPResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/products/get-fb-credentials/widget-pro", r.URL.Path)
		w.Write([]byte(`{"pixel_id":"999","token":"remote-tok","test_code":"T9"}`))
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, time.Second)
	creds, err := r.Resolve(context.Background(), "widget-pro")
	require.NoError(t, err)
	require.Equal(t, Credentials{PixelID: "999", AccessToken: "remote-tok", TestEventCode: "T9"}, creds)
}

func TestHTTPResolverErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, time.Second)
	_, err := r.Resolve(context.Background(), "missing")
	require.Error(t, err)
}
