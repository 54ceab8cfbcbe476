package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	exists bool
	err    error
	calls  int
}

func (f *fakeChecker) ExistsByIP(_ context.Context, _ string) (bool, error) {
	f.calls++
	return f.exists, f.err
}

func newTestResolver(t *testing.T, handler http.HandlerFunc, checker VisitorChecker) (*Resolver, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewResolver(srv.URL, time.Second, checker), &calls
}

func TestResolveSkipsPrivateRanges(t *testing.T) {
	resolver, calls := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","country":"X"}`))
	}, &fakeChecker{})

	for _, ip := range []string{
		"", "0.0.0.0", "127.0.0.1", "127.255.0.1",
		"10.0.0.1", "192.168.1.50", "172.16.0.1", "172.200.1.1",
	} {
		loc := resolver.Resolve(context.Background(), ip)
		require.True(t, loc.IsZero(), "ip %q should not resolve", ip)
	}
	require.Zero(t, calls.Load(), "no external lookup for private addresses")
}

func TestResolveSkipsKnownIP(t *testing.T) {
	checker := &fakeChecker{exists: true}
	resolver, calls := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","country":"Finland"}`))
	}, checker)

	loc := resolver.Resolve(context.Background(), "93.184.216.34")
	require.True(t, loc.IsZero())
	require.Equal(t, 1, checker.calls)
	require.Zero(t, calls.Load())
}

func TestResolveSuccess(t *testing.T) {
	resolver, _ := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/json/93.184.216.34")
		require.Contains(t, r.URL.RawQuery, "fields=")
		w.Write([]byte(`{
			"status":"success","country":"Finland","regionName":"Uusimaa",
			"city":"Helsinki","district":"Kamppi","lat":60.1699,"lon":24.9384
		}`))
	}, &fakeChecker{})

	loc := resolver.Resolve(context.Background(), "93.184.216.34")
	require.NotNil(t, loc.Country)
	require.Equal(t, "Finland", *loc.Country)
	require.Equal(t, "Uusimaa", *loc.Region)
	require.Equal(t, "Helsinki", *loc.City)
	require.Equal(t, "Kamppi", *loc.District)
	require.InDelta(t, 60.1699, *loc.Latitude, 1e-6)
	require.InDelta(t, 24.9384, *loc.Longitude, 1e-6)
}

func TestResolveRegionNameFallsBackToRegion(t *testing.T) {
	resolver, _ := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","country":"Finland","region":"18"}`))
	}, &fakeChecker{})

	loc := resolver.Resolve(context.Background(), "93.184.216.34")
	require.NotNil(t, loc.Region)
	require.Equal(t, "18", *loc.Region)
}

func TestResolveFailuresDegradeToNull(t *testing.T) {
	t.Run("lookup status fail", func(t *testing.T) {
		resolver, _ := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
		}, &fakeChecker{})
		require.True(t, resolver.Resolve(context.Background(), "93.184.216.34").IsZero())
	})

	t.Run("http error", func(t *testing.T) {
		resolver, _ := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}, &fakeChecker{})
		require.True(t, resolver.Resolve(context.Background(), "93.184.216.34").IsZero())
	})

	t.Run("bad json", func(t *testing.T) {
		resolver, _ := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{not json`))
		}, &fakeChecker{})
		require.True(t, resolver.Resolve(context.Background(), "93.184.216.34").IsZero())
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		resolver := NewResolver("http://127.0.0.1:1", 200*time.Millisecond, &fakeChecker{})
		require.True(t, resolver.Resolve(context.Background(), "93.184.216.34").IsZero())
	})
}

func TestResolveStoreErrorStillLooksUp(t *testing.T) {
	checker := &fakeChecker{err: errors.New("db down")}
	resolver, calls := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","country":"Finland"}`))
	}, checker)

	loc := resolver.Resolve(context.Background(), "93.184.216.34")
	require.NotNil(t, loc.Country)
	require.Equal(t, int64(1), calls.Load())
}
