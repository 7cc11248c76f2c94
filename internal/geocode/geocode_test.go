package geocode_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"resbac/internal/geocode"
	"resbac/internal/mocks"
	"resbac/internal/models"
	"resbac/internal/store"
)

func hereServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v1/revgeocode", r.URL.Path)
		assert.Equal(t, "14.5995,120.9842", r.URL.Query().Get("at"))
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

var manila = models.Coordinate{Lat: 14.5995, Lng: 120.9842}

func TestCacheHitSkipsNetwork(t *testing.T) {
	srv, hits := hereServer(t, http.StatusOK, `{"items":[{"address":{"label":"Ermita, Manila"}}]}`)
	s, err := store.Open(filepath.Join(t.TempDir(), "geo.db"), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	g := geocode.New(geocode.NewHere("secret", srv.URL), s.GeocodeCache("here"), zap.NewNop())
	ctx := context.Background()

	assert.Equal(t, "Ermita, Manila", g.Address(ctx, manila))
	assert.Equal(t, "Ermita, Manila", g.Address(ctx, manila))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFailureFallsBackWithoutCaching(t *testing.T) {
	srv, _ := hereServer(t, http.StatusOK, `{"items":[]}`)
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCache(ctrl)
	cache.EXPECT().Lookup(gomock.Any(), "14.5995,120.9842").Return("", false, nil)

	g := geocode.New(geocode.NewHere("secret", srv.URL), cache, zap.NewNop())
	assert.Equal(t, "14.5995, 120.9842", g.Address(context.Background(), manila))
}

func TestProviderErrorStatusFallsBack(t *testing.T) {
	srv, _ := hereServer(t, http.StatusUnauthorized, `{"error":"Unauthorized"}`)
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCache(ctrl)
	cache.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return("", false, nil)

	g := geocode.New(geocode.NewHere("secret", srv.URL), cache, zap.NewNop())
	assert.Equal(t, manila.Label(), g.Address(context.Background(), manila))
}

func TestCacheReadErrorStillResolves(t *testing.T) {
	srv, _ := hereServer(t, http.StatusOK, `{"items":[{"address":{"label":"Ermita, Manila"}}]}`)
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCache(ctrl)
	cache.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return("", false, errors.New("disk"))
	cache.EXPECT().Remember(gomock.Any(), "14.5995,120.9842", "Ermita, Manila").Return(nil)

	g := geocode.New(geocode.NewHere("secret", srv.URL), cache, zap.NewNop())
	assert.Equal(t, "Ermita, Manila", g.Address(context.Background(), manila))
}

func TestGoogleProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/maps/api/geocode/json", r.URL.Path)
		assert.Equal(t, "14.5995,120.9842", r.URL.Query().Get("latlng"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","results":[{"formatted_address":"Rizal Park, Ermita, Manila"}]}`))
	}))
	defer srv.Close()

	p, err := geocode.NewGoogle("AIzaTest", srv.URL)
	require.NoError(t, err)
	addr, err := p.Reverse(context.Background(), manila)
	require.NoError(t, err)
	assert.Equal(t, "Rizal Park, Ermita, Manila", addr)
}

func TestGoogleZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	}))
	defer srv.Close()

	p, err := geocode.NewGoogle("AIzaTest", srv.URL)
	require.NoError(t, err)
	g := geocode.New(p, nil, zap.NewNop())
	assert.Equal(t, manila.Label(), g.Address(context.Background(), manila))
}
