package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopResolver(t *testing.T) {
	loc, err := NopResolver{}.Resolve(context.Background(), "Ilica 10", "10000", "Zagreb")
	assert.NoError(t, err)
	assert.Nil(t, loc)
}

func TestHTTPResolver(t *testing.T) {
	t.Run("resolves best match", func(t *testing.T) {
		var gotQuery string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query().Get("q")
			fmt.Fprint(w, `{
				"features": [{
					"geometry": {"coordinates": [15.9819, 45.8150]},
					"properties": {"city": "Zagreb", "postcode": "10000"}
				}]
			}`)
		}))
		defer srv.Close()

		r := NewHTTPResolver(srv.URL)
		loc, err := r.Resolve(context.Background(), "Ilica 10", "10000", "Zagreb")
		require.NoError(t, err)
		require.NotNil(t, loc)

		assert.Equal(t, "Ilica 10, 10000, Zagreb", gotQuery)
		assert.InDelta(t, 45.8150, loc.Latitude, 0.0001)
		assert.InDelta(t, 15.9819, loc.Longitude, 0.0001)
		assert.Equal(t, "Zagreb", loc.City)
		assert.Equal(t, "10000", loc.PostalCode)
	})

	t.Run("no match returns nil without error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"features": []}`)
		}))
		defer srv.Close()

		r := NewHTTPResolver(srv.URL)
		loc, err := r.Resolve(context.Background(), "Nepostojeća 1", "", "")
		assert.NoError(t, err)
		assert.Nil(t, loc)
	})

	t.Run("server error propagates", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		r := NewHTTPResolver(srv.URL)
		_, err := r.Resolve(context.Background(), "Ilica 10", "10000", "Zagreb")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})
}
