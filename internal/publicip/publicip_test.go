package publicip

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchParsesIpifyJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":"203.0.113.55"}`))
	}))
	defer srv.Close()

	c := New()
	ip, err := c.fetch(srv.URL)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.55", ip.String())
}

func TestFetchRejectsInvalidIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":"not-an-ip"}`))
	}))
	defer srv.Close()

	c := New()
	_, err := c.fetch(srv.URL)
	require.Error(t, err)
}

func TestFetchRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New()
	_, err := c.fetch(srv.URL)
	require.Error(t, err)
}
