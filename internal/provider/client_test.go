package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/any-hub/statuscat/internal/cache"
)

func TestClientFetchesByCode(t *testing.T) {
	var gotPath, gotUA string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-418"))
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.Client(), upstream.URL)
	require.NoError(t, err)

	body, err := client.Fetch(context.Background(), cache.Code("418"))
	require.NoError(t, err)
	require.Equal(t, "jpeg-418", string(body))
	require.Equal(t, "/418", gotPath)
	require.NotEmpty(t, gotUA)
}

func TestClientKeepsBasePath(t *testing.T) {
	client, err := NewClient(http.DefaultClient, "https://images.example.com/cats")
	require.NoError(t, err)
	require.Equal(t, "https://images.example.com/cats/200", client.URL(cache.Code("200")))
}

func TestClientReportsNoImage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.Client(), upstream.URL+"/")
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), cache.Code("999"))
	require.ErrorIs(t, err, ErrNoImage)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.Status)
}

func TestClientNetworkError(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	client, err := NewClient(http.DefaultClient, url)
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), cache.Code("200"))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNoImage), "network failure should not be reported as ErrNoImage")
}

func TestNewClientRejectsBadScheme(t *testing.T) {
	_, err := NewClient(http.DefaultClient, "ftp://http.cat/")
	require.Error(t, err)

	_, err = NewClient(nil, "https://http.cat/")
	require.Error(t, err)
}
