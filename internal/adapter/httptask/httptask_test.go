package httptask

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFactorySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bar", r.Header.Get("X-Foo"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFactory(Config{
		URL:     srv.URL,
		Headers: map[string]string{"X-Foo": "bar"},
	})

	tsk := f.Create(1)
	result, err := tsk.Execute(t.Context())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.EqualValues(t, 2, result.ResponseBytes)
}

func TestFactoryServerErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFactory(Config{URL: srv.URL})
	result, err := f.Create(1).Execute(t.Context())
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, http.StatusInternalServerError, result.StatusCode)
}

func TestRegistryRequiresURL(t *testing.T) {
	_, err := NewRegistry().Factory("http", map[string]string{})
	require.Error(t, err)
}

func TestRegistryBuildsFactoryWithHeaders(t *testing.T) {
	factory, err := NewRegistry().Factory("http", map[string]string{
		"url":           "http://example.invalid",
		"method":        "POST",
		"header.Accept": "application/json",
	})
	require.NoError(t, err)
	require.NotNil(t, factory)
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	_, err := NewRegistry().Factory("grpc", map[string]string{"url": "x"})
	require.Error(t, err)
}
