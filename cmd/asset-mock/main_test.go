package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/movie-catalog/internal/assets"
	"github.com/Clark-Hu/movie-catalog/internal/domain"
	"github.com/Clark-Hu/movie-catalog/internal/logging"
)

func startMock(t *testing.T, secret string) string {
	t.Helper()
	m := newMockStore("", secret, logging.Nop())
	srv := httptest.NewServer(m.routes())
	t.Cleanup(srv.Close)
	m.baseURL = srv.URL
	return srv.URL
}

func newClient(t *testing.T, baseURL, secret string) *assets.HTTPClient {
	t.Helper()
	client, err := assets.NewHTTPClient(assets.Config{
		BaseURL:   baseURL,
		CloudName: "demo",
		APIKey:    "key",
		APISecret: secret,
		Folder:    "ProfileImage",
		Timeout:   2 * time.Second,
	}, logging.Nop())
	require.NoError(t, err)
	return client
}

func TestMockRoundTrip(t *testing.T) {
	baseURL := startMock(t, "s3cret")
	client := newClient(t, baseURL, "s3cret")
	ctx := context.Background()

	ref, err := client.Upload(ctx, assets.File{Name: "poster.jpg", Content: []byte("image-bytes")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref.AssetID, "ProfileImage/"), ref.AssetID)
	assert.True(t, strings.HasPrefix(ref.URL, baseURL+"/demo/image/files/ProfileImage/"), ref.URL)

	resp, err := http.Get(ref.URL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image-bytes", string(body))

	result, err := client.Destroy(ctx, ref.AssetID)
	require.NoError(t, err)
	assert.Equal(t, assets.ResultOK, result)

	result, err = client.Destroy(ctx, ref.AssetID)
	require.NoError(t, err)
	assert.Equal(t, assets.ResultNotFound, result)
}

func TestMockRejectsBadSignature(t *testing.T) {
	baseURL := startMock(t, "s3cret")
	client := newClient(t, baseURL, "wrong")

	_, err := client.Upload(context.Background(), assets.File{Name: "poster.jpg", Content: []byte("x")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstream))
	assert.Contains(t, err.Error(), "Invalid Signature")
}
