// Package assets talks to the image host that stores poster and backdrop
// images. The wire protocol is the Cloudinary upload API: signed multipart
// uploads and signed destroy calls keyed by public id.
package assets

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

// Destroy results reported by the image host.
const (
	ResultOK       = "ok"
	ResultNotFound = "not found"
)

// File is an uploaded image as received from a client.
type File struct {
	Name    string
	Content []byte
}

// Store is the contract the catalog relies on.
type Store interface {
	Upload(ctx context.Context, file File) (domain.ImageRef, error)
	Destroy(ctx context.Context, assetID string) (string, error)
}

// Config carries the credential triplet and endpoint.
type Config struct {
	BaseURL   string
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	Timeout   time.Duration
}

// HTTPClient implements Store over the image host's REST API.
type HTTPClient struct {
	baseURL *url.URL
	cfg     Config
	client  *http.Client
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// NewHTTPClient constructs a client for the configured cloud.
func NewHTTPClient(cfg Config, logger zerolog.Logger) (*HTTPClient, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("asset store credentials are incomplete: %w", domain.ErrInvalid)
	}
	parsed, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse asset store url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: parsed,
		cfg:     cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   cfg.Timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   cfg.Timeout,
				ResponseHeaderTimeout: cfg.Timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		logger: logger.With().Str("component", "assets").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// Upload stores the image under a fresh public id inside the configured folder.
func (c *HTTPClient) Upload(ctx context.Context, file File) (domain.ImageRef, error) {
	if len(file.Content) == 0 {
		return domain.ImageRef{}, fmt.Errorf("invalid file or file buffer is missing: %w", domain.ErrInvalid)
	}

	params := map[string]string{
		"public_id": c.newID(),
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	if c.cfg.Folder != "" {
		params["folder"] = c.cfg.Folder
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range params {
		if err := writer.WriteField(key, value); err != nil {
			return domain.ImageRef{}, err
		}
	}
	if err := writer.WriteField("api_key", c.cfg.APIKey); err != nil {
		return domain.ImageRef{}, err
	}
	if err := writer.WriteField("signature", Sign(params, c.cfg.APISecret)); err != nil {
		return domain.ImageRef{}, err
	}
	name := file.Name
	if name == "" {
		name = "upload"
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return domain.ImageRef{}, err
	}
	if _, err := part.Write(file.Content); err != nil {
		return domain.ImageRef{}, err
	}
	if err := writer.Close(); err != nil {
		return domain.ImageRef{}, err
	}

	var payload uploadResponse
	if err := c.post(ctx, "upload", writer.FormDataContentType(), body, &payload); err != nil {
		return domain.ImageRef{}, fmt.Errorf("image upload failed: %w", err)
	}
	if payload.SecureURL == "" || payload.PublicID == "" {
		return domain.ImageRef{}, fmt.Errorf("image upload failed: empty response: %w", domain.ErrUpstream)
	}
	return domain.ImageRef{URL: payload.SecureURL, AssetID: payload.PublicID}, nil
}

// Destroy removes an asset. The host's result string is returned as is.
func (c *HTTPClient) Destroy(ctx context.Context, assetID string) (string, error) {
	if assetID == "" {
		return "", fmt.Errorf("public id is required to delete an image: %w", domain.ErrInvalid)
	}

	params := map[string]string{
		"public_id": assetID,
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	form := url.Values{}
	for key, value := range params {
		form.Set(key, value)
	}
	form.Set("api_key", c.cfg.APIKey)
	form.Set("signature", Sign(params, c.cfg.APISecret))

	var payload destroyResponse
	if err := c.post(ctx, "destroy", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &payload); err != nil {
		return "", fmt.Errorf("image deletion failed: %w", err)
	}
	return payload.Result, nil
}

func (c *HTTPClient) post(ctx context.Context, action, contentType string, body io.Reader, out interface{}) error {
	endpoint := *c.baseURL
	endpoint.Path = path.Join(endpoint.Path, c.cfg.CloudName, "image", action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrUpstream)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		c.logger.Warn().Int("status", resp.StatusCode).Str("action", action).Str("message", apiErr.Error.Message).
			Msg("unexpected asset store status")
		return fmt.Errorf("asset store returned %d %s: %w", resp.StatusCode, apiErr.Error.Message, domain.ErrUpstream)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode asset store response: %v: %w", err, domain.ErrUpstream)
	}
	return nil
}

// Sign computes the request signature: the sorted key=value pairs joined by
// '&', followed by the secret, hashed with SHA-1.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
}

type destroyResponse struct {
	Result string `json:"result"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Disabled is the Store used when no credentials are configured. Every call
// fails with ErrUpstream, except Destroy with an empty id which is ErrInvalid.
type Disabled struct{}

func (Disabled) Upload(context.Context, File) (domain.ImageRef, error) {
	return domain.ImageRef{}, fmt.Errorf("asset store not configured: %w", domain.ErrUpstream)
}

func (Disabled) Destroy(_ context.Context, assetID string) (string, error) {
	if assetID == "" {
		return "", fmt.Errorf("public id is required to delete an image: %w", domain.ErrInvalid)
	}
	return "", fmt.Errorf("asset store not configured: %w", domain.ErrUpstream)
}
