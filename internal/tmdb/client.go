// Package tmdb imports popular movies from The Movie Database.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

// GenreEntry is one row of the upstream genre table.
type GenreEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Record is one movie as returned by the popular listing.
type Record struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Overview     string  `json:"overview"`
	ReleaseDate  string  `json:"release_date"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int64   `json:"vote_count"`
	Popularity   float64 `json:"popularity"`
	Adult        bool    `json:"adult"`
	GenreIDs     []int64 `json:"genre_ids"`
	PosterPath   *string `json:"poster_path"`
	BackdropPath *string `json:"backdrop_path"`
}

// Source is the upstream the importer pulls from.
type Source interface {
	FetchGenres(ctx context.Context) ([]GenreEntry, error)
	FetchPopular(ctx context.Context, page int) ([]Record, error)
}

// ClientConfig configures Client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	RatePerSec float64
	Timeout    time.Duration
}

// Client implements Source over HTTP. Requests are rate limited and go
// through a circuit breaker so a failing upstream is not hammered.
type Client struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  zerolog.Logger
}

// NewClient constructs a client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse tmdb url: %w", err)
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger = logger.With().Str("component", "tmdb").Logger()

	return &Client{
		baseURL: parsed,
		apiKey:  cfg.APIKey,
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
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "tmdb",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("tmdb breaker state change")
			},
		}),
		logger: logger,
	}, nil
}

// FetchGenres returns the upstream genre table.
func (c *Client) FetchGenres(ctx context.Context) ([]GenreEntry, error) {
	var payload struct {
		Genres []GenreEntry `json:"genres"`
	}
	if err := c.get(ctx, "/genre/movie/list", nil, &payload); err != nil {
		return nil, fmt.Errorf("fetch genres: %w", err)
	}
	return payload.Genres, nil
}

// FetchPopular returns one page of the popular movie listing.
func (c *Client) FetchPopular(ctx context.Context, page int) ([]Record, error) {
	var payload struct {
		Page    int      `json:"page"`
		Results []Record `json:"results"`
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	if err := c.get(ctx, "/movie/popular", q, &payload); err != nil {
		return nil, fmt.Errorf("fetch popular page %d: %w", page, err)
	}
	return payload.Results, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	target := *c.baseURL
	target.Path = path.Join(target.Path, endpoint)
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	query.Set("language", "en-US")
	target.RawQuery = query.Encode()

	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			c.logger.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("unexpected tmdb status")
			return nil, fmt.Errorf("tmdb returned %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%v: %w", err, domain.ErrUpstream)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode tmdb response: %v: %w", err, domain.ErrUpstream)
	}
	return nil
}
