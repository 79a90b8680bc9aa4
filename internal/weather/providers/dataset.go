package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-series/internal/weather"
)

// DefaultPathTemplate is where the upstream host publishes dataset snapshots.
const DefaultPathTemplate = "/data/{dataset}.json"

// maxPayloadBytes bounds a single dataset snapshot.
const maxPayloadBytes = 64 << 20

// DatasetSource implements weather.RemoteSource by downloading whole dataset
// snapshots over HTTP.
type DatasetSource struct {
	baseURL      string
	pathTemplate string
	httpCfg      HTTPClientConfig
	circuit      *gobreaker.CircuitBreaker
}

// DatasetSourceConfig configures a DatasetSource.
type DatasetSourceConfig struct {
	BaseURL string

	// PathTemplate is appended to BaseURL; "{dataset}" is replaced by the dataset name.
	PathTemplate string

	// MaxRetries is the number of extra attempts after a failed request.
	MaxRetries int
}

// NewDatasetSource creates a DatasetSource that issues requests with client.
func NewDatasetSource(client *http.Client, cfg DatasetSourceConfig) *DatasetSource {
	if cfg.PathTemplate == "" {
		cfg.PathTemplate = DefaultPathTemplate
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dataset-source",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &DatasetSource{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pathTemplate: cfg.PathTemplate,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      cfg.MaxRetries,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit: cb,
	}
}

// URL returns the snapshot location of dataset.
func (s *DatasetSource) URL(dataset string) string {
	return s.baseURL + strings.ReplaceAll(s.pathTemplate, "{dataset}", url.PathEscape(dataset))
}

// Fetch downloads and decodes the full dataset. Transport failures and non-2xx
// responses are *weather.NetworkError; malformed payloads are *weather.FormatError.
func (s *DatasetSource) Fetch(ctx context.Context, dataset string) ([]weather.Point, error) {
	u := s.URL(dataset)

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, s.httpCfg, s.circuit, buildRequest)
	if err != nil {
		return nil, &weather.NetworkError{Dataset: dataset, URL: u, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, &weather.NetworkError{Dataset: dataset, URL: u, Err: err}
	}
	if len(body) > maxPayloadBytes {
		return nil, &weather.FormatError{Dataset: dataset, Err: fmt.Errorf("payload exceeds %d bytes", maxPayloadBytes)}
	}

	points, err := DecodePoints(body)
	if err != nil {
		return nil, &weather.FormatError{Dataset: dataset, Err: err}
	}
	return points, nil
}
