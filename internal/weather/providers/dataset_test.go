package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-series/internal/weather"
)

func TestDatasetSourceFetch(t *testing.T) {
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"t":"2020-03-01T00:00:00.000Z","v":5},{"t":"2020-06-01","v":20}]`))
	}))
	defer srv.Close()

	src := NewDatasetSource(srv.Client(), DatasetSourceConfig{BaseURL: srv.URL + "/"})
	points, err := src.Fetch(context.Background(), weather.DatasetTemperature)
	require.NoError(t, err)

	assert.Equal(t, "/data/temperature.json", <-paths)
	assert.Equal(t, []weather.Point{
		{Timestamp: time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC), Value: 5},
		{Timestamp: time.Date(2020, time.June, 1, 0, 0, 0, 0, time.UTC), Value: 20},
	}, points)
}

func TestDatasetSourceCustomPath(t *testing.T) {
	src := NewDatasetSource(http.DefaultClient, DatasetSourceConfig{
		BaseURL:      "https://example.org/archive",
		PathTemplate: "/series/{dataset}?format=json",
	})
	assert.Equal(t, "https://example.org/archive/series/precipitation?format=json", src.URL(weather.DatasetPrecipitation))
}

func TestDatasetSourceNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	src := NewDatasetSource(srv.Client(), DatasetSourceConfig{BaseURL: srv.URL})
	_, err := src.Fetch(context.Background(), "humidity")

	var netErr *weather.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "humidity", netErr.Dataset)
	assert.ErrorIs(t, err, errUnexpected)
}

func TestDatasetSourceUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	src := NewDatasetSource(&http.Client{Timeout: time.Second}, DatasetSourceConfig{BaseURL: url})
	_, err := src.Fetch(context.Background(), weather.DatasetTemperature)

	var netErr *weather.NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestDatasetSourceFormatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"t":"2020-01-01","v":1}`))
	}))
	defer srv.Close()

	src := NewDatasetSource(srv.Client(), DatasetSourceConfig{BaseURL: srv.URL})
	_, err := src.Fetch(context.Background(), weather.DatasetTemperature)

	var formatErr *weather.FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.ErrorIs(t, err, errNotArray)
}

func TestDatasetSourceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"t":0,"v":1.5}]`))
	}))
	defer srv.Close()

	src := NewDatasetSource(srv.Client(), DatasetSourceConfig{BaseURL: srv.URL, MaxRetries: 1})
	points, err := src.Fetch(context.Background(), weather.DatasetTemperature)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []weather.Point{{Timestamp: time.Unix(0, 0).UTC(), Value: 1.5}}, points)
}

func TestDatasetSourceNoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewDatasetSource(srv.Client(), DatasetSourceConfig{BaseURL: srv.URL})
	_, err := src.Fetch(context.Background(), weather.DatasetTemperature)
	require.ErrorIs(t, err, errServerError)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDecodePoints(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []weather.Point
		wantErr bool
	}{
		{
			name:    "empty array",
			payload: `[]`,
			want:    []weather.Point{},
		},
		{
			name:    "iso and epoch timestamps",
			payload: ` [{"t":"1881-01-01","v":-22.2},{"t":-2808518400000,"v":3},{"t":"2001-02-03T04:05:06+02:00","v":0}]`,
			want: []weather.Point{
				{Timestamp: time.Date(1881, 1, 1, 0, 0, 0, 0, time.UTC), Value: -22.2},
				{Timestamp: time.Date(1881, 1, 1, 0, 0, 0, 0, time.UTC), Value: 3},
				{Timestamp: time.Date(2001, 2, 3, 2, 5, 6, 0, time.UTC), Value: 0},
			},
		},
		{name: "object payload", payload: `{"data":[]}`, wantErr: true},
		{name: "missing t", payload: `[{"v":1}]`, wantErr: true},
		{name: "missing v", payload: `[{"t":"2020-01-01"}]`, wantErr: true},
		{name: "null v", payload: `[{"t":"2020-01-01","v":null}]`, wantErr: true},
		{name: "string v", payload: `[{"t":"2020-01-01","v":"1"}]`, wantErr: true},
		{name: "bad date", payload: `[{"t":"yesterday","v":1}]`, wantErr: true},
		{name: "scalar element", payload: `[1,2]`, wantErr: true},
		{name: "year zero", payload: `[{"t":"0000-06-01","v":1}]`, wantErr: true},
		{name: "epoch before year one", payload: `[{"t":-62167219200000,"v":1}]`, wantErr: true},
		{name: "truncated", payload: `[{"t":"2020-01-01","v":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePoints([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
