package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/i474232898/weather-series/internal/weather"
)

// rawPoint is one element of a dataset payload: {"t": ..., "v": ...}.
type rawPoint struct {
	T json.RawMessage `json:"t"`
	V json.RawMessage `json:"v"`
}

// timestamp layouts accepted for string "t" values, most specific first.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

var errNotArray = errors.New("payload is not a JSON array")

// DecodePoints parses a dataset payload. "t" is either an ISO-8601 string or a
// number of milliseconds since the Unix epoch; "v" must be a number.
// Any malformed element fails the whole payload.
func DecodePoints(data []byte) ([]weather.Point, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errNotArray
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, err
	}

	points := make([]weather.Point, 0, len(raw))
	for i, elem := range raw {
		p, err := decodePoint(elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		points = append(points, p)
	}
	return points, nil
}

func decodePoint(elem json.RawMessage) (weather.Point, error) {
	trimmed := bytes.TrimSpace(elem)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return weather.Point{}, errors.New("not an object")
	}

	var rp rawPoint
	if err := json.Unmarshal(trimmed, &rp); err != nil {
		return weather.Point{}, err
	}
	if isNull(rp.T) {
		return weather.Point{}, errors.New(`missing "t"`)
	}
	if isNull(rp.V) {
		return weather.Point{}, errors.New(`missing "v"`)
	}

	ts, err := decodeTimestamp(rp.T)
	if err != nil {
		return weather.Point{}, err
	}
	// Year ranges start at year 1, so earlier points could never be queried.
	if ts.Year() < 1 {
		return weather.Point{}, fmt.Errorf(`invalid "t": %s is before year 1`, ts.Format(time.RFC3339))
	}

	var v float64
	if err := json.Unmarshal(rp.V, &v); err != nil {
		return weather.Point{}, fmt.Errorf(`invalid "v": %w`, err)
	}

	return weather.NewPoint(ts, v), nil
}

func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf(`invalid "t": %w`, err)
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf(`invalid "t": unrecognized timestamp %q`, s)
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf(`invalid "t": %w`, err)
	}
	if math.IsNaN(ms) || math.Abs(ms) > 8.64e15 {
		return time.Time{}, fmt.Errorf(`invalid "t": epoch milliseconds %v out of range`, ms)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
