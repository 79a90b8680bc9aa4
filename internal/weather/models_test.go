package weather_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/i474232898/weather-series/internal/weather"
)

func TestYearRangeDates(t *testing.T) {
	tests := []struct {
		name  string
		years weather.YearRange
		want  weather.DateRange
	}{
		{
			name:  "closed",
			years: weather.Years(2003, 2005),
			want:  weather.DateRange{From: day(2003, 1, 1), To: day(2006, 1, 1)},
		},
		{
			name:  "single year",
			years: weather.Years(1881, 1881),
			want:  weather.DateRange{From: day(1881, 1, 1), To: day(1882, 1, 1)},
		},
		{
			name:  "open end",
			years: weather.Since(2010),
			want:  weather.DateRange{From: day(2010, 1, 1)},
		},
		{
			name:  "open start",
			years: weather.Until(1999),
			want:  weather.DateRange{To: day(2000, 1, 1)},
		},
		{
			name:  "unbounded",
			years: weather.AllYears(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.years.Dates())
		})
	}
}

func TestYearRangeValidate(t *testing.T) {
	for _, r := range []weather.YearRange{
		weather.Years(1, 1),
		weather.Years(2003, 2005),
		weather.Since(1),
		weather.Until(9999),
		weather.AllYears(),
	} {
		assert.NoError(t, r.Validate(), r.String())
	}

	for _, r := range []weather.YearRange{
		weather.Until(0),
		weather.Since(0),
		weather.Since(-5),
		weather.Years(0, 2000),
		weather.Years(2000, -1),
	} {
		assert.ErrorIs(t, r.Validate(), weather.ErrInvalidRange, r.String())
	}
}

func TestYearRangeString(t *testing.T) {
	assert.Equal(t, "2003..2005", weather.Years(2003, 2005).String())
	assert.Equal(t, "2010..*", weather.Since(2010).String())
	assert.Equal(t, "*..1999", weather.Until(1999).String())
	assert.Equal(t, "*..*", weather.AllYears().String())
}

func TestNewPointNormalizes(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	p := weather.NewPoint(time.Date(2020, 1, 1, 1, 0, 0, 123456789, loc), 1)

	assert.Equal(t, time.UTC, p.Timestamp.Location())
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 123e6, time.UTC), p.Timestamp)
}

func TestValidDatasetName(t *testing.T) {
	for _, name := range []string{"temperature", "precipitation", "wind_speed_10m", "a"} {
		assert.True(t, weather.ValidDatasetName(name), name)
	}
	for _, name := range []string{"", "Temperature", "1st", "rain-fall", "drop table", "a/b"} {
		assert.False(t, weather.ValidDatasetName(name), name)
	}
}
