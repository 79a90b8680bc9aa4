package weather

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Well-known dataset names served by the upstream data host.
const (
	DatasetTemperature   = "temperature"
	DatasetPrecipitation = "precipitation"
)

// DefaultDatasets is the set of tables created when the store is opened.
var DefaultDatasets = []string{DatasetTemperature, DatasetPrecipitation}

var datasetNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidDatasetName reports whether name can be used as a table name by every store.
func ValidDatasetName(name string) bool {
	return datasetNameRE.MatchString(name)
}

// Point is a single measurement of a dataset.
// Timestamp is the store key: always UTC, millisecond precision.
type Point struct {
	Timestamp time.Time `json:"t"`
	Value     float64   `json:"v"`
}

// NewPoint normalizes ts to the precision the stores keep.
func NewPoint(ts time.Time, v float64) Point {
	return Point{Timestamp: ts.UTC().Truncate(time.Millisecond), Value: v}
}

// YearRange selects whole years, inclusive on both ends.
// A nil bound is unbounded on that side.
type YearRange struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

// Years returns the inclusive range [from, to].
func Years(from, to int) YearRange {
	return YearRange{From: &from, To: &to}
}

// Since returns a range starting at from with no upper bound.
func Since(from int) YearRange {
	return YearRange{From: &from}
}

// Until returns a range ending at to with no lower bound.
func Until(to int) YearRange {
	return YearRange{To: &to}
}

// AllYears is the unbounded range.
func AllYears() YearRange {
	return YearRange{}
}

// DateRange is the half-open interval [From, To) used for store scans.
// A zero bound is unbounded.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Dates converts the year range into store bounds: Jan 1 of From up to,
// but not including, Jan 1 of the year after To.
func (r YearRange) Dates() DateRange {
	var dr DateRange
	if r.From != nil {
		dr.From = time.Date(*r.From, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if r.To != nil {
		dr.To = time.Date(*r.To+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return dr
}

// Validate rejects bounds before year 1. Such a bound would map to the zero
// time, which the stores read as unbounded.
func (r YearRange) Validate() error {
	if (r.From != nil && *r.From < 1) || (r.To != nil && *r.To < 1) {
		return fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	return nil
}

func (r YearRange) String() string {
	return yearString(r.From) + ".." + yearString(r.To)
}

func yearString(y *int) string {
	if y == nil {
		return "*"
	}
	return strconv.Itoa(*y)
}

// Query is one submission to a Supervisor.
type Query struct {
	ID      uint64    `json:"id"`
	Dataset string    `json:"dataset"`
	Range   YearRange `json:"range"`
}
