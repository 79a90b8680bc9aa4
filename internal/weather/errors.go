package weather

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateTimestamp is returned by BulkInsert when a point's timestamp is
	// already stored for the dataset or repeated inside the batch.
	ErrDuplicateTimestamp = errors.New("duplicate timestamp")

	// ErrUnknownDataset is returned for dataset names the service does not serve.
	ErrUnknownDataset = errors.New("unknown dataset")

	// ErrInvalidDataset is returned for names that cannot be used as a table name.
	ErrInvalidDataset = errors.New("invalid dataset name")

	// ErrInvalidRange is returned for year ranges with a bound before year 1.
	ErrInvalidRange = errors.New("invalid year range")

	// ErrCanceled marks a query result that was discarded because a newer query
	// was submitted. It is never delivered to subscribers.
	ErrCanceled = errors.New("canceled by next query")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store closed")
)

// StoreError reports an I/O, schema or constraint failure in a Store.
type StoreError struct {
	Op      string
	Dataset string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Dataset == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Dataset, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NetworkError reports a transport failure or non-2xx response from the remote source.
type NetworkError struct {
	Dataset string
	URL     string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s from %s: %v", e.Dataset, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// FormatError reports a malformed remote payload.
type FormatError struct {
	Dataset string
	Err     error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Dataset, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// FetchError wraps any failure that happened while populating the cache.
type FetchError struct {
	Dataset string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("populate %s: %v", e.Dataset, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
