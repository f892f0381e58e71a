package vectorindex

import (
	"errors"
	"fmt"
)

// DimensionMismatchError is returned when the collection already exists with
// a vector size different from the one the active embedding model produces.
// Retrying cannot fix it: either the model or the collection has to change.
type DimensionMismatchError struct {
	Collection string
	Existing   int
	Requested  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf(
		"qdrant collection %q has vector size %d, expected %d: use a consistent embeddings model or recreate the collection",
		e.Collection, e.Existing, e.Requested,
	)
}

// IsDimensionMismatch reports whether err is, or wraps, a DimensionMismatchError.
func IsDimensionMismatch(err error) bool {
	var dm *DimensionMismatchError
	return errors.As(err, &dm)
}

// StatusError is a non-2xx answer from Qdrant.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("qdrant %s %s: http %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("qdrant %s %s: http %d: %s", e.Method, e.Path, e.Code, e.Body)
}

var ErrInvalidVector = errors.New("vectorindex: empty vector")
