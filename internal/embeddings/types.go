package embeddings

import (
	"context"
	"errors"
	"strings"
)

// Status tells the caller which tier an Embed call ended in.
type Status int

const (
	// StatusOK means Vector holds a usable embedding.
	StatusOK Status = iota
	// StatusDisabled means no provider is configured. Semantic search is off.
	StatusDisabled
	// StatusUnavailable means a provider is configured but did not produce a
	// vector (network error, timeout, non-2xx, malformed or empty response).
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDisabled:
		return "disabled"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Embed call. Err is informational and only set
// for StatusUnavailable.
type Result struct {
	Vector []float32
	Status Status
	Err    error
}

// OK reports whether the result carries a vector.
func (r Result) OK() bool {
	return r.Status == StatusOK && len(r.Vector) > 0
}

var (
	ErrEmptyText      = errors.New("embeddings: empty text")
	ErrEmptyEmbedding = errors.New("embeddings: provider returned an empty vector")
)

// variant is one request/response shape a provider may speak. A Client tries
// its variants in order and moves on only when a variant's endpoint does not
// exist on the server.
type variant interface {
	name() string
	embed(ctx context.Context, text string) ([]float32, error)
}

// GameText builds the text that gets embedded for a game: the title, then a
// blank line and the summary when there is one.
func GameText(title, summary string) string {
	title = strings.TrimSpace(title)
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return title
	}
	if title == "" {
		return summary
	}
	return title + "\n\n" + summary
}
