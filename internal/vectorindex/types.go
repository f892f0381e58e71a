package vectorindex

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	DistanceCosine = "Cosine"

	// PayloadIDKey is the payload field holding the application game ID.
	PayloadIDKey = "id"
)

// envelope is the wrapper Qdrant puts around every response body.
type envelope[T any] struct {
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
	Result T               `json:"result"`
}

type vectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors vectorParams `json:"vectors"`
}

// collectionInfo keeps only the part of GET /collections/{name} we read.
// Vectors is raw because it is an object for single-vector collections and
// a map of named vectors otherwise.
type collectionInfo struct {
	Config struct {
		Params struct {
			Vectors json.RawMessage `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

// vectorSize returns the configured size of an unnamed-vector collection,
// or false if the response does not say.
func (ci collectionInfo) vectorSize() (int, bool) {
	raw := ci.Config.Params.Vectors
	if len(raw) == 0 {
		return 0, false
	}
	var single struct {
		Size *int `json:"size"`
	}
	if err := json.Unmarshal(raw, &single); err != nil || single.Size == nil {
		return 0, false
	}
	return *single.Size, true
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertPointsRequest struct {
	Points []point `json:"points"`
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type scoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

// storeID renders a point ID, which Qdrant returns as either a JSON string
// (UUID) or a JSON number.
func (p scoredPoint) storeID() string {
	raw := strings.TrimSpace(string(p.ID))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.ID, &s); err == nil {
		return s
	}
	var n uint64
	if err := json.Unmarshal(p.ID, &n); err == nil {
		return strconv.FormatUint(n, 10)
	}
	return raw
}

// gameID extracts the application ID from the payload.
func (p scoredPoint) gameID() (string, bool) {
	v, ok := p.Payload[PayloadIDKey]
	if !ok {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	default:
		return "", false
	}
}
