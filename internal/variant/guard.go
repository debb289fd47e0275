package variant

import "strings"

// DefaultProcessedMarker is the token that identifies keys written by this
// worker (or by earlier pipeline stages) that must never be processed again.
const DefaultProcessedMarker = "processed-"

// Guard short-circuits events for objects that are already outputs.
// Matching is a plain substring check on the key; the bucket is ignored.
type Guard struct {
	marker string
}

// NewGuard creates a Guard for marker. An empty marker falls back to
// DefaultProcessedMarker so a misconfiguration cannot disable loop protection.
func NewGuard(marker string) *Guard {
	if marker == "" {
		marker = DefaultProcessedMarker
	}
	return &Guard{marker: marker}
}

// Marker returns the configured token.
func (g *Guard) Marker() string {
	return g.marker
}

// Skip reports whether key has already been processed.
func (g *Guard) Skip(key string) bool {
	return strings.Contains(key, g.marker)
}
