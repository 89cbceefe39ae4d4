package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// CurrentCanonicalVersion defines the canonicalization format version.
// Increment when canonicalization logic changes to invalidate stale cache entries.
const CurrentCanonicalVersion = "v1"

// canonicalInput is the sole input to Digest hashing.
type canonicalInput struct {
	Version string `json:"version"`
	Shape   string `json:"shape"`
	Payload any    `json:"payload"`
}

// Digest returns a deterministic SHA-256 hex digest over a shape name and an
// input payload. Map keys are ordered and string leaves are normalized, so
// equivalent inputs produce identical digests regardless of construction.
func Digest(shape string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal digest payload: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("failed to normalize digest payload: %w", err)
	}

	// encoding/json writes map keys in sorted order.
	canonical, err := json.Marshal(canonicalInput{
		Version: CurrentCanonicalVersion,
		Shape:   shape,
		Payload: normalizeValue(generic),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical input: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CacheKey constructs the complete cache key.
// Uses hierarchical format {prefix}:{shape}:{digest}.
func CacheKey(prefix, shape, digest string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, shape, digest)
}

func normalizeValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = normalizeValue(elem)
		}
		return out
	case string:
		return normalizeText(v)
	default:
		return v
	}
}

// normalizeText trims surrounding whitespace and normalizes line endings.
// Interior whitespace is kept: transcripts are line oriented.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}
