package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// fingerprintDomain separates plan hashes from any other sha256 use.
const fingerprintDomain = "strata/plan/v1"

// fingerprint hashes the ordered steps with their contracts and resolved
// configuration, and the run settings. A step's strategy is part of its
// configuration document.
func fingerprint(steps []PlannedStep, settings RunSettings) (string, error) {
	doc := map[string]any{
		"steps":    stepsDocument(steps),
		"settings": settingsDocument(settings),
	}

	canonical, err := marshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("fingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(fingerprintDomain, canonical), nil
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func stepsDocument(steps []PlannedStep) []any {
	out := make([]any, len(steps))
	for i, s := range steps {
		out[i] = map[string]any{
			"id":       s.ID,
			"phase":    s.Phase,
			"requires": s.Requires,
			"provides": s.Provides,
			"config":   s.Config.Document(),
		}
	}
	return out
}

func settingsDocument(s RunSettings) map[string]any {
	verbosity := make(map[string]any, len(s.Trace.Steps))
	for id, v := range s.Trace.Steps {
		verbosity[id] = string(v)
	}
	return map[string]any{
		"seed": s.Seed,
		"dimensions": map[string]any{
			"width":  s.Dimensions.Width,
			"height": s.Dimensions.Height,
		},
		"latitudeBounds": map[string]any{
			"top":    s.LatitudeBounds.Top,
			"bottom": s.LatitudeBounds.Bottom,
		},
		"wrap": map[string]any{
			"x": s.Wrap.X,
			"y": s.Wrap.Y,
		},
		"trace": map[string]any{
			"steps": verbosity,
		},
	}
}
