package artifacts

import (
	"encoding/json"
	"fmt"
	"time"
)

// Manifest summarises one training run. Extra keys are written alongside the
// fixed fields at the top level of manifest.json.
type Manifest struct {
	CreatedAt time.Time      `json:"createdAt"`
	Metrics   map[string]any `json:"metrics"`
	Extra     map[string]any `json:"-"`
	Version   string         `json:"version"`
	DataHash  string         `json:"dataHash"`
}

var reservedManifestKeys = map[string]bool{
	"version":   true,
	"createdAt": true,
	"dataHash":  true,
	"metrics":   true,
}

// MarshalJSON flattens Extra into the top-level object.
func (m Manifest) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+len(reservedManifestKeys))
	for k, v := range m.Extra {
		if reservedManifestKeys[k] {
			return nil, fmt.Errorf("manifest extra key %q is reserved", k)
		}
		out[k] = v
	}
	out["version"] = m.Version
	out["createdAt"] = m.CreatedAt
	out["dataHash"] = m.DataHash
	out["metrics"] = m.Metrics
	return json.Marshal(out)
}

// UnmarshalJSON collects unknown top-level keys into Extra.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var fixed struct {
		CreatedAt time.Time      `json:"createdAt"`
		Metrics   map[string]any `json:"metrics"`
		Version   string         `json:"version"`
		DataHash  string         `json:"dataHash"`
	}
	if err := json.Unmarshal(data, &fixed); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	extra := make(map[string]any)
	for k, v := range raw {
		if reservedManifestKeys[k] {
			continue
		}
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			return fmt.Errorf("manifest key %q: %w", k, err)
		}
		extra[k] = value
	}

	m.Version = fixed.Version
	m.CreatedAt = fixed.CreatedAt
	m.DataHash = fixed.DataHash
	m.Metrics = fixed.Metrics
	m.Extra = nil
	if len(extra) > 0 {
		m.Extra = extra
	}
	return nil
}

// MetricFloat returns a numeric metric, or false when it is missing or not a number.
func (m *Manifest) MetricFloat(key string) (float64, bool) {
	v, ok := m.Metrics[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
