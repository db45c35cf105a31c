// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Blob is a raw config object as the UI layer would write it.
type Blob map[string]any

// ArmedBlob is enabled and always on.
func ArmedBlob() Blob {
	return Blob{"enabled": true, "alwaysOn": true}
}

// DisarmedBlob is disabled with nothing else active.
func DisarmedBlob() Blob {
	return Blob{
		"enabled":  false,
		"alwaysOn": true,
		"ruleGroups": map[string]any{
			"social": map[string]any{"enabled": false, "alwaysOn": true, "domains": []string{"example.com"}},
		},
	}
}

// SessionBlob is disabled but has a focus session running until now+d.
func SessionBlob(now time.Time, d time.Duration) Blob {
	return Blob{"enabled": false, "sessionUntilTs": now.Add(d).UnixMilli()}
}

// WriteBlob writes b to path atomically.
func WriteBlob(path string, b Blob) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return WriteRaw(path, data)
}

// WriteRaw writes raw bytes to path atomically.
func WriteRaw(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp := path + ".fixture.tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
