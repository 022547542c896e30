package predictor

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadSchema reads a JSON array of feature names.
func LoadSchema(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}

	var names []string
	if err = json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode features %q: %w", path, err)
	}

	return names, nil
}

// SaveSchema writes feature names as a JSON array.
func SaveSchema(path string, names []string) error {
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}

	if err = os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write features: %w", err)
	}

	return nil
}
