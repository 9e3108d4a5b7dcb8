package app

import (
	"encoding/json"
	"fmt"
	"os"

	"meter-determinants/internal/engine"
)

// LoadInputPack reads a neutral JSON input pack: interval series, stated
// billing records, optional explicit cycles and observed TOU values, and the
// rate context. Format-specific utility-export parsing lives upstream of this
// tool; the pack is already in engine shape.
func LoadInputPack(path string) (engine.Input, error) {
	var input engine.Input

	if path == "" {
		return input, fmt.Errorf("input path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return input, fmt.Errorf("read input pack: %w", err)
	}

	if err := json.Unmarshal(data, &input); err != nil {
		return input, fmt.Errorf("decode input pack: %w", err)
	}

	if len(input.Series) == 0 {
		return input, fmt.Errorf("input pack contains no interval series")
	}
	for i, s := range input.Series {
		if s.MeterID == "" {
			return input, fmt.Errorf("series %d has no meter id", i)
		}
	}

	return input, nil
}
