package resolver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadOverrides reads an override file mapping stop id to {route id: platform} and
// returns the union of the tables for the given seed stops. A missing file yields
// an empty table. The file may be JSON or YAML.
func LoadOverrides(path string, seeds []string) (OverrideTable, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return OverrideTable{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}
	return ParseOverrides(data, seeds)
}

// ParseOverrides decodes an override document; later seeds win on conflicting routes
func ParseOverrides(data []byte, seeds []string) (OverrideTable, error) {
	var byStop map[string]map[string]string
	if err := yaml.Unmarshal(data, &byStop); err != nil {
		return nil, fmt.Errorf("failed to parse overrides: %w", err)
	}

	table := OverrideTable{}
	for _, seed := range seeds {
		for routeID, platform := range byStop[seed] {
			table[routeID] = platform
		}
	}
	return table, nil
}
