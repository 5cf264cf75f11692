package catalog

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileCatalog is the on-disk YAML shape of a catalog.
type fileCatalog struct {
	Revision     int           `yaml:"revision"`
	Upgrades     []Upgrade     `yaml:"upgrades"`
	Achievements []Achievement `yaml:"achievements"`
}

// Parse decodes a YAML catalog. Unknown keys are rejected so that typos in
// balance files surface at startup.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var fc fileCatalog
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return New(fc.Revision, fc.Upgrades, fc.Achievements)
}

// LoadFile reads and parses a YAML catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}
