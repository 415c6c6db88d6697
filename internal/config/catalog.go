package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/edvin/fulfillment/internal/model"
)

// Catalog is the YAML document listing specification dependencies:
//
//	dependencies:
//	  - spec: 6f1c...
//	    depends_on: 0a9e...
//	    type: REQUIRES_ACTIVE
//	    required: true
type Catalog struct {
	Dependencies []model.SpecDependency `yaml:"dependencies"`
}

// LoadDependencyCatalog reads and validates the catalog at path. A missing
// type defaults to REQUIRES_ACTIVE.
func LoadDependencyCatalog(path string) ([]model.SpecDependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dependency catalog: %w", err)
	}
	return ParseDependencyCatalog(data)
}

// ParseDependencyCatalog parses and validates a YAML catalog document.
func ParseDependencyCatalog(data []byte) ([]model.SpecDependency, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse dependency catalog: %w", err)
	}

	var errs []error
	for i := range catalog.Dependencies {
		d := &catalog.Dependencies[i]
		if d.Type == "" {
			d.Type = model.DependencyRequiresActive
		}
		switch {
		case d.SpecID == uuid.Nil || d.DependsOnSpecID == uuid.Nil:
			errs = append(errs, fmt.Errorf("entry %d: spec and depends_on are required", i))
		case d.SpecID == d.DependsOnSpecID:
			errs = append(errs, fmt.Errorf("entry %d: %s depends on itself", i, d.SpecID))
		case !d.Type.Valid():
			errs = append(errs, fmt.Errorf("entry %d: unknown dependency type %q", i, d.Type))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid dependency catalog: %w", err)
	}
	return catalog.Dependencies, nil
}
