package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/fulfillment/internal/model"
)

const (
	specDNS      = "6f1c2d1e-3b8a-4a57-9a43-0c6e9d1b2a01"
	specDatabase = "0a9e4c7b-51d2-4f0e-8b3c-7d2e1f6a5b02"
	specWebsite  = "c3d4e5f6-a7b8-4c9d-8e0f-1a2b3c4d5e03"
)

func TestParseDependencyCatalog(t *testing.T) {
	doc := `
dependencies:
  - spec: ` + specWebsite + `
    depends_on: ` + specDNS + `
    required: true
  - spec: ` + specWebsite + `
    depends_on: ` + specDatabase + `
    type: REQUIRES_CONFIGURED
`
	deps, err := ParseDependencyCatalog([]byte(doc))
	require.NoError(t, err)
	require.Len(t, deps, 2)

	assert.Equal(t, uuid.MustParse(specWebsite), deps[0].SpecID)
	assert.Equal(t, uuid.MustParse(specDNS), deps[0].DependsOnSpecID)
	assert.Equal(t, model.DependencyRequiresActive, deps[0].Type)
	assert.True(t, deps[0].Required)
	assert.Equal(t, model.DependencyRequiresConfigured, deps[1].Type)
	assert.False(t, deps[1].Required)
}

func TestParseDependencyCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"self dependency": "dependencies:\n  - spec: " + specDNS + "\n    depends_on: " + specDNS + "\n",
		"missing target":  "dependencies:\n  - spec: " + specDNS + "\n",
		"unknown type":    "dependencies:\n  - spec: " + specDNS + "\n    depends_on: " + specWebsite + "\n    type: SOMETIMES\n",
		"bad uuid":        "dependencies:\n  - spec: dns\n    depends_on: " + specWebsite + "\n",
		"not yaml":        "dependencies: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDependencyCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadDependencyCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := "dependencies:\n  - spec: " + specWebsite + "\n    depends_on: " + specDNS + "\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	deps, err := LoadDependencyCatalog(path)
	require.NoError(t, err)
	assert.Len(t, deps, 1)

	_, err = LoadDependencyCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read dependency catalog")
}
