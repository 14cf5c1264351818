package manifest

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/artpar/slipway/internal/core/domain"
	"github.com/artpar/slipway/internal/core/props"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Manifest Types
// =============================================================================

// App is one entry in the startup manifest.
type App struct {
	// Name is the application name. Required.
	Name string `yaml:"name"`

	// Artifact is the path of the executable or jar to launch. Required.
	Artifact string `yaml:"artifact"`

	// Properties are application-level properties passed through to the
	// child process.
	Properties map[string]string `yaml:"properties"`

	// Deployment holds deployer-level properties (count, probe paths, debug
	// settings) in any spelling the deployer accepts.
	Deployment map[string]string `yaml:"deployment"`

	// Count is shorthand for the count deployment property. When both are
	// present the shorthand wins. Zero means unset.
	Count int `yaml:"count"`
}

// Manifest is a parsed startup manifest.
type Manifest struct {
	Apps []App `yaml:"apps"`
}

// =============================================================================
// Parsing
// =============================================================================

// Parse parses manifest YAML. This is a pure function - no I/O, no side
// effects.
func Parse(content []byte) (*Manifest, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrEmptyManifest
	}

	var m Manifest
	if err := yaml.Unmarshal(content, &m); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	if len(m.Apps) == 0 {
		return nil, ErrNoApps
	}

	for i, app := range m.Apps {
		if err := validateApp(i, app); err != nil {
			return nil, err
		}
	}

	return &m, nil
}

// Load reads the manifest at path and parses it.
func Load(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

func validateApp(index int, app App) error {
	field := func(name string) string {
		return fmt.Sprintf("apps[%d].%s", index, name)
	}
	if strings.TrimSpace(app.Name) == "" {
		return NewParseError(field("name"), "app name is required", ErrMissingName)
	}
	if strings.TrimSpace(app.Artifact) == "" {
		return NewParseError(field("artifact"), "artifact path is required", ErrMissingArtifact)
	}
	if app.Count < 0 {
		return NewParseError(field("count"), fmt.Sprintf("count %d is negative", app.Count), ErrInvalidCount)
	}
	return nil
}

// =============================================================================
// Request Conversion
// =============================================================================

// Request converts one manifest entry into a deployment request.
func (a App) Request() domain.DeploymentRequest {
	deployment := make(map[string]string, len(a.Deployment)+1)
	for k, v := range a.Deployment {
		deployment[k] = v
	}
	if a.Count > 0 {
		// Canonical spelling, so it shadows any alias in the map.
		deployment[props.KeyCount] = strconv.Itoa(a.Count)
	}
	return domain.NewDeploymentRequest(
		domain.NewAppDefinition(a.Name, a.Properties),
		a.Artifact,
		deployment,
	)
}

// Requests converts the whole manifest into deployment requests, in file
// order.
func (m *Manifest) Requests() []domain.DeploymentRequest {
	requests := make([]domain.DeploymentRequest, 0, len(m.Apps))
	for _, app := range m.Apps {
		requests = append(requests, app.Request())
	}
	return requests
}
