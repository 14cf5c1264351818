package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Request Construction Tests
// =============================================================================

func TestNewAppDefinition_CopiesProperties(t *testing.T) {
	props := map[string]string{"server.port": "8080"}
	def := NewAppDefinition("ticker", props)

	props["server.port"] = "9090"
	assert.Equal(t, "8080", def.Properties["server.port"])
}

func TestNewDeploymentRequest_CopiesProperties(t *testing.T) {
	def := NewAppDefinition("ticker", nil)
	props := map[string]string{"count": "2"}
	req := NewDeploymentRequest(def, "/opt/apps/ticker", props)

	props["count"] = "5"
	assert.Equal(t, "2", req.Properties["count"])
	assert.Equal(t, "/opt/apps/ticker", req.Artifact)
}

func TestDeploymentRequest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		request  DeploymentRequest
		expected error
	}{
		{
			name:     "valid",
			request:  NewDeploymentRequest(NewAppDefinition("ticker", nil), "/opt/apps/ticker", nil),
			expected: nil,
		},
		{
			name:     "missing name",
			request:  NewDeploymentRequest(NewAppDefinition("", nil), "/opt/apps/ticker", nil),
			expected: ErrMissingAppName,
		},
		{
			name:     "missing artifact",
			request:  NewDeploymentRequest(NewAppDefinition("ticker", nil), "", nil),
			expected: ErrMissingArtifact,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.expected == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.expected)
			}
		})
	}
}

// =============================================================================
// Identifier Tests
// =============================================================================

func TestNewDeploymentID_EmbedsSlugifiedName(t *testing.T) {
	id := NewDeploymentID("Ticker App")

	assert.True(t, strings.HasPrefix(id, "ticker-app-"))
	assert.Len(t, id, len("ticker-app-")+8)
}

func TestNewDeploymentID_Unique(t *testing.T) {
	id1 := NewDeploymentID("ticker")
	id2 := NewDeploymentID("ticker")

	assert.NotEqual(t, id1, id2)
}

func TestNewInstanceGUID_Unique(t *testing.T) {
	guid1 := NewInstanceGUID()
	guid2 := NewInstanceGUID()

	require.NotEmpty(t, guid1)
	assert.NotEqual(t, guid1, guid2)
}

func TestInstanceID(t *testing.T) {
	assert.Equal(t, "ticker-abc12345-0", InstanceID("ticker-abc12345", 0))
	assert.Equal(t, "ticker-abc12345-3", InstanceID("ticker-abc12345", 3))
}

// =============================================================================
// Status Tests
// =============================================================================

func TestUnknownStatus(t *testing.T) {
	status := UnknownStatus("never-deployed")

	assert.Equal(t, "never-deployed", status.DeploymentID)
	assert.Equal(t, StateUnknown, status.State)
	assert.Empty(t, status.Instances)
	assert.NotNil(t, status.Instances)
}
