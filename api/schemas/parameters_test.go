// api/schemas/parameters_test.go
package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidateParams covers the per-action parameter contracts: required
// fields, types, enums, sign constraints and unknown key rejection.
func TestValidateParams(t *testing.T) {
	tests := []struct {
		name    string
		req     ActionRequest
		wantErr string
	}{
		{
			name: "valid move-pointer",
			req:  ActionRequest{Name: ActionMovePointer, Params: map[string]any{"x": 10, "y": 20}},
		},
		{
			name: "move-pointer with JSON numbers",
			req:  ActionRequest{Name: ActionMovePointer, Params: map[string]any{"x": float64(10), "y": float64(20)}},
		},
		{
			name:    "move-pointer missing coordinate",
			req:     ActionRequest{Name: ActionMovePointer, Params: map[string]any{"x": 10}},
			wantErr: `missing required parameter "y"`,
		},
		{
			name:    "move-pointer negative coordinate",
			req:     ActionRequest{Name: ActionMovePointer, Params: map[string]any{"x": -1, "y": 0}},
			wantErr: `must be non-negative`,
		},
		{
			name:    "move-pointer fractional coordinate",
			req:     ActionRequest{Name: ActionMovePointer, Params: map[string]any{"x": 1.5, "y": 0}},
			wantErr: `must be an integer`,
		},
		{
			name: "click with no params",
			req:  ActionRequest{Name: ActionClick},
		},
		{
			name: "click with valid button",
			req:  ActionRequest{Name: ActionClick, Params: map[string]any{"button": "right", "double": true}},
		},
		{
			name:    "click with unknown button",
			req:     ActionRequest{Name: ActionClick, Params: map[string]any{"button": "side"}},
			wantErr: `must be one of`,
		},
		{
			name:    "click with string double flag",
			req:     ActionRequest{Name: ActionClick, Params: map[string]any{"double": "yes"}},
			wantErr: `must be a boolean`,
		},
		{
			name:    "unknown parameter rejected",
			req:     ActionRequest{Name: ActionTypeText, Params: map[string]any{"text": "hi", "speed": 3}},
			wantErr: `parameter "speed" is not accepted`,
		},
		{
			name:    "type-text with numeric text",
			req:     ActionRequest{Name: ActionTypeText, Params: map[string]any{"text": 42}},
			wantErr: `must be a string`,
		},
		{
			name: "run-command with timeout",
			req:  ActionRequest{Name: ActionRunCommand, Params: map[string]any{"command": "ls", "timeout": 30}},
		},
		{
			name:    "run-command missing command",
			req:     ActionRequest{Name: ActionRunCommand, Params: map[string]any{"cwd": "/tmp"}},
			wantErr: `missing required parameter "command"`,
		},
		{
			name: "capture-screen takes nothing",
			req:  ActionRequest{Name: ActionCaptureScreen},
		},
		{
			name:    "capture-screen rejects extras",
			req:     ActionRequest{Name: ActionCaptureScreen, Params: map[string]any{"format": "png"}},
			wantErr: `is not accepted`,
		},
		{
			name:    "unknown action",
			req:     ActionRequest{Name: "open-browser"},
			wantErr: `unknown action`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams(&tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestActionCatalog_CoversVocabulary verifies every declared action name has
// a published spec and the catalog copy is isolated from the internal slice.
func TestActionCatalog_CoversVocabulary(t *testing.T) {
	names := []ActionName{
		ActionMovePointer, ActionClick, ActionKeyPress, ActionTypeText,
		ActionReadFile, ActionWriteFile, ActionRunCommand, ActionCaptureScreen,
	}

	catalog := ActionCatalog()
	require.Len(t, catalog, len(names))

	for _, name := range names {
		spec, ok := SpecFor(name)
		require.True(t, ok, "missing spec for %s", name)
		assert.Equal(t, name, spec.Name)
		assert.NotEmpty(t, spec.Description)
	}

	// Mutating the returned slice must not leak into later calls.
	catalog[0].Name = "tampered"
	fresh := ActionCatalog()
	assert.Equal(t, ActionMovePointer, fresh[0].Name)
}

func TestGeometry_ScaleToScreen(t *testing.T) {
	g := Geometry{Width: 1280, Height: 720, ScreenWidth: 2560, ScreenHeight: 1440}

	x, y := g.ScaleToScreen(640, 360)
	assert.Equal(t, 1280, x)
	assert.Equal(t, 720, y)

	// Degenerate geometry passes coordinates through unchanged.
	var zero Geometry
	x, y = zero.ScaleToScreen(5, 7)
	assert.Equal(t, 5, x)
	assert.Equal(t, 7, y)
}

func TestParamHelpers_Defaults(t *testing.T) {
	req := &ActionRequest{
		Name:   ActionRunCommand,
		Params: map[string]any{"command": "ls", "timeout": float64(30)},
	}

	assert.Equal(t, "ls", StringParam(req, "command", ""))
	assert.Equal(t, "/home", StringParam(req, "cwd", "/home"))
	assert.Equal(t, 30, IntParam(req, "timeout", 0))
	assert.Equal(t, 9, IntParam(req, "absent", 9))
	assert.True(t, BoolParam(req, "absent", true))
}
