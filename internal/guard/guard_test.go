// File: internal/guard/guard_test.go
package guard

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

func newTestGuard(t *testing.T, cfg config.GuardConfig) *Guard {
	t.Helper()
	if cfg.ActionsPerSecond == 0 {
		cfg.ActionsPerSecond = 1000 // effectively unthrottled unless a test says otherwise
	}
	g, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return g
}

func TestNew_RejectsInvalidPattern(t *testing.T) {
	_, err := New(config.GuardConfig{
		ActionsPerSecond: 1,
		DenyCommands:     []string{"[unterminated"},
	}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid deny pattern")
}

// TestCheck_MalformedRequestDenied verifies schema violations come back as a
// Denial, not as a fatal error.
func TestCheck_MalformedRequestDenied(t *testing.T) {
	g := newTestGuard(t, config.GuardConfig{})

	req := &schemas.ActionRequest{
		ID:     "a1",
		Name:   schemas.ActionMovePointer,
		Params: map[string]any{"x": 10}, // y missing
	}

	err := g.Check(context.Background(), req)
	var denial *schemas.Denial
	require.ErrorAs(t, err, &denial)
	assert.Contains(t, denial.Reason, `missing required parameter "y"`)
}

func TestCheck_CommandDenylist(t *testing.T) {
	g := newTestGuard(t, config.GuardConfig{
		DenyCommands: []string{`(?i)\brm\s+(-[a-z]*\s+)*(/|~)`, `(?i)\bshutdown\b`},
	})
	ctx := context.Background()

	tests := []struct {
		name    string
		command string
		denied  bool
	}{
		{"recursive root delete", "rm -rf /", true},
		{"home delete", "rm -r ~/", true},
		{"shutdown", "sudo shutdown -h now", true},
		{"case insensitive", "SHUTDOWN", true},
		{"plain listing", "ls -la", false},
		{"scoped delete", "rm build/output.log", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &schemas.ActionRequest{
				ID:     "cmd",
				Name:   schemas.ActionRunCommand,
				Params: map[string]any{"command": tt.command},
			}
			err := g.Check(ctx, req)
			if tt.denied {
				var denial *schemas.Denial
				require.ErrorAs(t, err, &denial)
				assert.Contains(t, denial.Reason, "denied by policy")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestCheck_PathConfinement verifies read-file and write-file targets are
// confined to the allowed root, including traversal attempts.
func TestCheck_PathConfinement(t *testing.T) {
	root := t.TempDir()
	g := newTestGuard(t, config.GuardConfig{AllowedRoot: root})
	ctx := context.Background()

	tests := []struct {
		name   string
		path   string
		denied bool
	}{
		{"inside root", filepath.Join(root, "notes.txt"), false},
		{"nested inside root", filepath.Join(root, "a", "b", "c.txt"), false},
		{"root itself", root, false},
		{"outside root", "/etc/passwd", true},
		{"traversal escape", filepath.Join(root, "..", "escape.txt"), true},
		{"sibling with shared prefix", root + "x/file.txt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, action := range []schemas.ActionName{schemas.ActionReadFile, schemas.ActionWriteFile} {
				req := &schemas.ActionRequest{ID: "f", Name: action, Params: map[string]any{"path": tt.path}}
				if action == schemas.ActionWriteFile {
					req.Params["content"] = "data"
				}
				err := g.Check(ctx, req)
				if tt.denied {
					var denial *schemas.Denial
					require.ErrorAs(t, err, &denial, "action %s path %s", action, tt.path)
				} else {
					assert.NoError(t, err, "action %s path %s", action, tt.path)
				}
			}
		})
	}
}

func TestCheck_NoRootMeansNoConfinement(t *testing.T) {
	g := newTestGuard(t, config.GuardConfig{})
	req := &schemas.ActionRequest{ID: "f", Name: schemas.ActionReadFile, Params: map[string]any{"path": "/etc/hostname"}}
	assert.NoError(t, g.Check(context.Background(), req))
}

// TestCheck_RateLimitQueues verifies excess requests wait for the window
// instead of being rejected.
func TestCheck_RateLimitQueues(t *testing.T) {
	g := newTestGuard(t, config.GuardConfig{ActionsPerSecond: 20})
	ctx := context.Background()
	req := &schemas.ActionRequest{ID: "mv", Name: schemas.ActionMovePointer, Params: map[string]any{"x": 1, "y": 1}}

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, g.Check(ctx, req))
	}
	elapsed := time.Since(start)

	// Burst of 1, so 4 checks need at least 3 limiter intervals of 50ms.
	assert.GreaterOrEqual(t, elapsed, 140*time.Millisecond)
}

func TestCheck_CancelledWhileQueued(t *testing.T) {
	g := newTestGuard(t, config.GuardConfig{ActionsPerSecond: 0.5})
	req := &schemas.ActionRequest{ID: "mv", Name: schemas.ActionMovePointer, Params: map[string]any{"x": 1, "y": 1}}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, g.Check(ctx, req)) // consumes the single burst token

	cancel()
	err := g.Check(ctx, req)
	require.Error(t, err)

	var denial *schemas.Denial
	assert.False(t, errors.As(err, &denial), "cancellation must not look like a denial")
	assert.ErrorIs(t, err, context.Canceled)
}
