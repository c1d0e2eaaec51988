// File: internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// Executor performs one OS action per request. Side effects are real and
// irreversible; no rollback is attempted. Failures of the action are reported
// inside the result. The error return carries only *schemas.EnvironmentError.
type Executor struct {
	auto     schemas.Automator
	capturer schemas.Capturer
	cfg      config.ExecutorConfig
	logger   *zap.Logger

	mu       sync.Mutex
	geometry schemas.Geometry
}

// New builds the executor over the automation boundary.
func New(auto schemas.Automator, capturer schemas.Capturer, cfg config.ExecutorConfig, logger *zap.Logger) (*Executor, error) {
	if auto == nil || capturer == nil {
		return nil, fmt.Errorf("cannot initialize executor with nil dependencies")
	}
	return &Executor{
		auto:     auto,
		capturer: capturer,
		cfg:      cfg,
		logger:   logger.Named("executor"),
	}, nil
}

// SetGeometry installs the coordinate mapping of the snapshot the backend
// last saw. Pointer coordinates in subsequent requests are interpreted in
// that space.
func (e *Executor) SetGeometry(g schemas.Geometry) {
	e.mu.Lock()
	e.geometry = g
	e.mu.Unlock()
}

// Execute runs a single validated action request synchronously.
func (e *Executor) Execute(ctx context.Context, req *schemas.ActionRequest) (*schemas.ActionResult, error) {
	start := time.Now()
	result, err := e.dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Action executed",
		zap.String("action", string(req.Name)),
		zap.String("id", req.ID),
		zap.String("status", string(result.Status)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (e *Executor) dispatch(ctx context.Context, req *schemas.ActionRequest) (*schemas.ActionResult, error) {
	switch req.Name {
	case schemas.ActionMovePointer:
		return e.movePointer(req)
	case schemas.ActionClick:
		return e.click(req)
	case schemas.ActionKeyPress:
		return e.keyPress(req)
	case schemas.ActionTypeText:
		return e.typeText(req)
	case schemas.ActionReadFile:
		return e.readFile(req), nil
	case schemas.ActionWriteFile:
		return e.writeFile(req), nil
	case schemas.ActionRunCommand:
		return e.runCommand(ctx, req), nil
	case schemas.ActionCaptureScreen:
		return e.captureScreen(ctx, req)
	default:
		// The guard validates against the published catalog, so this is an
		// internal invariant violation. Surface it as data, not a crash.
		e.logger.Error("Unsupported action reached executor",
			zap.String("action", string(req.Name)),
			zap.String("id", req.ID),
		)
		return errorResult(req, fmt.Sprintf("unsupported action %q", req.Name)), nil
	}
}

func (e *Executor) movePointer(req *schemas.ActionRequest) (*schemas.ActionResult, error) {
	e.mu.Lock()
	g := e.geometry
	e.mu.Unlock()

	x := schemas.IntParam(req, "x", 0)
	y := schemas.IntParam(req, "y", 0)
	sx, sy := g.ScaleToScreen(x, y)

	if err := e.auto.MovePointer(sx, sy); err != nil {
		return classify(req, err)
	}
	return okResult(req, fmt.Sprintf("moved pointer to %d,%d", sx, sy)), nil
}

func (e *Executor) click(req *schemas.ActionRequest) (*schemas.ActionResult, error) {
	button := schemas.StringParam(req, "button", "left")
	double := schemas.BoolParam(req, "double", false)

	if err := e.auto.Click(button, double); err != nil {
		return classify(req, err)
	}
	kind := "click"
	if double {
		kind = "double click"
	}
	return okResult(req, fmt.Sprintf("performed %s %s", button, kind)), nil
}

func (e *Executor) keyPress(req *schemas.ActionRequest) (*schemas.ActionResult, error) {
	combo := schemas.StringParam(req, "keys", "")
	keys := strings.Split(combo, "+")
	for i := range keys {
		keys[i] = strings.TrimSpace(keys[i])
	}

	if err := e.auto.KeyPress(keys); err != nil {
		return classify(req, err)
	}
	return okResult(req, fmt.Sprintf("pressed %s", combo)), nil
}

func (e *Executor) typeText(req *schemas.ActionRequest) (*schemas.ActionResult, error) {
	text := schemas.StringParam(req, "text", "")
	if err := e.auto.TypeText(text, e.cfg.TypingDelay); err != nil {
		return classify(req, err)
	}
	return okResult(req, fmt.Sprintf("typed %d characters", len([]rune(text)))), nil
}

func (e *Executor) readFile(req *schemas.ActionRequest) *schemas.ActionResult {
	path := schemas.StringParam(req, "path", "")
	data, err := os.ReadFile(path)
	if err != nil {
		return errorResult(req, fmt.Sprintf("read %q: %v", path, err))
	}
	return okResult(req, truncate(string(data), e.cfg.MaxOutputBytes))
}

func (e *Executor) writeFile(req *schemas.ActionRequest) *schemas.ActionResult {
	path := schemas.StringParam(req, "path", "")
	content := schemas.StringParam(req, "content", "")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errorResult(req, fmt.Sprintf("write %q: %v", path, err))
	}
	return okResult(req, fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

func (e *Executor) captureScreen(ctx context.Context, req *schemas.ActionRequest) (*schemas.ActionResult, error) {
	snap, err := e.capturer.Capture(ctx)
	if err != nil {
		// Loss of perception mid-action is an environment problem, not an
		// action outcome the backend can correct.
		return nil, &schemas.EnvironmentError{Err: err}
	}
	res := okResult(req, fmt.Sprintf("captured screen %dx%d", snap.Geometry.Width, snap.Geometry.Height))
	res.Image = snap
	return res, nil
}

// classify splits automator failures. An EnvironmentError means the
// automation subsystem itself is unusable and aborts the session; anything
// else (unknown key name, rejected input) is an outcome reported back to the
// backend so it can correct itself.
func classify(req *schemas.ActionRequest, err error) (*schemas.ActionResult, error) {
	var envErr *schemas.EnvironmentError
	if errors.As(err, &envErr) {
		return nil, err
	}
	return errorResult(req, err.Error()), nil
}

func okResult(req *schemas.ActionRequest, output string) *schemas.ActionResult {
	return &schemas.ActionResult{ID: req.ID, Status: schemas.ResultOK, Output: output}
}

func errorResult(req *schemas.ActionRequest, msg string) *schemas.ActionResult {
	return &schemas.ActionResult{ID: req.ID, Status: schemas.ResultError, ErrorMsg: msg}
}
