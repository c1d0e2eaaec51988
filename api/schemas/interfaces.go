package schemas

import (
	"context"
	"image"
	"time"
)

// -- Perception --

// Capturer produces snapshots of the current screen state.
type Capturer interface {
	// Capture grabs the screen, downscales it to the configured bound and
	// returns the encoded snapshot. Returns *CaptureError when the display
	// is inaccessible.
	Capture(ctx context.Context) (*Snapshot, error)
	// Close releases any capture handles.
	Close() error
}

// -- Safety --

// Guard validates and filters action requests before execution. A nil return
// allows the action. A *Denial return refuses it with a reason that is fed
// back to the backend as an error result. Any other error reflects
// cancellation while queued on the rate limiter.
type Guard interface {
	Check(ctx context.Context, req *ActionRequest) error
}

// -- Execution --

// Executor performs one concrete OS action. Failures of the action itself are
// reported inside the ActionResult; the error return is reserved for
// *EnvironmentError, which aborts the session.
type Executor interface {
	Execute(ctx context.Context, req *ActionRequest) (*ActionResult, error)
	// SetGeometry installs the coordinate mapping of the snapshot the backend
	// last saw, so pointer coordinates can be scaled to the physical screen.
	SetGeometry(g Geometry)
}

// -- Reasoning --

// BackendClient reaches the reasoning backend. The full action catalog is
// supplied on every call.
type BackendClient interface {
	Infer(ctx context.Context, task string, turns []Turn, catalog []ActionSpec) (*ReasoningReply, error)
}

// -- History --

// HistoryStore is the append-only record of completed turns. Project applies
// the truncation policy for backend consumption without mutating the stored
// turns.
type HistoryStore interface {
	Append(t Turn) error
	Turns() []Turn
	Project() []Turn
	Len() int
	Close() error
}

// TranscriptWriter persists turns for audit and replay, one independently
// serializable record per turn.
type TranscriptWriter interface {
	WriteTurn(t *Turn) error
	Close() error
}

// -- OS automation boundary --

// Automator is the narrow capability interface over the OS automation
// subsystem. The core depends only on this contract, never on a concrete
// automation library. All effects are real and irreversible.
//
// Error contract: implementations wrap *EnvironmentError (or *CaptureError)
// only when the subsystem itself is unusable. An ordinary error means the
// specific input was rejected (unknown key name, unsupported button) and is
// reported to the backend as an action outcome instead of ending the session.
type Automator interface {
	DisplaySize() (width, height int, err error)
	CaptureScreen() (image.Image, error)
	MovePointer(x, y int) error
	Click(button string, double bool) error
	KeyPress(keys []string) error
	TypeText(text string, perKeyDelay time.Duration) error
}
