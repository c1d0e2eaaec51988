package schemas

import "time"

// SessionStatus is the lifecycle state of a task session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCancelled SessionStatus = "cancelled"
)

// Reason codes reported on a failed session.
const (
	ReasonMaxTurnsExceeded = "max-turns-exceeded"
	ReasonBackendError     = "backend-error"
	ReasonCaptureError     = "capture-error"
	ReasonEnvironmentError = "environment-error"
)

// Session describes one task execution from start to terminal state. It owns
// the turn history exclusively; the history is released when the session ends.
type Session struct {
	ID        string        `json:"id"`
	Task      string        `json:"task"`
	Status    SessionStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	ErrorMsg  string        `json:"error,omitempty"`
	TurnCount int           `json:"turn_count"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
}

// Terminal reports whether the session has reached a terminal state.
func (s *Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed || s.Status == StatusCancelled
}

// Geometry records the coordinate spaces a snapshot bridges. Width/Height are
// the dimensions of the (possibly downscaled) image the backend sees; pointer
// coordinates in backend requests are expressed in that space and scaled up to
// ScreenWidth/ScreenHeight before execution. Origin is the top-left corner.
type Geometry struct {
	Width        int `json:"width"`
	Height       int `json:"height"`
	ScreenWidth  int `json:"screen_width"`
	ScreenHeight int `json:"screen_height"`
}

// ScaleToScreen maps a point from snapshot space to physical screen space.
func (g Geometry) ScaleToScreen(x, y int) (int, int) {
	if g.Width <= 0 || g.Height <= 0 {
		return x, y
	}
	return x * g.ScreenWidth / g.Width, y * g.ScreenHeight / g.Height
}

// Snapshot is an encoded capture of the screen at a point in time. Turns
// reference snapshots; they are never duplicated into the turn record.
type Snapshot struct {
	PNG        []byte    `json:"png"`
	CapturedAt time.Time `json:"captured_at"`
	Geometry   Geometry  `json:"geometry"`
}

// ActionName is the fixed vocabulary of actions the backend may request.
type ActionName string

const (
	ActionMovePointer   ActionName = "move-pointer"
	ActionClick         ActionName = "click"
	ActionKeyPress      ActionName = "key-press"
	ActionTypeText      ActionName = "type-text"
	ActionReadFile      ActionName = "read-file"
	ActionWriteFile     ActionName = "write-file"
	ActionRunCommand    ActionName = "run-command"
	ActionCaptureScreen ActionName = "capture-screen"
)

// ActionRequest is one action proposed by the reasoning backend. ID correlates
// the request with exactly one ActionResult inside the same turn.
type ActionRequest struct {
	ID     string         `json:"id"`
	Name   ActionName     `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ResultStatus is the outcome classification of an executed action.
type ResultStatus string

const (
	ResultOK    ResultStatus = "ok"
	ResultError ResultStatus = "error"
)

// ActionResult is the recorded outcome of one ActionRequest.
type ActionResult struct {
	ID       string       `json:"id"`
	Status   ResultStatus `json:"status"`
	Output   string       `json:"output,omitempty"`
	ErrorMsg string       `json:"error,omitempty"`
	Image    *Snapshot    `json:"image,omitempty"`
}

// ReasoningReply is the parsed response of one backend inference call.
type ReasoningReply struct {
	Text         string          `json:"text,omitempty"`
	Actions      []ActionRequest `json:"actions,omitempty"`
	TaskComplete bool            `json:"task_complete"`
}

// Turn is one perceive-reason-act round trip. Ordinals are 1-based, strictly
// increasing with no gaps. A turn is immutable once appended to history.
type Turn struct {
	Ordinal   int            `json:"ordinal"`
	Snapshot  *Snapshot      `json:"snapshot,omitempty"`
	Reply     ReasoningReply `json:"reply"`
	Results   []ActionResult `json:"results,omitempty"`
	StartedAt time.Time      `json:"started_at"`
}
