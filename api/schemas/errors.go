package schemas

import "fmt"

// Denial is returned by the safety guard when a request is refused. It is fed
// back to the backend as an error ActionResult, never treated as fatal.
type Denial struct {
	Reason string
}

func (d *Denial) Error() string { return d.Reason }

// CaptureError indicates the display could not be captured (locked session,
// missing permission). Perception loss aborts the session.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("screen capture failed: %v", e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }

// BackendError indicates the reasoning backend call failed after the retry
// policy was exhausted, or failed permanently (auth rejection, malformed
// request). Either way the session fails.
type BackendError struct {
	Err       error
	Permanent bool
}

func (e *BackendError) Error() string { return fmt.Sprintf("reasoning backend: %v", e.Err) }
func (e *BackendError) Unwrap() error { return e.Err }

// EnvironmentError indicates the OS automation subsystem is unusable. Unlike
// ordinary execution failures, which are reported as data, this aborts the
// session.
type EnvironmentError struct {
	Err error
}

func (e *EnvironmentError) Error() string { return fmt.Sprintf("automation environment: %v", e.Err) }
func (e *EnvironmentError) Unwrap() error { return e.Err }
