// File: internal/executor/executor_test.go
package executor

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// fakeAutomator records every call and can be scripted to fail.
type fakeAutomator struct {
	moves   [][2]int
	clicks  []string
	keys    [][]string
	typed   []string
	failErr error
}

func (f *fakeAutomator) DisplaySize() (int, int, error) { return 2560, 1440, nil }

func (f *fakeAutomator) CaptureScreen() (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (f *fakeAutomator) MovePointer(x, y int) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.moves = append(f.moves, [2]int{x, y})
	return nil
}

func (f *fakeAutomator) Click(button string, double bool) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.clicks = append(f.clicks, fmt.Sprintf("%s/%v", button, double))
	return nil
}

func (f *fakeAutomator) KeyPress(keys []string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.keys = append(f.keys, keys)
	return nil
}

func (f *fakeAutomator) TypeText(text string, perKeyDelay time.Duration) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.typed = append(f.typed, text)
	return nil
}

// fakeCapturer returns a canned snapshot.
type fakeCapturer struct {
	snap *schemas.Snapshot
	err  error
}

func (f *fakeCapturer) Capture(ctx context.Context) (*schemas.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func (f *fakeCapturer) Close() error { return nil }

func newTestExecutor(t *testing.T, auto *fakeAutomator, capturer schemas.Capturer) *Executor {
	t.Helper()
	if capturer == nil {
		capturer = &fakeCapturer{snap: &schemas.Snapshot{PNG: []byte{1}}}
	}
	e, err := New(auto, capturer, config.ExecutorConfig{
		CommandTimeout: 10 * time.Second,
		TypingDelay:    0,
		MaxOutputBytes: 16000,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return e
}

func req(name schemas.ActionName, params map[string]any) *schemas.ActionRequest {
	return &schemas.ActionRequest{ID: "req-1", Name: name, Params: params}
}

// TestExecute_MovePointerScales verifies snapshot coordinates are scaled up
// to the physical screen before the pointer moves.
func TestExecute_MovePointerScales(t *testing.T) {
	auto := &fakeAutomator{}
	e := newTestExecutor(t, auto, nil)
	e.SetGeometry(schemas.Geometry{Width: 1280, Height: 720, ScreenWidth: 2560, ScreenHeight: 1440})

	res, err := e.Execute(context.Background(), req(schemas.ActionMovePointer, map[string]any{"x": 100, "y": 50}))
	require.NoError(t, err)
	assert.Equal(t, schemas.ResultOK, res.Status)
	require.Len(t, auto.moves, 1)
	assert.Equal(t, [2]int{200, 100}, auto.moves[0])
}

func TestExecute_ClickVariants(t *testing.T) {
	auto := &fakeAutomator{}
	e := newTestExecutor(t, auto, nil)
	ctx := context.Background()

	_, err := e.Execute(ctx, req(schemas.ActionClick, nil))
	require.NoError(t, err)
	_, err = e.Execute(ctx, req(schemas.ActionClick, map[string]any{"button": "right", "double": true}))
	require.NoError(t, err)

	assert.Equal(t, []string{"left/false", "right/true"}, auto.clicks)
}

func TestExecute_KeyPressSplitsCombo(t *testing.T) {
	auto := &fakeAutomator{}
	e := newTestExecutor(t, auto, nil)

	_, err := e.Execute(context.Background(), req(schemas.ActionKeyPress, map[string]any{"keys": "ctrl + shift + s"}))
	require.NoError(t, err)
	require.Len(t, auto.keys, 1)
	assert.Equal(t, []string{"ctrl", "shift", "s"}, auto.keys[0])
}

// TestExecute_RejectedInputIsData verifies an automator rejecting its input
// (an unrecognized key name that still passes schema validation) becomes an
// error result the backend can correct, never a session-ending fault.
func TestExecute_RejectedInputIsData(t *testing.T) {
	auto := &fakeAutomator{failErr: fmt.Errorf(`key tap "bogus_key": Invalid key flag specified.`)}
	e := newTestExecutor(t, auto, nil)

	res, err := e.Execute(context.Background(), req(schemas.ActionKeyPress, map[string]any{"keys": "bogus_key"}))
	require.NoError(t, err)
	assert.Equal(t, schemas.ResultError, res.Status)
	assert.Contains(t, res.ErrorMsg, "Invalid key flag")
}

// TestExecute_SubsystemFailureIsFatal verifies a genuinely unusable
// automation subsystem still aborts the session with an EnvironmentError.
func TestExecute_SubsystemFailureIsFatal(t *testing.T) {
	auto := &fakeAutomator{failErr: &schemas.EnvironmentError{Err: fmt.Errorf("display gone")}}
	e := newTestExecutor(t, auto, nil)

	res, err := e.Execute(context.Background(), req(schemas.ActionClick, nil))
	assert.Nil(t, res)
	var envErr *schemas.EnvironmentError
	require.ErrorAs(t, err, &envErr)
}

func TestExecute_ReadWriteFile(t *testing.T) {
	e := newTestExecutor(t, &fakeAutomator{}, nil)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "note.txt")

	res, err := e.Execute(ctx, req(schemas.ActionWriteFile, map[string]any{"path": path, "content": "hello"}))
	require.NoError(t, err)
	assert.Equal(t, schemas.ResultOK, res.Status)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	res, err = e.Execute(ctx, req(schemas.ActionReadFile, map[string]any{"path": path}))
	require.NoError(t, err)
	assert.Equal(t, schemas.ResultOK, res.Status)
	assert.Equal(t, "hello", res.Output)
}

// TestExecute_ReadFileMissingIsData verifies a missing file is an error
// result the backend can react to, not a session fault.
func TestExecute_ReadFileMissingIsData(t *testing.T) {
	e := newTestExecutor(t, &fakeAutomator{}, nil)

	res, err := e.Execute(context.Background(), req(schemas.ActionReadFile, map[string]any{"path": "/no/such/file"}))
	require.NoError(t, err)
	assert.Equal(t, schemas.ResultError, res.Status)
	assert.Contains(t, res.ErrorMsg, "no/such/file")
}

func TestExecute_RunCommand(t *testing.T) {
	e := newTestExecutor(t, &fakeAutomator{}, nil)
	ctx := context.Background()

	t.Run("success captures stdout", func(t *testing.T) {
		res, err := e.Execute(ctx, req(schemas.ActionRunCommand, map[string]any{"command": "echo hello"}))
		require.NoError(t, err)
		assert.Equal(t, schemas.ResultOK, res.Status)
		assert.Equal(t, "hello\n", res.Output)
	})

	t.Run("non-zero exit is an error result", func(t *testing.T) {
		res, err := e.Execute(ctx, req(schemas.ActionRunCommand, map[string]any{"command": "exit 3"}))
		require.NoError(t, err)
		assert.Equal(t, schemas.ResultError, res.Status)
		assert.Contains(t, res.ErrorMsg, "exited with code 3")
	})

	t.Run("stderr is appended to output", func(t *testing.T) {
		res, err := e.Execute(ctx, req(schemas.ActionRunCommand, map[string]any{"command": "echo out; echo err 1>&2"}))
		require.NoError(t, err)
		assert.Equal(t, schemas.ResultOK, res.Status)
		assert.Contains(t, res.Output, "out\n")
		assert.Contains(t, res.Output, "[stderr]")
		assert.Contains(t, res.Output, "err\n")
	})

	t.Run("cwd is honored", func(t *testing.T) {
		dir := t.TempDir()
		res, err := e.Execute(ctx, req(schemas.ActionRunCommand, map[string]any{"command": "pwd", "cwd": dir}))
		require.NoError(t, err)
		assert.Equal(t, schemas.ResultOK, res.Status)
		assert.Contains(t, res.Output, filepath.Base(dir))
	})

	t.Run("timeout kills the process", func(t *testing.T) {
		start := time.Now()
		res, err := e.Execute(ctx, req(schemas.ActionRunCommand, map[string]any{"command": "sleep 30", "timeout": 1}))
		require.NoError(t, err)
		assert.Equal(t, schemas.ResultError, res.Status)
		assert.Contains(t, res.ErrorMsg, "timed out")
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

// TestExecute_OutputTruncation verifies oversized output is clipped with the
// notice appended.
func TestExecute_OutputTruncation(t *testing.T) {
	auto := &fakeAutomator{}
	e, err := New(auto, &fakeCapturer{snap: &schemas.Snapshot{}}, config.ExecutorConfig{
		CommandTimeout: 10 * time.Second,
		MaxOutputBytes: 64,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 500)), 0o644))

	res, execErr := e.Execute(context.Background(), req(schemas.ActionReadFile, map[string]any{"path": path}))
	require.NoError(t, execErr)
	assert.Equal(t, schemas.ResultOK, res.Status)
	assert.True(t, strings.HasSuffix(res.Output, truncatedNotice))
	assert.Len(t, res.Output, 64+len(truncatedNotice))
}

// TestTruncate_RuneBoundary verifies the clip never splits a multi-byte
// rune, so the backend always receives valid UTF-8.
func TestTruncate_RuneBoundary(t *testing.T) {
	s := strings.Repeat("日", 4) // 3 bytes per rune

	out := truncate(s, 4) // byte 4 is mid-rune
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "日"+truncatedNotice, out)

	// Exact boundary is untouched.
	out = truncate(s, 6)
	assert.Equal(t, "日日"+truncatedNotice, out)

	// Within the limit, nothing is clipped.
	assert.Equal(t, s, truncate(s, len(s)))
}

func TestExecute_CaptureScreenReturnsImage(t *testing.T) {
	snap := &schemas.Snapshot{PNG: []byte{0x89, 0x50}, Geometry: schemas.Geometry{Width: 4, Height: 4}}
	e := newTestExecutor(t, &fakeAutomator{}, &fakeCapturer{snap: snap})

	res, err := e.Execute(context.Background(), req(schemas.ActionCaptureScreen, nil))
	require.NoError(t, err)
	assert.Equal(t, schemas.ResultOK, res.Status)
	assert.Same(t, snap, res.Image)
}

func TestExecute_CaptureFailureIsFatal(t *testing.T) {
	e := newTestExecutor(t, &fakeAutomator{}, &fakeCapturer{err: &schemas.CaptureError{Err: fmt.Errorf("locked")}})

	res, err := e.Execute(context.Background(), req(schemas.ActionCaptureScreen, nil))
	assert.Nil(t, res)
	var envErr *schemas.EnvironmentError
	require.ErrorAs(t, err, &envErr)
}

func TestExecute_UnsupportedActionIsData(t *testing.T) {
	e := newTestExecutor(t, &fakeAutomator{}, nil)

	res, err := e.Execute(context.Background(), req("launch-rocket", nil))
	require.NoError(t, err)
	assert.Equal(t, schemas.ResultError, res.Status)
	assert.Contains(t, res.ErrorMsg, "unsupported action")
}
