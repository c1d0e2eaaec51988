// File: internal/automation/robotgo.go
// Description: Concrete Automator over robotgo. This is the only file that
// touches the OS automation library; everything else reaches it through the
// schemas.Automator capability interface.

package automation

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/go-vgo/robotgo"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// typingGroupSize bounds how much text is handed to the OS in one call so a
// long paste still interleaves with UI event processing.
const typingGroupSize = 50

// Robot drives the local desktop through robotgo.
type Robot struct {
	logger *zap.Logger
}

// New creates the desktop automator and verifies the display is reachable.
func New(logger *zap.Logger) (*Robot, error) {
	r := &Robot{logger: logger.Named("automation")}
	w, h, err := r.DisplaySize()
	if err != nil {
		return nil, err
	}
	r.logger.Info("Desktop automation ready", zap.Int("screen_width", w), zap.Int("screen_height", h))
	return r, nil
}

// DisplaySize returns the physical screen resolution.
func (r *Robot) DisplaySize() (int, int, error) {
	w, h := robotgo.GetScreenSize()
	if w <= 0 || h <= 0 {
		return 0, 0, &schemas.EnvironmentError{Err: fmt.Errorf("display reports size %dx%d", w, h)}
	}
	return w, h, nil
}

// CaptureScreen grabs the full primary display.
func (r *Robot) CaptureScreen() (image.Image, error) {
	img, err := robotgo.CaptureImg()
	if err != nil {
		return nil, &schemas.CaptureError{Err: err}
	}
	if img == nil {
		return nil, &schemas.CaptureError{Err: fmt.Errorf("capture returned no image")}
	}
	return img, nil
}

// MovePointer moves the mouse to absolute screen coordinates.
func (r *Robot) MovePointer(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

// Click presses a mouse button at the current pointer position.
func (r *Robot) Click(button string, double bool) error {
	switch button {
	case "", "left":
		button = "left"
	case "right":
	case "middle":
		button = "center"
	default:
		return fmt.Errorf("unknown mouse button %q", button)
	}
	robotgo.Click(button, double)
	return nil
}

// KeyPress taps a key with optional modifiers, e.g. ["ctrl", "s"]. The last
// element is the key, everything before it a modifier. KeyTap errors mean
// the key name was not recognized, so they stay ordinary errors.
func (r *Robot) KeyPress(keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("no key given")
	}
	key := strings.ToLower(keys[len(keys)-1])
	mods := make([]interface{}, 0, len(keys)-1)
	for _, m := range keys[:len(keys)-1] {
		mods = append(mods, strings.ToLower(m))
	}
	if err := robotgo.KeyTap(key, mods...); err != nil {
		return fmt.Errorf("key tap %q: %w", strings.Join(keys, "+"), err)
	}
	return nil
}

// TypeText types a string in bounded groups, pausing between keystrokes so
// target applications keep up.
func (r *Robot) TypeText(text string, perKeyDelay time.Duration) error {
	runes := []rune(text)
	for start := 0; start < len(runes); start += typingGroupSize {
		end := start + typingGroupSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[start:end])
		robotgo.TypeStr(chunk)
		if perKeyDelay > 0 {
			time.Sleep(perKeyDelay * time.Duration(end-start))
		}
	}
	return nil
}
