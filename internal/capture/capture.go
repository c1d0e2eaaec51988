// File: internal/capture/capture.go
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// ScreenCapturer produces bounded-size snapshots of the screen through the
// automation boundary.
type ScreenCapturer struct {
	auto     schemas.Automator
	maxEdge  int
	auditDir string
	logger   *zap.Logger
}

// New creates a capturer. When cfg.AuditDir is set, every frame is also
// written there; audit failures are logged and never affect the loop.
func New(auto schemas.Automator, cfg config.CaptureConfig, logger *zap.Logger) (*ScreenCapturer, error) {
	if auto == nil {
		return nil, fmt.Errorf("cannot initialize capturer with nil automator")
	}
	if cfg.AuditDir != "" {
		if err := os.MkdirAll(cfg.AuditDir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create audit directory %q: %w", cfg.AuditDir, err)
		}
	}
	return &ScreenCapturer{
		auto:     auto,
		maxEdge:  cfg.MaxEdge,
		auditDir: cfg.AuditDir,
		logger:   logger.Named("capture"),
	}, nil
}

// Capture grabs the screen, downscales it so the longest edge is at most the
// configured bound and re-encodes it as PNG.
func (c *ScreenCapturer) Capture(ctx context.Context) (*schemas.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := c.auto.CaptureScreen()
	if err != nil {
		var capErr *schemas.CaptureError
		if errors.As(err, &capErr) {
			return nil, err
		}
		return nil, &schemas.CaptureError{Err: err}
	}

	bounds := img.Bounds()
	screenW, screenH := bounds.Dx(), bounds.Dy()
	if screenW <= 0 || screenH <= 0 {
		return nil, &schemas.CaptureError{Err: fmt.Errorf("captured image has empty bounds")}
	}

	scaled := downscale(img, c.maxEdge)
	scaledBounds := scaled.Bounds()

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, &schemas.CaptureError{Err: fmt.Errorf("png encode: %w", err)}
	}

	snap := &schemas.Snapshot{
		PNG:        buf.Bytes(),
		CapturedAt: time.Now().UTC(),
		Geometry: schemas.Geometry{
			Width:        scaledBounds.Dx(),
			Height:       scaledBounds.Dy(),
			ScreenWidth:  screenW,
			ScreenHeight: screenH,
		},
	}

	c.writeAudit(snap)

	c.logger.Debug("Captured snapshot",
		zap.Int("width", snap.Geometry.Width),
		zap.Int("height", snap.Geometry.Height),
		zap.Int("bytes", len(snap.PNG)),
	)
	return snap, nil
}

// Close releases capture handles. The robotgo adapter holds none, but the
// contract lets other automators clean up.
func (c *ScreenCapturer) Close() error { return nil }

func (c *ScreenCapturer) writeAudit(snap *schemas.Snapshot) {
	if c.auditDir == "" {
		return
	}
	name := fmt.Sprintf("capture_%s.png", uuid.NewString())
	if err := os.WriteFile(filepath.Join(c.auditDir, name), snap.PNG, 0o644); err != nil {
		c.logger.Warn("Failed to write audit frame", zap.Error(err))
	}
}

// downscale resizes img so its longest edge is at most maxEdge, preserving
// aspect ratio. Images already inside the bound pass through untouched.
func downscale(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if maxEdge <= 0 || longest <= maxEdge {
		return img
	}

	scale := float64(maxEdge) / float64(longest)
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
