// File: internal/guard/guard.go
// Description: Validates and filters action requests before they reach the
// executor. Policy order: schema validation, rate limiting, target filtering.
// Denials are data fed back to the backend, never loop-terminating faults.

package guard

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// Guard enforces the safety policy for one session. Its rate limiter state
// lives exactly as long as the session that owns it.
type Guard struct {
	limiter     *rate.Limiter
	deny        []*regexp.Regexp
	allowedRoot string
	logger      *zap.Logger
}

// New compiles the configured denylist and builds the session guard.
func New(cfg config.GuardConfig, logger *zap.Logger) (*Guard, error) {
	deny := make([]*regexp.Regexp, 0, len(cfg.DenyCommands))
	for _, pattern := range cfg.DenyCommands {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid deny pattern %q: %w", pattern, err)
		}
		deny = append(deny, re)
	}

	allowedRoot := cfg.AllowedRoot
	if allowedRoot != "" {
		abs, err := filepath.Abs(allowedRoot)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve allowed root %q: %w", allowedRoot, err)
		}
		allowedRoot = abs
	}

	return &Guard{
		limiter:     rate.NewLimiter(rate.Limit(cfg.ActionsPerSecond), 1),
		deny:        deny,
		allowedRoot: allowedRoot,
		logger:      logger.Named("guard"),
	}, nil
}

// Check applies the policy in order. A *schemas.Denial return refuses the
// request; any other error means the caller was cancelled while queued.
func (g *Guard) Check(ctx context.Context, req *schemas.ActionRequest) error {
	// 1. Parameter schema validation.
	if err := schemas.ValidateParams(req); err != nil {
		g.logger.Warn("Denied malformed action request",
			zap.String("action", string(req.Name)),
			zap.String("id", req.ID),
			zap.String("reason", err.Error()),
		)
		return &schemas.Denial{Reason: err.Error()}
	}

	// 2. Rate limiting. Excess requests queue here until the window opens.
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	// 3. Command and path filtering.
	switch req.Name {
	case schemas.ActionRunCommand:
		command := schemas.StringParam(req, "command", "")
		for _, re := range g.deny {
			if re.MatchString(command) {
				g.logger.Warn("Denied command matching denylist",
					zap.String("id", req.ID),
					zap.String("pattern", re.String()),
				)
				return &schemas.Denial{Reason: fmt.Sprintf("command denied by policy pattern %q", re.String())}
			}
		}
	case schemas.ActionReadFile, schemas.ActionWriteFile:
		path := schemas.StringParam(req, "path", "")
		if err := g.checkPath(path); err != nil {
			g.logger.Warn("Denied file access outside allowed root",
				zap.String("id", req.ID),
				zap.String("path", path),
			)
			return err
		}
	}

	return nil
}

func (g *Guard) checkPath(path string) error {
	if g.allowedRoot == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return &schemas.Denial{Reason: fmt.Sprintf("cannot resolve path %q: %v", path, err)}
	}
	abs = filepath.Clean(abs)
	if abs != g.allowedRoot && !strings.HasPrefix(abs, g.allowedRoot+string(filepath.Separator)) {
		return &schemas.Denial{Reason: fmt.Sprintf("path %q is outside the allowed root %q", path, g.allowedRoot)}
	}
	return nil
}
