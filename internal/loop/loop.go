// File: internal/loop/loop.go
// Description: The perceive-reason-act state machine. A single logical thread
// drives it: capture, infer, guard+execute each action in order, capture
// again, append the turn. Cancellation is cooperative and checked only at
// checkpoints, never mid-action.

package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// State names the control loop's phases.
type State string

const (
	StateReasoning State = "reasoning"
	StateActing    State = "acting"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Loop drives one session through the state machine.
type Loop struct {
	cfg      config.LoopConfig
	capturer schemas.Capturer
	guard    schemas.Guard
	executor schemas.Executor
	backend  schemas.BackendClient
	history  schemas.HistoryStore
	catalog  []schemas.ActionSpec
	logger   *zap.Logger
}

// New wires the loop. All dependencies are required.
func New(
	cfg config.LoopConfig,
	capturer schemas.Capturer,
	guard schemas.Guard,
	executor schemas.Executor,
	backend schemas.BackendClient,
	history schemas.HistoryStore,
	logger *zap.Logger,
) (*Loop, error) {
	if capturer == nil || guard == nil || executor == nil || backend == nil || history == nil {
		return nil, fmt.Errorf("cannot initialize loop with nil dependencies")
	}
	return &Loop{
		cfg:      cfg,
		capturer: capturer,
		guard:    guard,
		executor: executor,
		backend:  backend,
		history:  history,
		catalog:  schemas.ActionCatalog(),
		logger:   logger.Named("loop"),
	}, nil
}

// Run executes the session until a terminal state. The returned session
// always carries the terminal status; the error is non-nil only when the
// session failed, and then holds the fatal cause.
func (l *Loop) Run(ctx context.Context, task string) (*schemas.Session, error) {
	sess := &schemas.Session{
		ID:        uuid.NewString(),
		Task:      task,
		Status:    schemas.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	l.logger.Info("Session started", zap.String("session_id", sess.ID), zap.String("task", task))

	defer l.release()

	snap, err := l.capturer.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return l.finish(sess, schemas.StatusCancelled, "", nil), nil
		}
		return l.fail(sess, schemas.ReasonCaptureError, err)
	}
	l.executor.SetGeometry(snap.Geometry)

	for ordinal := 1; ; ordinal++ {
		// Checkpoint: cancellation is honored between turns.
		if ctx.Err() != nil {
			return l.finish(sess, schemas.StatusCancelled, "", nil), nil
		}
		if ordinal > l.cfg.MaxTurns {
			return l.fail(sess, schemas.ReasonMaxTurnsExceeded,
				fmt.Errorf("backend did not complete the task within %d turns", l.cfg.MaxTurns))
		}

		turn := schemas.Turn{
			Ordinal:   ordinal,
			Snapshot:  snap,
			StartedAt: time.Now().UTC(),
		}

		// -- Reasoning --
		reply, err := l.backend.Infer(ctx, task, append(l.history.Project(), turn), l.catalog)
		if err != nil {
			if ctx.Err() != nil {
				return l.finish(sess, schemas.StatusCancelled, "", nil), nil
			}
			return l.fail(sess, schemas.ReasonBackendError, err)
		}
		turn.Reply = *reply
		l.logger.Debug("Reasoning reply received",
			zap.Int("turn", ordinal),
			zap.Int("actions", len(reply.Actions)),
			zap.Bool("task_complete", reply.TaskComplete),
		)

		if reply.TaskComplete && len(reply.Actions) == 0 {
			if err := l.append(sess, &turn); err != nil {
				return l.fail(sess, schemas.ReasonEnvironmentError, err)
			}
			return l.finish(sess, schemas.StatusCompleted, "", nil), nil
		}

		// -- Acting --
		cancelled := false
		for i, req := range reply.Actions {
			// Checkpoint: between actions, never mid-action.
			if ctx.Err() != nil {
				fillCancelled(&turn, reply.Actions[i:])
				cancelled = true
				break
			}

			result, fatal := l.runAction(ctx, &req)
			turn.Results = append(turn.Results, *result)

			if fatal != nil {
				fillCancelled(&turn, reply.Actions[i+1:])
				if appendErr := l.append(sess, &turn); appendErr != nil {
					l.logger.Error("Failed to append turn after fatal action", zap.Error(appendErr))
				}
				if errors.Is(fatal, context.Canceled) {
					return l.finish(sess, schemas.StatusCancelled, "", nil), nil
				}
				return l.fail(sess, schemas.ReasonEnvironmentError, fatal)
			}
		}

		if cancelled {
			if err := l.append(sess, &turn); err != nil {
				l.logger.Error("Failed to append turn after cancellation", zap.Error(err))
			}
			return l.finish(sess, schemas.StatusCancelled, "", nil), nil
		}

		// Let the UI settle before the follow-up capture.
		if l.cfg.SettleDelay > 0 && len(reply.Actions) > 0 {
			select {
			case <-time.After(l.cfg.SettleDelay):
			case <-ctx.Done():
			}
		}

		next, err := l.capturer.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				if appendErr := l.append(sess, &turn); appendErr != nil {
					l.logger.Error("Failed to append turn after cancellation", zap.Error(appendErr))
				}
				return l.finish(sess, schemas.StatusCancelled, "", nil), nil
			}
			if appendErr := l.append(sess, &turn); appendErr != nil {
				l.logger.Error("Failed to append turn after capture error", zap.Error(appendErr))
			}
			return l.fail(sess, schemas.ReasonCaptureError, err)
		}
		l.executor.SetGeometry(next.Geometry)

		if err := l.append(sess, &turn); err != nil {
			return l.fail(sess, schemas.ReasonEnvironmentError, err)
		}
		snap = next
	}
}

// runAction passes one request through the guard and the executor. The
// returned error is fatal for the session; everything else is data.
func (l *Loop) runAction(ctx context.Context, req *schemas.ActionRequest) (*schemas.ActionResult, error) {
	if err := l.guard.Check(ctx, req); err != nil {
		var denial *schemas.Denial
		if errors.As(err, &denial) {
			l.logger.Info("Action denied by guard",
				zap.String("id", req.ID),
				zap.String("action", string(req.Name)),
				zap.String("reason", denial.Reason),
			)
			return &schemas.ActionResult{
				ID:       req.ID,
				Status:   schemas.ResultError,
				ErrorMsg: "denied: " + denial.Reason,
			}, nil
		}
		// Cancelled while queued on the rate limiter.
		return &schemas.ActionResult{
			ID:       req.ID,
			Status:   schemas.ResultError,
			ErrorMsg: "cancelled before execution",
		}, context.Canceled
	}

	result, err := l.executor.Execute(ctx, req)
	if err != nil {
		return &schemas.ActionResult{
			ID:       req.ID,
			Status:   schemas.ResultError,
			ErrorMsg: err.Error(),
		}, err
	}
	return result, nil
}

// fillCancelled synthesizes error results for actions that never ran, so the
// per-turn request/result correlation invariant holds even on early exit.
func fillCancelled(turn *schemas.Turn, remaining []schemas.ActionRequest) {
	for _, req := range remaining {
		turn.Results = append(turn.Results, schemas.ActionResult{
			ID:       req.ID,
			Status:   schemas.ResultError,
			ErrorMsg: "cancelled before execution",
		})
	}
}

func (l *Loop) append(sess *schemas.Session, turn *schemas.Turn) error {
	if err := l.history.Append(*turn); err != nil {
		return fmt.Errorf("append turn %d: %w", turn.Ordinal, err)
	}
	sess.TurnCount = l.history.Len()
	return nil
}

func (l *Loop) fail(sess *schemas.Session, reason string, cause error) (*schemas.Session, error) {
	l.finish(sess, schemas.StatusFailed, reason, cause)
	return sess, cause
}

func (l *Loop) finish(sess *schemas.Session, status schemas.SessionStatus, reason string, cause error) *schemas.Session {
	sess.Status = status
	sess.Reason = reason
	if cause != nil {
		sess.ErrorMsg = cause.Error()
	}
	sess.EndedAt = time.Now().UTC()
	sess.TurnCount = l.history.Len()

	l.logger.Info("Session ended",
		zap.String("session_id", sess.ID),
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Int("turns", sess.TurnCount),
	)
	return sess
}

// release closes the owned resources when the session ends.
func (l *Loop) release() {
	if err := l.history.Close(); err != nil {
		l.logger.Warn("Failed to close history", zap.Error(err))
	}
	if err := l.capturer.Close(); err != nil {
		l.logger.Warn("Failed to close capturer", zap.Error(err))
	}
}
