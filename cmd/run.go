// -- cmd/run.go --
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/automation"
	"github.com/xkilldash9x/deskpilot/internal/backend"
	"github.com/xkilldash9x/deskpilot/internal/capture"
	"github.com/xkilldash9x/deskpilot/internal/executor"
	"github.com/xkilldash9x/deskpilot/internal/guard"
	"github.com/xkilldash9x/deskpilot/internal/history"
	"github.com/xkilldash9x/deskpilot/internal/loop"
	"github.com/xkilldash9x/deskpilot/internal/observability"
)

// Exit codes distinguishing terminal session states.
const (
	exitCompleted = 0
	exitFailed    = 1
	exitCancelled = 2
)

var runCmd = &cobra.Command{
	Use:   "run \"<task instruction>\"",
	Short: "Run one autonomous task session.",
	Long: `Run starts a session for the given task instruction. The loop captures
the screen, asks the reasoning backend for actions, executes them through the
safety guard, and stops when the backend signals completion, a fatal error
occurs, the turn cap is reached, or the session is cancelled (Ctrl-C).`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runSession,
}

func init() {
	runCmd.Flags().Int("max-turns", 0, "override the turn cap for this session")
	runCmd.Flags().Float64("rate-limit", 0, "override allowed actions per second")
	runCmd.Flags().String("transcript", "", "write an append-only JSONL transcript to this path")
	viper.BindPFlag("loop.max_turns", runCmd.Flags().Lookup("max-turns"))
	viper.BindPFlag("guard.actions_per_second", runCmd.Flags().Lookup("rate-limit"))
	viper.BindPFlag("transcript.path", runCmd.Flags().Lookup("transcript"))

	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	task := args[0]
	logger := observability.GetLogger()

	// Flags registered with a zero default only override when set.
	if cmd.Flags().Changed("max-turns") {
		cfg.Loop.MaxTurns, _ = cmd.Flags().GetInt("max-turns")
	}
	if cmd.Flags().Changed("rate-limit") {
		cfg.Guard.ActionsPerSecond, _ = cmd.Flags().GetFloat64("rate-limit")
	}
	if cmd.Flags().Changed("transcript") {
		cfg.Transcript.Path, _ = cmd.Flags().GetString("transcript")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auto, err := automation.New(logger)
	if err != nil {
		return fmt.Errorf("automation unavailable: %w", err)
	}

	capturer, err := capture.New(auto, cfg.Capture, logger)
	if err != nil {
		return err
	}

	sessionGuard, err := guard.New(cfg.Guard, logger)
	if err != nil {
		return err
	}

	exec, err := executor.New(auto, capturer, cfg.Executor, logger)
	if err != nil {
		return err
	}

	client, err := backend.New(cfg.Backend, logger)
	if err != nil {
		return err
	}

	var transcript schemas.TranscriptWriter
	if cfg.Transcript.Path != "" {
		transcript, err = history.NewJSONLWriter(cfg.Transcript.Path)
		if err != nil {
			return err
		}
	}
	store := history.New(history.KeepLast(cfg.Loop.KeepTurns), transcript, logger)

	controlLoop, err := loop.New(cfg.Loop, capturer, sessionGuard, exec, client, store, logger)
	if err != nil {
		return err
	}

	sess, runErr := controlLoop.Run(ctx, task)

	switch sess.Status {
	case schemas.StatusCompleted:
		fmt.Fprintf(cmd.OutOrStdout(), "completed in %d turns\n", sess.TurnCount)
		return nil
	case schemas.StatusCancelled:
		return &exitCodeError{code: exitCancelled, msg: "session cancelled"}
	default:
		logger.Error("Session failed",
			zap.String("reason", sess.Reason),
			zap.Error(runErr),
		)
		return &exitCodeError{
			code: exitFailed,
			msg:  fmt.Sprintf("session failed (%s): %s", sess.Reason, sess.ErrorMsg),
		}
	}
}
