// Package command implements ports.Builder by running an external build
// command such as "jbake -b src output".
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/corey/bakewatch/internal/ports"
)

// Environment variables passed to the build command.
const (
	EnvReason  = "BAKEWATCH_REASON"
	EnvReinit  = "BAKEWATCH_REINIT"
	EnvChanges = "BAKEWATCH_CHANGES"
)

var (
	ErrNoCommand = errors.New("no build command configured")
	ErrTimeout   = errors.New("build timed out")
)

// Config configures a Runner.
type Config struct {
	Argv    []string
	Dir     string            // working directory, the project root
	Env     map[string]string // extra environment
	Timeout time.Duration     // 0 means no limit
	Stdout  io.Writer         // default io.Discard
	Stderr  io.Writer         // default io.Discard
	Logger  *slog.Logger
}

// Runner runs the configured argv once per Build call.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

var _ ports.Builder = (*Runner)(nil)

// New returns a Runner for cfg.
func New(cfg Config) (*Runner, error) {
	if len(cfg.Argv) == 0 || strings.TrimSpace(cfg.Argv[0]) == "" {
		return nil, ErrNoCommand
	}
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	if cfg.Stderr == nil {
		cfg.Stderr = io.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{cfg: cfg, logger: logger.With("component", "builder")}, nil
}

// Build runs the command and waits for it.
func (r *Runner) Build(ctx context.Context, req ports.BuildRequest) error {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.cfg.Argv[0], r.cfg.Argv[1:]...)
	cmd.Dir = r.cfg.Dir
	cmd.Env = r.environ(req)
	cmd.Stdout = r.cfg.Stdout
	cmd.Stderr = r.cfg.Stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	r.logger.Info("build started", "reason", req.Reason, "reinit", req.Reinit, "changes", req.Changes)
	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		err = r.classify(ctx, err)
		r.logger.Warn("build failed", "reason", req.Reason, "elapsed", elapsed, "err", err)
		return err
	}
	r.logger.Info("build finished", "reason", req.Reason, "elapsed", elapsed)
	return nil
}

func (r *Runner) environ(req ports.BuildRequest) []string {
	env := os.Environ()
	keys := make([]string, 0, len(r.cfg.Env))
	for k := range r.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+r.cfg.Env[k])
	}
	return append(env,
		EnvReason+"="+req.Reason,
		EnvReinit+"="+strconv.FormatBool(req.Reinit),
		EnvChanges+"="+strconv.Itoa(req.Changes),
	)
}

func (r *Runner) classify(ctx context.Context, err error) error {
	name := r.cfg.Argv[0]
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w after %s", name, ErrTimeout, r.cfg.Timeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", name, context.Canceled)
	}
	var notFound *exec.Error
	if errors.As(err, &notFound) && errors.Is(notFound, exec.ErrNotFound) {
		return fmt.Errorf("build command %q not found: %w", name, err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%s exited with status %d: %w", name, exitErr.ExitCode(), err)
	}
	return fmt.Errorf("%s: %w", name, err)
}
