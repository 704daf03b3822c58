// Package bridge drives the Ultralytics `yolo` command-line program for
// training, export and standard-checkpoint prediction.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	// ErrYOLONotFound is returned when the yolo program is not on PATH.
	ErrYOLONotFound = errors.New("yolo executable not found")
	// ErrTimeout is returned when a call outlives the configured timeout.
	ErrTimeout = errors.New("yolo command timed out")
)

const (
	// stderrTail is how many trailing stderr lines are kept for error messages.
	stderrTail = 20
	maxLine    = 64 * 1024
	waitDelay  = 2 * time.Second
)

// Runner executes yolo subcommands.
type Runner struct {
	bin     string
	timeout time.Duration
	dir     string
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds every call. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithDir sets the working directory of the subprocess.
func WithDir(dir string) Option {
	return func(r *Runner) { r.dir = dir }
}

// WithLogger sets where subprocess output is streamed.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New resolves bin on PATH (or as a path) and returns a Runner for it.
func New(bin string, opts ...Option) (*Runner, error) {
	if bin == "" {
		bin = "yolo"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrYOLONotFound, bin)
	}

	r := &Runner{bin: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Bin returns the resolved executable path.
func (r *Runner) Bin() string {
	return r.bin
}

// Train runs `yolo detect train`.
func (r *Runner) Train(ctx context.Context, a TrainArgs) error {
	return r.run(ctx, a.Args())
}

// Export runs `yolo export` and returns where the exported model is
// expected to be written.
func (r *Runner) Export(ctx context.Context, a ExportArgs) (string, error) {
	if err := r.run(ctx, a.Args()); err != nil {
		return "", err
	}
	return ExportedPath(a.Model, a.Format), nil
}

// Predict runs `yolo detect predict` and returns the directory the
// annotated images are saved in.
func (r *Runner) Predict(ctx context.Context, a PredictArgs) (string, error) {
	if err := r.run(ctx, a.Args()); err != nil {
		return "", err
	}
	name := a.Name
	if name == "" {
		name = "predict"
	}
	return filepath.Join(a.Project, name), nil
}

// ExportedPath returns the location yolo writes an export of model in
// the given format.
func ExportedPath(model, format string) string {
	dir := filepath.Dir(model)
	stem := strings.TrimSuffix(filepath.Base(model), filepath.Ext(model))

	switch format {
	case "openvino":
		return filepath.Join(dir, stem+"_openvino_model")
	case "tflite":
		return filepath.Join(dir, stem+"_saved_model")
	case "":
		return model
	default:
		return filepath.Join(dir, stem+"."+format)
	}
}

func (r *Runner) run(ctx context.Context, args []string) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tail := newRing(stderrTail)
	stdout := &lineWriter{emit: func(line string) { r.logger.Debug("yolo", "line", line) }}
	stderr := &lineWriter{emit: func(line string) {
		r.logger.Debug("yolo", "line", line)
		tail.add(line)
	}}

	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Dir = r.dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Workers spawned by yolo inherit the output pipes; stop waiting for
	// them once the process tree has been killed.
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	r.logger.Info("Running yolo", "args", strings.Join(args, " "))
	start := time.Now()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start yolo: %w", err)
	}
	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	case ctx.Err() != nil:
		return fmt.Errorf("yolo %s: %w", args[0], ctx.Err())
	}
	if err != nil {
		if lines := tail.String(); lines != "" {
			return fmt.Errorf("yolo %s failed: %w, stderr: %s", args[0], err, lines)
		}
		return fmt.Errorf("yolo %s failed: %w", args[0], err)
	}

	r.logger.Info("Yolo finished", "command", args[0], "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// lineWriter splits subprocess output on newlines and carriage returns.
// Lines longer than maxLine are cut so progress bars that never end a
// line cannot grow the buffer without bound.
type lineWriter struct {
	emit func(string)
	mu   sync.Mutex
	buf  []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if b == '\n' || b == '\r' {
			w.flush()
			continue
		}
		w.buf = append(w.buf, b)
		if len(w.buf) >= maxLine {
			w.flush()
		}
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flush()
}

func (w *lineWriter) flush() {
	line := strings.TrimSpace(string(w.buf))
	w.buf = w.buf[:0]
	if line != "" {
		w.emit(line)
	}
}

// ring keeps the last n lines written to it.
type ring struct {
	lines []string
	n     int
}

func newRing(n int) *ring {
	return &ring{n: n}
}

func (r *ring) add(line string) {
	r.lines = append(r.lines, line)
	if len(r.lines) > r.n {
		r.lines = r.lines[len(r.lines)-r.n:]
	}
}

func (r *ring) String() string {
	return strings.Join(r.lines, "\n")
}
