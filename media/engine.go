package media

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"media-toolkit/pkg/logger"
	"media-toolkit/pkg/metrics"
)

// engineFlags precede every invocation: quiet banner, no prompts, overwrite
// outputs and machine-readable progress on stdout.
var engineFlags = []string{"-hide_banner", "-nostdin", "-y", "-progress", "pipe:1", "-nostats"}

// Runner executes the transcoding engine inside a directory.
type Runner interface {
	Version(ctx context.Context) (string, error)
	Run(ctx context.Context, dir string, args []string, duration float64, progress ProgressFunc) error
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, lastLines(e.Stderr, 10))
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Is makes every FFmpegError match ErrInvocationFailed.
func (e *FFmpegError) Is(target error) bool {
	return target == ErrInvocationFailed
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// ExecRunner runs a local ffmpeg binary.
type ExecRunner struct {
	path string
}

// NewExecRunner creates a runner. An empty path means "ffmpeg" from PATH.
func NewExecRunner(path string) *ExecRunner {
	if path == "" {
		path = "ffmpeg"
	}
	return &ExecRunner{path: path}
}

func (r *ExecRunner) Version(ctx context.Context) (string, error) {
	path, err := exec.LookPath(r.path)
	if err != nil {
		return "", err
	}
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("%s -version: %w", path, err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

func (r *ExecRunner) Run(ctx context.Context, dir string, args []string, duration float64, progress ProgressFunc) error {
	full := append(append([]string{}, engineFlags...), args...)

	// #nosec G204 - binary path comes from configuration, args are built internally
	cmd := exec.CommandContext(ctx, r.path, full...)
	cmd.Dir = dir

	stderr := &stderrTracker{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &FFmpegError{Args: full, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &FFmpegError{Args: full, Err: err}
	}

	total := func() float64 {
		if duration > 0 {
			return duration
		}
		return stderr.Duration()
	}
	readProgress(bufio.NewReader(stdout), total, progress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{Args: full, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	BinaryPath    string
	TempDir       string
	MaxConcurrent int
	Runner        Runner
	Logger        *logger.Logger
	Metrics       *metrics.Metrics
}

// Engine owns access to the transcoding engine. It is created by the caller
// and passed to whoever needs it; loading is explicit and each use acquires
// its own Workspace.
type Engine struct {
	runner  Runner
	tempDir string
	log     *logger.Logger
	metrics *metrics.Metrics
	slots   chan struct{}

	mu      sync.Mutex
	loaded  bool
	version string
}

func NewEngine(cfg EngineConfig) *Engine {
	runner := cfg.Runner
	if runner == nil {
		runner = NewExecRunner(cfg.BinaryPath)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		runner:  runner,
		tempDir: cfg.TempDir,
		log:     log,
		metrics: cfg.Metrics,
		slots:   make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Load verifies the engine once. Failures are not cached so a later call can
// succeed after the binary is installed.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}
	version, err := e.runner.Version(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	e.version = version
	e.loaded = true
	e.log.Info().Str("version", version).Msg("Transcoding engine loaded")
	return nil
}

// Version returns the loaded engine's version line, or "" before Load.
func (e *Engine) Version() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Acquire loads the engine if needed, waits for a free slot and returns a
// fresh workspace. The caller must Release it.
func (e *Engine) Acquire(ctx context.Context) (*Workspace, error) {
	if err := e.Load(ctx); err != nil {
		return nil, err
	}

	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	dir, err := os.MkdirTemp(e.tempDir, "workspace-*")
	if err != nil {
		<-e.slots
		return nil, fmt.Errorf("%w: create workspace: %v", ErrEngineUnavailable, err)
	}
	return &Workspace{engine: e, dir: dir}, nil
}

// Execute writes the plan's files, runs its passes in order and reads the
// output. A failing pass stops the plan; later passes never run.
func (e *Engine) Execute(ctx context.Context, plan *Plan, inputs [][]byte, progress ProgressFunc) (*Result, error) {
	ws, err := e.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer ws.Release()

	for _, f := range plan.Files {
		data := f.Content
		if f.Source >= 0 {
			if f.Source >= len(inputs) {
				return nil, fmt.Errorf("%w: missing input #%d for %s", ErrInvalidOptions, f.Source+1, f.Name)
			}
			data = inputs[f.Source]
		}
		if err := ws.WriteFile(f.Name, data); err != nil {
			return nil, err
		}
	}

	for i, pass := range plan.Passes {
		if err := ws.Exec(ctx, pass, scaleProgress(progress, i, len(plan.Passes))); err != nil {
			return nil, fmt.Errorf("pass %d/%d: %w", i+1, len(plan.Passes), err)
		}
	}

	data, err := ws.ReadFile(plan.Output)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvocationFailed, plan.Output, err)
	}
	if progress != nil {
		progress(1)
	}
	return &Result{Name: plan.DownloadName, MimeType: plan.MimeType, Data: data}, nil
}

// Workspace is a private directory the engine reads inputs from and writes
// outputs to.
type Workspace struct {
	engine *Engine
	dir    string
	once   sync.Once
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

func (w *Workspace) path(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, "-") {
		return "", fmt.Errorf("%w: bad workspace file name %q", ErrInvalidOptions, name)
	}
	return filepath.Join(w.dir, name), nil
}

func (w *Workspace) WriteFile(name string, data []byte) error {
	p, err := w.path(name)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0600)
}

func (w *Workspace) ReadFile(name string) ([]byte, error) {
	p, err := w.path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p) // #nosec G304 - name is checked to stay inside the workspace
}

// Exec runs one pass inside the workspace.
func (w *Workspace) Exec(ctx context.Context, pass Pass, progress ProgressFunc) error {
	e := w.engine
	e.log.LogInvocation(ctx, "ffmpeg", pass.Args)

	start := time.Now()
	err := e.runner.Run(ctx, w.dir, pass.Args, pass.Duration, progress)
	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "failed"
		}
		e.metrics.RecordEngineInvocation(status, time.Since(start))
	}
	if err != nil {
		e.log.FromContext(ctx).Warn().Err(err).Msg("Engine invocation failed")
	}
	return err
}

// Release removes the workspace and frees its engine slot. It is safe to
// call more than once.
func (w *Workspace) Release() error {
	var err error
	w.once.Do(func() {
		err = os.RemoveAll(w.dir)
		<-w.engine.slots
	})
	return err
}
