package media

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records invocations and writes the last argument as output.
type fakeRunner struct {
	mu         sync.Mutex
	versionErr error
	failOn     int
	calls      [][]string
	dirs       []string
}

func (f *fakeRunner) Version(ctx context.Context) (string, error) {
	if f.versionErr != nil {
		return "", f.versionErr
	}
	return "ffmpeg version fake", nil
}

func (f *fakeRunner) Run(ctx context.Context, dir string, args []string, duration float64, progress ProgressFunc) error {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.dirs = append(f.dirs, dir)
	n := len(f.calls)
	f.mu.Unlock()

	if n == f.failOn {
		return &FFmpegError{Args: args, Stderr: "Invalid data found when processing input", Err: errors.New("exit status 1")}
	}
	if progress != nil {
		progress(0.5)
	}
	return os.WriteFile(filepath.Join(dir, args[len(args)-1]), []byte("out:"+strings.Join(args, " ")), 0600)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestEngineLoad(t *testing.T) {
	t.Run("unavailable engine is an environment failure", func(t *testing.T) {
		engine := NewEngine(EngineConfig{Runner: &fakeRunner{versionErr: errors.New("not found")}})

		err := engine.Load(context.Background())
		assert.ErrorIs(t, err, ErrEngineUnavailable)

		_, err = engine.Acquire(context.Background())
		assert.ErrorIs(t, err, ErrEngineUnavailable)
	})

	t.Run("loads once", func(t *testing.T) {
		engine := NewEngine(EngineConfig{Runner: &fakeRunner{}})
		require.NoError(t, engine.Load(context.Background()))
		require.NoError(t, engine.Load(context.Background()))
		assert.Equal(t, "ffmpeg version fake", engine.Version())
	})
}

func TestWorkspace(t *testing.T) {
	engine := NewEngine(EngineConfig{Runner: &fakeRunner{}, TempDir: t.TempDir(), MaxConcurrent: 1})

	ws, err := engine.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, ws.WriteFile("input.mp4", []byte("data")))
	data, err := ws.ReadFile("input.mp4")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	assert.ErrorIs(t, ws.WriteFile("../escape.mp4", nil), ErrInvalidOptions)
	assert.ErrorIs(t, ws.WriteFile("-y", nil), ErrInvalidOptions)

	dir := ws.Dir()
	require.NoError(t, ws.Release())
	require.NoError(t, ws.Release())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// the single slot is free again
	ws, err = engine.Acquire(context.Background())
	require.NoError(t, err)
	ws.Release()
}

func TestExecuteGifPlan(t *testing.T) {
	plan, err := BuildGif("clip.mp4", DefaultGifOptions())
	require.NoError(t, err)

	t.Run("both passes run in order", func(t *testing.T) {
		runner := &fakeRunner{}
		engine := NewEngine(EngineConfig{Runner: runner, TempDir: t.TempDir()})

		var reported []int
		result, err := engine.Execute(context.Background(), plan, [][]byte{[]byte("video")}, func(f float64) {
			reported = append(reported, ProgressPercent(f))
		})
		require.NoError(t, err)

		require.Equal(t, 2, runner.callCount())
		assert.Equal(t, "palette.png", runner.calls[0][len(runner.calls[0])-1])
		assert.Equal(t, "output.gif", runner.calls[1][len(runner.calls[1])-1])
		assert.Equal(t, runner.dirs[0], runner.dirs[1])
		assert.Equal(t, []int{25, 75, 100}, reported)

		assert.Equal(t, "clip.gif", result.Name)
		assert.Equal(t, "image/gif", result.MimeType)
		assert.True(t, strings.HasPrefix(string(result.Data), "out:"))
	})

	t.Run("palette failure skips the encode pass", func(t *testing.T) {
		runner := &fakeRunner{failOn: 1}
		engine := NewEngine(EngineConfig{Runner: runner, TempDir: t.TempDir()})

		_, err := engine.Execute(context.Background(), plan, [][]byte{[]byte("video")}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvocationFailed)
		assert.Equal(t, 1, runner.callCount())

		var ffErr *FFmpegError
		require.True(t, errors.As(err, &ffErr))
		assert.Contains(t, ffErr.Stderr, "Invalid data")
	})
}

func TestExecuteMissingInput(t *testing.T) {
	plan, err := BuildMerge([]string{"a.mp4", "b.mp4"}, DefaultMergeOptions())
	require.NoError(t, err)

	runner := &fakeRunner{}
	engine := NewEngine(EngineConfig{Runner: runner, TempDir: t.TempDir()})

	_, err = engine.Execute(context.Background(), plan, [][]byte{[]byte("only one")}, nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Zero(t, runner.callCount())
}

func TestReadProgress(t *testing.T) {
	input := "frame=10\nout_time_us=1000000\nprogress=continue\nout_time_us=3000000\nprogress=end\n"
	var got []float64
	readProgress(strings.NewReader(input), func() float64 { return 4 }, func(f float64) { got = append(got, f) })
	assert.Equal(t, []float64{0.25, 0.75, 1}, got)
}

func TestStderrTrackerDuration(t *testing.T) {
	tracker := &stderrTracker{}
	tracker.Write([]byte("Input #0, mov,mp4\n  Dura"))
	tracker.Write([]byte("tion: 00:01:02.50, start: 0.000000, bitrate: 1205 kb/s\n"))
	assert.InDelta(t, 62.5, tracker.Duration(), 1e-9)
	assert.Contains(t, tracker.String(), "bitrate")
}

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

func TestExecRunnerIntegration(t *testing.T) {
	skipIfNoFFmpeg(t)

	engine := NewEngine(EngineConfig{TempDir: t.TempDir()})
	ws, err := engine.Acquire(context.Background())
	require.NoError(t, err)
	defer ws.Release()

	var last float64
	err = ws.Exec(context.Background(), Pass{
		Args:     []string{"-f", "lavfi", "-i", "color=c=red:s=64x64:d=1", "-f", "lavfi", "-i", "anullsrc=r=44100:cl=mono", "-t", "1", "-c:v", "libx264", "-preset", "ultrafast", "-c:a", "aac", "-shortest", "input.mp4"},
		Duration: 1,
	}, func(f float64) { last = f })
	require.NoError(t, err)
	assert.Equal(t, 1.0, last)

	plan, err := BuildSpeed("input.mp4", SpeedOptions{Speed: 2, PreserveAudio: true})
	require.NoError(t, err)
	data, err := ws.ReadFile("input.mp4")
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), plan, [][]byte{data}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Data)
	assert.Equal(t, "2x-input.mp4", result.Name)
}
