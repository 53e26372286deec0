package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-toolkit/internal/adapters/secondary/processors"
	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
	"media-toolkit/media"
	apperrors "media-toolkit/pkg/errors"
)

func newTestManager(t *testing.T, fake *fakeTransformer) (*SessionManager, *MemoryResultStore) {
	t.Helper()
	store := NewMemoryResultStore(0, nil)
	svc := NewTransformService(TransformServiceConfig{Transformers: []ports.Transformer{fake}})
	return NewSessionManager(SessionManagerConfig{Transforms: svc, Store: store, TTL: time.Minute}), store
}

func TestSessionLifecycle(t *testing.T) {
	fake := &fakeTransformer{}
	manager, store := newTestManager(t, fake)
	ctx := context.Background()

	snap, err := manager.Create(ctx, domain.OpImageRotate)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionIdle, snap.State)
	assert.Equal(t, 90, snap.Params["angle"])
	id := snap.ID

	_, err = manager.Run(ctx, id)
	assert.True(t, apperrors.IsCode(err, "NO_FILES"))

	_, err = manager.Configure(ctx, id, map[string]interface{}{"angle": 180})
	assert.True(t, apperrors.IsCode(err, "INVALID_TRANSITION"))

	snap, err = manager.SelectFiles(ctx, id, []domain.SourceFile{{Name: "photo.png", Data: pngBytes(t)}})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionFileSelected, snap.State)
	require.Len(t, snap.Files, 1)

	snap, err = manager.Configure(ctx, id, map[string]interface{}{"angle": 180})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionConfiguring, snap.State)
	assert.Equal(t, 180, snap.Params["angle"])

	snap, err = manager.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, snap.State)
	assert.Equal(t, 100, snap.Progress)
	require.Len(t, snap.Result.Artifacts, 1)
	assert.NotEmpty(t, snap.Result.Artifacts[0].Ref)
	assert.Equal(t, 1, store.Len())

	artifact, err := manager.Artifact(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, "rotated-photo.png", artifact.Name)

	_, err = manager.Artifact(ctx, id, 1)
	assert.True(t, apperrors.IsType(err, apperrors.NotFoundError))

	snap, err = manager.Reset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionIdle, snap.State)
	assert.Empty(t, snap.Files)
	assert.Nil(t, snap.Result)
	assert.Zero(t, store.Len(), "reset revokes result references")

	require.NoError(t, manager.Close(ctx, id))
	_, err = manager.Get(ctx, id)
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestSessionRerunRevokesPreviousResult(t *testing.T) {
	manager, store := newTestManager(t, &fakeTransformer{})
	ctx := context.Background()

	snap, err := manager.Create(ctx, domain.OpImageRotate)
	require.NoError(t, err)
	_, err = manager.SelectFiles(ctx, snap.ID, []domain.SourceFile{{Name: "a.png", Data: pngBytes(t)}})
	require.NoError(t, err)

	first, err := manager.Run(ctx, snap.ID)
	require.NoError(t, err)
	second, err := manager.Run(ctx, snap.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, store.Len())
	_, err = store.Get(first.Result.Artifacts[0].Ref)
	assert.ErrorIs(t, err, domain.ErrResultNotFound)
	_, err = store.Get(second.Result.Artifacts[0].Ref)
	assert.NoError(t, err)
}

func TestSessionConfigureRevokesStaleResult(t *testing.T) {
	manager, store := newTestManager(t, &fakeTransformer{})
	ctx := context.Background()

	snap, err := manager.Create(ctx, domain.OpImageRotate)
	require.NoError(t, err)
	id := snap.ID
	_, err = manager.SelectFiles(ctx, id, []domain.SourceFile{{Name: "a.png", Data: pngBytes(t)}})
	require.NoError(t, err)
	_, err = manager.Run(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	snap, err = manager.Configure(ctx, id, map[string]interface{}{"angle": 270})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionConfiguring, snap.State)
	assert.Nil(t, snap.Result)
	assert.Zero(t, store.Len())

	_, err = manager.Artifact(ctx, id, 0)
	assert.True(t, errors.Is(err, domain.ErrResultNotFound))
}

func TestClosedSessionStoresNothing(t *testing.T) {
	fake := &fakeTransformer{}
	store := NewMemoryResultStore(0, nil)
	svc := NewTransformService(TransformServiceConfig{Transformers: []ports.Transformer{fake}})
	op, err := svc.Operation(domain.OpImageRotate)
	require.NoError(t, err)

	session := NewSession("held", op, sessionRunner{id: "held", transforms: svc}, store)
	_, err = session.SelectFiles([]domain.SourceFile{{Name: "a.png", Data: pngBytes(t)}})
	require.NoError(t, err)
	require.NoError(t, session.Close())

	for _, call := range []func() error{
		func() error { _, err := session.Run(context.Background()); return err },
		func() error { _, err := session.Start(context.Background()); return err },
		func() error { _, err := session.Configure(map[string]interface{}{"angle": 180}); return err },
		func() error { _, err := session.SelectFiles([]domain.SourceFile{{Name: "b.png"}}); return err },
		func() error { _, err := session.Reset(); return err },
	} {
		assert.True(t, errors.Is(call(), domain.ErrSessionNotFound))
	}
	assert.Zero(t, fake.callCount())
	assert.Zero(t, store.Len())
}

func TestSessionRejectsConcurrentRun(t *testing.T) {
	fake := &fakeTransformer{started: make(chan struct{}), gate: make(chan struct{})}
	manager, _ := newTestManager(t, fake)
	ctx := context.Background()

	snap, err := manager.Create(ctx, domain.OpImageRotate)
	require.NoError(t, err)
	id := snap.ID
	_, err = manager.SelectFiles(ctx, id, []domain.SourceFile{{Name: "a.png", Data: pngBytes(t)}})
	require.NoError(t, err)

	snap, err = manager.Start(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionProcessing, snap.State)
	<-fake.started

	current, err := manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 50, current.Progress)

	_, err = manager.Run(ctx, id)
	assert.True(t, errors.Is(err, domain.ErrSessionBusy))
	assert.Equal(t, 409, apperrors.GetHTTPStatus(err))

	_, err = manager.SelectFiles(ctx, id, []domain.SourceFile{{Name: "b.png", Data: pngBytes(t)}})
	assert.True(t, apperrors.IsCode(err, "SESSION_BUSY"))
	_, err = manager.Reset(ctx, id)
	assert.True(t, apperrors.IsCode(err, "SESSION_BUSY"))
	assert.True(t, apperrors.IsCode(manager.Close(ctx, id), "SESSION_BUSY"))

	close(fake.gate)
	assert.Eventually(t, func() bool {
		s, _ := manager.Get(ctx, id)
		return s.State == domain.SessionCompleted
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, fake.callCount())
}

func TestSessionFailureIsRecoverable(t *testing.T) {
	fake := &fakeTransformer{err: apperrors.NewInvocationError(errors.New("exit status 1"))}
	manager, store := newTestManager(t, fake)
	ctx := context.Background()

	snap, err := manager.Create(ctx, domain.OpImageRotate)
	require.NoError(t, err)
	id := snap.ID
	_, err = manager.SelectFiles(ctx, id, []domain.SourceFile{{Name: "a.png", Data: pngBytes(t)}})
	require.NoError(t, err)

	snap, err = manager.Run(ctx, id)
	require.Error(t, err)
	assert.Equal(t, domain.SessionFailed, snap.State)
	assert.Contains(t, snap.Error, "transcoding engine failed")
	assert.Zero(t, store.Len())

	fake.err = nil
	snap, err = manager.Configure(ctx, id, map[string]interface{}{"angle": 270})
	require.NoError(t, err)
	assert.Empty(t, snap.Error)

	snap, err = manager.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, snap.State)
}

type panicRunner struct{}

func (panicRunner) Transform(ctx context.Context, req *domain.TransformRequest, progress domain.ProgressFunc) (*domain.TransformResult, error) {
	panic("boom")
}

func TestSessionNeverStuckProcessing(t *testing.T) {
	op := (&fakeTransformer{}).Operations()[0]
	session := NewSession("s1", op, panicRunner{}, NewMemoryResultStore(0, nil))
	_, err := session.SelectFiles([]domain.SourceFile{{Name: "a.png", Data: []byte("x")}})
	require.NoError(t, err)

	snap, err := session.Run(context.Background())
	assert.True(t, apperrors.IsCode(err, "TRANSFORM_PANIC"))
	assert.Equal(t, domain.SessionFailed, snap.State)
	assert.Equal(t, domain.SessionFailed, session.Snapshot().State)
}

func TestSessionFileCount(t *testing.T) {
	manager, _ := newTestManager(t, &fakeTransformer{})
	ctx := context.Background()

	snap, err := manager.Create(ctx, domain.OpImageRotate)
	require.NoError(t, err)

	files := make([]domain.SourceFile, 3)
	_, err = manager.SelectFiles(ctx, snap.ID, files)
	assert.True(t, apperrors.IsCode(err, "INVALID_FILE_COUNT"))

	_, err = manager.SelectFiles(ctx, snap.ID, nil)
	assert.True(t, apperrors.IsCode(err, "NO_FILES"))
}

func TestSessionEviction(t *testing.T) {
	manager, store := newTestManager(t, &fakeTransformer{})
	ctx := context.Background()

	snap, err := manager.Create(ctx, domain.OpImageRotate)
	require.NoError(t, err)
	_, err = manager.SelectFiles(ctx, snap.ID, []domain.SourceFile{{Name: "a.png", Data: pngBytes(t)}})
	require.NoError(t, err)
	_, err = manager.Run(ctx, snap.ID)
	require.NoError(t, err)

	assert.Zero(t, manager.Evict())

	manager.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, 1, manager.Evict())
	assert.Zero(t, manager.Len())
	assert.Zero(t, store.Len())
}

func TestCreateUnknownOperation(t *testing.T) {
	manager, _ := newTestManager(t, &fakeTransformer{})
	_, err := manager.Create(context.Background(), "video-reverse")
	assert.True(t, errors.Is(err, domain.ErrOperationNotFound))
	assert.Equal(t, 404, apperrors.GetHTTPStatus(err))
}

// gifRunner fails the palette pass when failPalette is set.
type gifRunner struct {
	mu          sync.Mutex
	failPalette bool
	calls       int
}

func (r *gifRunner) Version(ctx context.Context) (string, error) { return "ffmpeg version test", nil }

func (r *gifRunner) Run(ctx context.Context, dir string, args []string, duration float64, progress media.ProgressFunc) error {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.mu.Unlock()

	if call == 1 && r.failPalette {
		return &media.FFmpegError{Args: args, Stderr: "palettegen failed", Err: errors.New("exit status 1")}
	}
	if progress != nil {
		progress(1)
	}
	return os.WriteFile(filepath.Join(dir, args[len(args)-1]), []byte("GIF89a"), 0600)
}

func TestGifSessionPaletteFailure(t *testing.T) {
	runner := &gifRunner{failPalette: true}
	engine := media.NewEngine(media.EngineConfig{Runner: runner, TempDir: t.TempDir()})
	svc := NewTransformService(TransformServiceConfig{
		Transformers: []ports.Transformer{processors.NewFFmpegTransformer(engine)},
	})
	manager := NewSessionManager(SessionManagerConfig{Transforms: svc, Store: NewMemoryResultStore(0, nil)})
	ctx := context.Background()

	snap, err := manager.Create(ctx, domain.OpVideoToGif)
	require.NoError(t, err)
	_, err = manager.SelectFiles(ctx, snap.ID, []domain.SourceFile{{Name: "clip.mp4", Data: mp4Bytes()}})
	require.NoError(t, err)

	snap, err = manager.Run(ctx, snap.ID)
	require.Error(t, err)
	assert.Equal(t, domain.SessionFailed, snap.State)
	assert.Equal(t, 1, runner.calls, "the encode pass must not run after a failed palette pass")

	runner.failPalette = false
	runner.calls = 0
	snap, err = manager.Run(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, snap.State)
	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, "clip.gif", snap.Result.Artifacts[0].Name)
}
