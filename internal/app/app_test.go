package app

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

	"github.com/corey/bakewatch/internal/adapters/socket"
	"github.com/corey/bakewatch/internal/ports"
)

// =============================================================================
// App wiring: builds driven by the watcher and the control socket
// =============================================================================

// fakeBuilder records build requests instead of running a command.
type fakeBuilder struct {
	mu   sync.Mutex
	reqs []ports.BuildRequest
	ch   chan ports.BuildRequest
	fail error
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{ch: make(chan ports.BuildRequest, 64)}
}

func (f *fakeBuilder) Build(ctx context.Context, req ports.BuildRequest) error {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	err := f.fail
	f.mu.Unlock()
	f.ch <- req
	return err
}

func (f *fakeBuilder) next(t *testing.T, timeout time.Duration) ports.BuildRequest {
	t.Helper()
	select {
	case req := <-f.ch:
		return req
	case <-time.After(timeout):
		t.Fatal("timed out waiting for build")
		return ports.BuildRequest{}
	}
}

func testSettings() *Settings {
	s := DefaultSettings()
	s.RebuildInterval = Duration(100 * time.Millisecond)
	s.Watch.PollInterval = Duration(20 * time.Millisecond)
	s.Watch.Debounce = Duration(100 * time.Millisecond)
	return s
}

func newTestApp(t *testing.T) (*App, *fakeBuilder, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "content"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "jbake.properties"), []byte("site.host=x\n"), 0644))

	fb := newFakeBuilder()
	a, err := New(Config{
		ProjectRoot: root,
		Settings:    testSettings(),
		SocketPath:  filepath.Join(t.TempDir(), "bw.sock"),
		Builder:     fb,
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Stop() })
	return a, fb, root
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_InvalidSettings(t *testing.T) {
	s := DefaultSettings()
	s.Watch.Backend = "poll"
	_, err := New(Config{ProjectRoot: t.TempDir(), Settings: s, Builder: newFakeBuilder()})
	assert.Error(t, err)
}

func TestNew_ReadsConfigFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFileName), []byte("input: site\n"), 0644))

	a, err := New(Config{ProjectRoot: root, Builder: newFakeBuilder(), SocketPath: filepath.Join(t.TempDir(), "s.sock")})
	require.NoError(t, err)
	defer a.Stop()
	assert.Equal(t, filepath.Join(root, "site"), a.InputDir())
}

func TestApp_InitialBuildThenChange(t *testing.T) {
	a, fb, root := newTestApp(t)
	require.NoError(t, a.Start())

	req := fb.next(t, 2*time.Second)
	assert.Equal(t, ports.ReasonInitial, req.Reason)

	// Let the watcher settle before touching the tree.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "content", "post.md"), []byte("# hi"), 0644))

	req = fb.next(t, 3*time.Second)
	assert.Equal(t, ports.ReasonChange, req.Reason)
	assert.False(t, req.Reinit)
	assert.GreaterOrEqual(t, req.Changes, 1)

	recs, err := a.History(10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(recs), 2)
	assert.Equal(t, ports.ReasonChange, recs[0].Reason)
	assert.Equal(t, ports.ReasonInitial, recs[len(recs)-1].Reason)
}

func TestApp_SiteConfigChangeRequestsReinit(t *testing.T) {
	a, fb, root := newTestApp(t)
	require.NoError(t, a.Start())
	fb.next(t, 2*time.Second)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "jbake.properties"), []byte("site.host=y\n"), 0644))

	req := fb.next(t, 3*time.Second)
	assert.True(t, req.Reinit)
	assert.Equal(t, ports.ReasonConfig, req.Reason)
}

func TestApp_HiddenChangesDoNotBuild(t *testing.T) {
	a, fb, root := newTestApp(t)
	require.NoError(t, a.Start())
	fb.next(t, 2*time.Second)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", ".swp"), []byte("x"), 0644))

	select {
	case req := <-fb.ch:
		t.Fatalf("unexpected build %+v", req)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestApp_SocketHealthAndRebuild(t *testing.T) {
	a, fb, _ := newTestApp(t)
	require.NoError(t, a.Start())
	fb.next(t, 2*time.Second)

	client := socket.NewClient(a.Server.Addr())
	require.Eventually(t, func() bool {
		h, err := client.Health()
		return err == nil && h.Builds == 1
	}, 2*time.Second, 20*time.Millisecond)

	h, err := client.Health()
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, a.InputDir(), h.Input)
	assert.Equal(t, "100ms", h.Debounce)
	assert.Zero(t, h.Overflows)
	require.Len(t, h.Roots, 1)
	assert.True(t, h.Roots[0].Active)
	require.NotNil(t, h.LastBuild)
	assert.Equal(t, ports.ReasonInitial, h.LastBuild.Reason)

	res, err := client.Rebuild(true)
	require.NoError(t, err)
	assert.True(t, res.Queued)

	req := fb.next(t, 2*time.Second)
	assert.Equal(t, ports.ReasonManual, req.Reason)
	assert.True(t, req.Reinit)

	recs, err := client.History(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ports.ReasonManual, recs[0].Reason)
}

func TestApp_SetLogLevel(t *testing.T) {
	a, _, _ := newTestApp(t)
	assert.Error(t, a.SetLogLevel("debug"), "no setter configured")

	root := t.TempDir()
	var got string
	b, err := New(Config{
		ProjectRoot: root,
		Settings:    testSettings(),
		SocketPath:  filepath.Join(t.TempDir(), "bw.sock"),
		Builder:     newFakeBuilder(),
		SetLogLevel: func(level string) error {
			got = level
			return nil
		},
	})
	require.NoError(t, err)
	defer b.Stop()

	require.NoError(t, b.SetLogLevel("warn"))
	assert.Equal(t, "warn", got)
}

func TestApp_FailedBuildRecorded(t *testing.T) {
	a, fb, _ := newTestApp(t)
	fb.fail = errors.New("jbake exited with status 1")

	rec, err := a.BuildOnce(context.Background(), false)
	require.Error(t, err)
	assert.False(t, rec.OK())
	assert.Equal(t, uint64(1), rec.Seq)

	recs, err := a.History(5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "jbake exited with status 1", recs[0].Error)
}

func TestApp_StopIsIdempotentAndCleansUp(t *testing.T) {
	a, fb, _ := newTestApp(t)
	require.NoError(t, a.Start())
	fb.next(t, 2*time.Second)

	_, err := os.Stat(a.Paths.PIDFile)
	require.NoError(t, err)

	require.NoError(t, a.Stop())
	require.NoError(t, a.Stop())

	select {
	case <-a.Done():
	default:
		t.Fatal("rebuild loop still running after Stop")
	}
	_, err = os.Stat(a.Paths.PIDFile)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, a.Watcher.Roots())
	assert.Error(t, a.Start())
}

func TestApp_StopWithoutStart(t *testing.T) {
	a, _, _ := newTestApp(t)
	assert.NoError(t, a.Stop())
}

func TestApp_MissingInputFailsStart(t *testing.T) {
	root := t.TempDir()
	a, err := New(Config{
		ProjectRoot: root,
		Settings:    testSettings(),
		SocketPath:  filepath.Join(t.TempDir(), "bw.sock"),
		Builder:     newFakeBuilder(),
	})
	require.NoError(t, err)
	defer a.Stop()

	err = a.Start()
	var setupErr *ports.SetupError
	assert.ErrorAs(t, err, &setupErr)
}
