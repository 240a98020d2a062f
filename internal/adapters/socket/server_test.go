package socket

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/bakewatch/internal/domain/watch"
	"github.com/corey/bakewatch/internal/ports"
)

// =============================================================================
// Control socket protocol
// =============================================================================

type fakeQueries struct {
	mu       sync.Mutex
	rebuilds []bool
	history  []ports.BuildRecord
	histErr  error
	level    string
}

func (f *fakeQueries) Health() HealthResult {
	return HealthResult{
		Input:  "/site/src",
		Roots:  []watch.WatchInfo{{Handle: 1, Root: "/site/src", Recursive: true, SkipHidden: true, Active: true}},
		Dirty:  true,
		Builds: len(f.history),
	}
}

func (f *fakeQueries) RequestRebuild(reinit bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilds = append(f.rebuilds, reinit)
	return true
}

func (f *fakeQueries) History(limit int) ([]ports.BuildRecord, error) {
	if f.histErr != nil {
		return nil, f.histErr
	}
	if limit > len(f.history) {
		limit = len(f.history)
	}
	return f.history[:limit], nil
}

func (f *fakeQueries) SetLogLevel(level string) error {
	if level != "debug" && level != "info" {
		return errors.New("unknown log level")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level = level
	return nil
}

// testSocketPath returns a unique socket path for a test.
func testSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.sock")
}

func startServer(t *testing.T, q Queries) (*Server, string) {
	t.Helper()
	sockPath := testSocketPath(t)
	srv := NewServer(sockPath, q, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv, sockPath
}

func TestSocketPath_StablePerProject(t *testing.T) {
	a := SocketPath("/projects/blog")
	assert.Equal(t, a, SocketPath("/projects/blog"))
	assert.NotEqual(t, a, SocketPath("/projects/docs"))
	assert.True(t, strings.HasPrefix(a, "/tmp/bakewatch-"))
	assert.True(t, strings.HasSuffix(a, ".sock"))
}

func TestServer_Health(t *testing.T) {
	_, sockPath := startServer(t, &fakeQueries{history: make([]ports.BuildRecord, 2)})

	health, err := NewClient(sockPath).Health()
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.NotEmpty(t, health.Uptime)
	assert.Equal(t, "/site/src", health.Input)
	assert.True(t, health.Dirty)
	assert.Equal(t, 2, health.Builds)
	require.Len(t, health.Roots, 1)
	assert.Equal(t, watch.Handle(1), health.Roots[0].Handle)
}

func TestServer_Rebuild(t *testing.T) {
	q := &fakeQueries{}
	_, sockPath := startServer(t, q)
	client := NewClient(sockPath)

	res, err := client.Rebuild(true)
	require.NoError(t, err)
	assert.True(t, res.Queued)
	_, err = client.Rebuild(false)
	require.NoError(t, err)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, []bool{true, false}, q.rebuilds)
}

func TestServer_History(t *testing.T) {
	q := &fakeQueries{history: []ports.BuildRecord{
		{Seq: 3, Reason: ports.ReasonChange, Changes: 2},
		{Seq: 2, Reason: ports.ReasonConfig, Reinit: true},
		{Seq: 1, Reason: ports.ReasonInitial, Error: "exit status 1"},
	}}
	_, sockPath := startServer(t, q)

	recs, err := NewClient(sockPath).History(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(3), recs[0].Seq)
	assert.True(t, recs[1].Reinit)
}

func TestServer_HistoryError(t *testing.T) {
	_, sockPath := startServer(t, &fakeQueries{histErr: errors.New("db closed")})

	_, err := NewClient(sockPath).History(5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db closed")
}

func TestServer_UnknownMethodAndBadJSON(t *testing.T) {
	_, sockPath := startServer(t, &fakeQueries{})

	err := NewClient(sockPath).call("reindex", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Write([]byte("{nope\n"))
	require.NoError(t, err)
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "invalid request JSON")
}

func TestServer_Shutdown(t *testing.T) {
	srv, sockPath := startServer(t, &fakeQueries{})
	client := NewClient(sockPath)
	assert.True(t, client.Ping())

	require.NoError(t, client.Shutdown())

	select {
	case <-srv.ShutdownCh():
	case <-time.After(time.Second):
		t.Fatal("ShutdownCh should be closed after Shutdown request")
	}

	// The process owning the server calls Stop after the signal.
	srv.Stop()
	srv.Stop()

	_, err := os.Stat(sockPath)
	assert.True(t, os.IsNotExist(err), "socket file should be removed after shutdown")
	assert.False(t, client.Ping())
}

func TestServer_LogLevel(t *testing.T) {
	q := &fakeQueries{}
	_, sockPath := startServer(t, q)
	client := NewClient(sockPath)

	require.NoError(t, client.SetLogLevel("debug"))
	q.mu.Lock()
	assert.Equal(t, "debug", q.level)
	q.mu.Unlock()

	err := client.SetLogLevel("loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")
}

func TestServer_StopClosesIdleConnections(t *testing.T) {
	srv, sockPath := startServer(t, &fakeQueries{})

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		srv.connMu.Lock()
		defer srv.connMu.Unlock()
		return len(srv.conns) == 1
	}, time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a silent client")
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "server side of the connection is closed")
}

func TestServer_ConcurrentClients(t *testing.T) {
	_, sockPath := startServer(t, &fakeQueries{})

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := NewClient(sockPath)
			for j := 0; j < 10; j++ {
				if _, err := client.Health(); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent client error: %v", err)
	}
}

func TestServer_StaleSocket(t *testing.T) {
	sockPath := testSocketPath(t)
	require.NoError(t, os.WriteFile(sockPath, []byte("stale"), 0600))

	srv := NewServer(sockPath, &fakeQueries{}, nil)
	require.NoError(t, srv.Start(), "should replace stale socket")
	defer srv.Stop()

	health, err := NewClient(sockPath).Health()
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
}

func TestServer_RefusesSecondInstance(t *testing.T) {
	_, sockPath := startServer(t, &fakeQueries{})

	second := NewServer(sockPath, &fakeQueries{}, nil)
	err := second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}
