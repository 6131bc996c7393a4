package iface

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/licenseforge/foreman/pkg/config"
	"github.com/licenseforge/foreman/pkg/log"
	"github.com/licenseforge/foreman/pkg/sched"
	"github.com/licenseforge/foreman/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	setupDir := t.TempDir()

	kindDir := filepath.Join(setupDir, config.KindDir, "copyright")
	require.NoError(t, os.MkdirAll(kindDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(kindDir, "copyright.conf"),
		[]byte("default:\n  name: copyright\n  command: true\n  max: 2\n"), 0644))

	store, err := storage.NewBoltStore(setupDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.File{
		Port:          0,
		DataDir:       setupDir,
		AgentDir:      "/bin",
		CheckInterval: config.Duration(time.Second),
		Hosts: map[string]config.HostEntry{
			"localhost": {Address: "localhost", Dir: "/bin", Max: 4},
		},
	}

	scheduler := sched.New(setupDir, cfg, store)
	require.NoError(t, scheduler.Init())

	srv := NewServer(scheduler)
	require.NoError(t, srv.Start(0))
	t.Cleanup(srv.Stop)
	return srv
}

func dial(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func TestStatusCommand(t *testing.T) {
	srv := newTestServer(t)
	conn, r := dial(t, srv)

	_, err := conn.Write([]byte("status\n"))
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "closing:false")
	assert.Contains(t, line, "hosts:1")

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "end", strings.TrimSpace(line))
}

func TestVerboseCommand(t *testing.T) {
	srv := newTestServer(t)
	conn, r := dial(t, srv)

	_, err := conn.Write([]byte("verbose 1\n"))
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(line))

	_, err = conn.Write([]byte("verbose many\n"))
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "err:")
}

func TestUnknownCommand(t *testing.T) {
	srv := newTestServer(t)
	conn, r := dial(t, srv)

	_, err := conn.Write([]byte("frobnicate\n"))
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "unknown command")
}

func TestStopCommandEnqueuesClose(t *testing.T) {
	srv := newTestServer(t)
	conn, r := dial(t, srv)

	_, err := conn.Write([]byte("stop\n"))
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(line))

	// The close is admitted as an event; the loop drains it when it runs.
	assert.Equal(t, 1, srv.scheduler.Loop().Depth())
}

func TestQueueCommandCreatesJob(t *testing.T) {
	srv := newTestServer(t)
	conn, r := dial(t, srv)

	_, err := conn.Write([]byte("queue copyright upload-17 3\n"))
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "ok "), line)

	_, err = conn.Write([]byte("queue copyright\n"))
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "err:")
}

func TestReloadCommand(t *testing.T) {
	srv := newTestServer(t)
	conn, r := dial(t, srv)

	_, err := conn.Write([]byte("reload\n"))
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(line))
	assert.Equal(t, 1, srv.scheduler.Loop().Depth())
}
