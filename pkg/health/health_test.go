package health

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPCheckerReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	res := NewTCPChecker(ln.Addr().String()).Check(context.Background())
	assert.True(t, res.Healthy)
	assert.Equal(t, CheckTypeTCP, NewTCPChecker("x").Type())
}

func TestTCPCheckerUnreachable(t *testing.T) {
	// Reserve a port, then close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	res := NewTCPChecker(addr).WithTimeout(time.Second).Check(context.Background())
	assert.False(t, res.Healthy)
	assert.NotEmpty(t, res.Message)
}

func TestExecCheckerResolvesInDir(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "copyright")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755))

	res := NewExecChecker(dir, "copyright --scheduler").Check(context.Background())
	assert.True(t, res.Healthy)
}

func TestExecCheckerRejectsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data"), []byte("x"), 0644))

	res := NewExecChecker(dir, "data").Check(context.Background())
	assert.False(t, res.Healthy)
}

func TestExecCheckerFallsBackToPath(t *testing.T) {
	res := NewExecChecker(t.TempDir(), "sh").Check(context.Background())
	assert.True(t, res.Healthy, "bare command names resolve through PATH")
}

func TestExecCheckerMissing(t *testing.T) {
	res := NewExecChecker(t.TempDir(), "no-such-agent").Check(context.Background())
	assert.False(t, res.Healthy)

	res = NewExecChecker(t.TempDir(), "").Check(context.Background())
	assert.False(t, res.Healthy)
}
