//go:build unix

package osutil

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervise(t *testing.T) {
	cmd := exec.CommandContext(context.Background(), "echo", "test")
	Supervise(cmd)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
	assert.NotNil(t, cmd.Cancel)
	assert.Equal(t, 2*GracefulShutdownDelay, cmd.WaitDelay)
}

func TestSuperviseStopsOnTerm(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", `trap 'exit 0' TERM; while true; do sleep 0.1; done`)
	Supervise(cmd)
	require.NoError(t, cmd.Start())

	time.Sleep(200 * time.Millisecond)
	start := time.Now()
	cancel()
	_ = cmd.Wait()

	assert.Less(t, time.Since(start), GracefulShutdownDelay)
}

func TestSuperviseStopsBackgroundChildren(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Mimics an installer that forks a long-running helper.
	cmd := exec.CommandContext(ctx, "sh", "-c", `sleep 30 & echo "$!"; wait`)
	Supervise(cmd)

	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	child, err := strconv.Atoi(strings.TrimSpace(line))
	require.NoError(t, err)
	require.NoError(t, syscall.Kill(child, 0))

	cancel()
	_ = cmd.Wait()

	assert.Eventually(t, func() bool {
		return syscall.Kill(child, 0) != nil
	}, 2*GracefulShutdownDelay, 50*time.Millisecond)
}

func TestSuperviseCancelAfterExit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "true")
	Supervise(cmd)

	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())

	assert.NoError(t, cmd.Cancel())
}
