package alert

import (
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubPlayer spawns real (harmless) child processes so termination and
// reaping behave like production.
type stubPlayer struct {
	mu       sync.Mutex
	spawned  []string
	detached []string
	command  []string
}

func newStubPlayer(command ...string) *stubPlayer {
	if len(command) == 0 {
		command = []string{"sleep", "60"}
	}
	return &stubPlayer{command: command}
}

func (p *stubPlayer) ResolveSound(filename string) (string, error) {
	if filename == "" || filename == "missing.mp3" {
		return "", fmt.Errorf("sound file missing: %s", filename)
	}
	return "/sounds/" + filename, nil
}

func (p *stubPlayer) Spawn(path, deviceName string, loop bool) (*exec.Cmd, error) {
	cmd := exec.Command(p.command[0], p.command[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.spawned = append(p.spawned, path)
	p.mu.Unlock()
	return cmd, nil
}

func (p *stubPlayer) SpawnDetached(path, deviceName string) error {
	p.mu.Lock()
	p.detached = append(p.detached, path)
	p.mu.Unlock()
	return nil
}

func TestTrigger_StartsAlert(t *testing.T) {
	player := newStubPlayer()
	c := New(player, nil)
	defer c.Shutdown()

	require.NoError(t, c.Trigger("ppms.mp3", ""))

	active, filename := c.Status()
	require.True(t, active)
	require.Equal(t, "ppms.mp3", filename)
}

func TestTrigger_MissingFileFails(t *testing.T) {
	c := New(newStubPlayer(), nil)

	require.Error(t, c.Trigger("missing.mp3", ""))

	active, _ := c.Status()
	require.False(t, active)
}

func TestTrigger_ReplacesRunningAlert(t *testing.T) {
	player := newStubPlayer()
	c := New(player, nil)
	defer c.Shutdown()

	require.NoError(t, c.Trigger("ppms.mp3", ""))
	firstPid := c.proc.Process.Pid

	require.NoError(t, c.Trigger("attentat.mp3", ""))

	active, filename := c.Status()
	require.True(t, active)
	require.Equal(t, "attentat.mp3", filename)
	require.NotEqual(t, firstPid, c.proc.Process.Pid)
	require.Equal(t, []string{"/sounds/ppms.mp3", "/sounds/attentat.mp3"}, player.spawned)
}

func TestStop_TerminatesAndClears(t *testing.T) {
	c := New(newStubPlayer(), nil)

	require.NoError(t, c.Trigger("ppms.mp3", ""))
	c.Stop()

	active, filename := c.Status()
	require.False(t, active)
	require.Empty(t, filename)

	// Stop with no active alert is a no-op.
	c.Stop()
}

func TestEnd_PlaysEndOfAlertSound(t *testing.T) {
	player := newStubPlayer()
	c := New(player, nil)

	require.NoError(t, c.Trigger("ppms.mp3", ""))
	require.NoError(t, c.End("fin_alerte.mp3", ""))

	active, _ := c.Status()
	require.False(t, active)
	require.Equal(t, []string{"/sounds/fin_alerte.mp3"}, player.detached)
}

func TestEnd_WithoutConfiguredSound(t *testing.T) {
	player := newStubPlayer()
	c := New(player, nil)

	require.NoError(t, c.Trigger("ppms.mp3", ""))
	require.NoError(t, c.End("", ""))

	active, _ := c.Status()
	require.False(t, active)
	require.Empty(t, player.detached)
}

func TestStatus_ReapsExitedChild(t *testing.T) {
	// A child that exits immediately must be reaped by the next Status call.
	player := newStubPlayer("true")
	c := New(player, nil)

	require.NoError(t, c.Trigger("ppms.mp3", ""))

	require.Eventually(t, func() bool {
		active, _ := c.Status()
		return !active
	}, 2*time.Second, 20*time.Millisecond)
}

func TestTrigger_Concurrent_LastWriterWins(t *testing.T) {
	player := newStubPlayer()
	c := New(player, nil)
	defer c.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = c.Trigger(fmt.Sprintf("alert%d.mp3", n), "")
		}(i)
	}
	wg.Wait()

	active, filename := c.Status()
	require.True(t, active)
	require.NotEmpty(t, filename)

	// Exactly one process must remain; all predecessors were reaped.
	c.Stop()
	active, _ = c.Status()
	require.False(t, active)
}
