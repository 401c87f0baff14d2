package alert

import (
	"fmt"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// terminateGrace is how long a child gets to exit after SIGTERM before it is
// killed.
const terminateGrace = 2 * time.Second

// Spawner abstracts the audio player for the controller.
type Spawner interface {
	ResolveSound(filename string) (string, error)
	Spawn(path, deviceName string, loop bool) (*exec.Cmd, error)
	SpawnDetached(path, deviceName string) error
}

// Controller enforces "at most one active alert process". All operations
// serialize on the internal mutex; a Trigger always terminates and reaps its
// predecessor before spawning the replacement.
type Controller struct {
	mu     sync.Mutex
	logger *log.Logger
	player Spawner

	proc     *exec.Cmd
	filename string
	waitCh   chan error
}

// New creates an alert controller over the given player.
func New(player Spawner, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{logger: logger, player: player}
}

// Trigger stops any running alert and starts a new one playing the file.
func (c *Controller) Trigger(filename, deviceName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	path, err := c.player.ResolveSound(filename)
	if err != nil {
		return fmt.Errorf("alert trigger: %w", err)
	}
	cmd, err := c.player.Spawn(path, deviceName, false)
	if err != nil {
		return fmt.Errorf("alert trigger: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	c.proc = cmd
	c.filename = filename
	c.waitCh = waitCh
	c.logger.Printf("alert: %s started (pid %d)", filename, cmd.Process.Pid)
	return nil
}

// Stop terminates the active alert, if any.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// End stops the active alert and, if configured, plays the end-of-alert
// sound once through an untracked child.
func (c *Controller) End(endFilename, deviceName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	if endFilename == "" {
		return nil
	}
	path, err := c.player.ResolveSound(endFilename)
	if err != nil {
		return fmt.Errorf("alert end: %w", err)
	}
	if err := c.player.SpawnDetached(path, deviceName); err != nil {
		return fmt.Errorf("alert end: %w", err)
	}
	c.logger.Printf("alert: end-of-alert sound %s dispatched", endFilename)
	return nil
}

// Status reports whether an alert is active and which file it plays. A
// child that exited on its own is reaped here, so the state invariant
// (active ⇔ live process) holds before the caller observes it.
func (c *Controller) Status() (active bool, filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc == nil {
		return false, ""
	}
	select {
	case <-c.waitCh:
		c.logger.Printf("alert: %s finished on its own (pid %d)", c.filename, c.proc.Process.Pid)
		c.clearLocked()
		return false, ""
	default:
		return true, c.filename
	}
}

// Shutdown kills any active alert child.
func (c *Controller) Shutdown() {
	c.Stop()
}

// stopLocked terminates the current child: SIGTERM, a bounded wait, then
// SIGKILL. Caller must hold the mutex.
func (c *Controller) stopLocked() {
	if c.proc == nil {
		return
	}
	pid := c.proc.Process.Pid
	c.logger.Printf("alert: stopping %s (pid %d)", c.filename, pid)

	if err := c.proc.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone; reap below.
		c.logger.Printf("alert: terminate pid %d: %v", pid, err)
	}
	select {
	case <-c.waitCh:
	case <-time.After(terminateGrace):
		c.logger.Printf("alert: pid %d did not exit, killing", pid)
		_ = c.proc.Process.Kill()
		<-c.waitCh
	}
	c.clearLocked()
}

func (c *Controller) clearLocked() {
	c.proc = nil
	c.filename = ""
	c.waitCh = nil
}
