package audio

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
)

// Player launches bell sounds as child processes of this same binary
// re-executed in --play-sound mode. A crashing or hanging audio backend can
// only take down the child, never the scheduler.
type Player struct {
	logger   *log.Logger
	mp3Dir   string
	execPath string
}

// NewPlayer creates a player resolving sound filenames against mp3Dir.
func NewPlayer(mp3Dir string, logger *log.Logger) (*Player, error) {
	if logger == nil {
		logger = log.Default()
	}
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	info, err := os.Stat(mp3Dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("MP3 directory invalid: %s", mp3Dir)
	}
	return &Player{logger: logger, mp3Dir: mp3Dir, execPath: execPath}, nil
}

// MP3Dir returns the configured sound directory.
func (p *Player) MP3Dir() string {
	return p.mp3Dir
}

// ResolveSound turns a bare filename into an absolute path inside the MP3
// directory and verifies the file exists.
func (p *Player) ResolveSound(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("no sound file given")
	}
	path := filepath.Join(p.mp3Dir, filepath.Base(filename))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("sound file missing: %s", path)
	}
	return path, nil
}

// PlayScheduled plays a bell sound fire-and-forget. The child is reaped in
// the background; failures are logged and reported but do not propagate
// beyond the current event.
func (p *Player) PlayScheduled(filename, deviceName string) error {
	path, err := p.ResolveSound(filename)
	if err != nil {
		return err
	}
	cmd := p.childCommand(path, deviceName, false)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn sound process: %w", err)
	}
	p.logger.Printf("audio: playing %s (pid %d)", filepath.Base(path), cmd.Process.Pid)
	go func() {
		if err := cmd.Wait(); err != nil {
			p.logger.Printf("audio: pid %d exited: %v", cmd.Process.Pid, err)
		}
	}()
	return nil
}

// Spawn starts a tracked child playing the given absolute path. Used by the
// alert controller, which owns termination and reaping.
func (p *Player) Spawn(path, deviceName string, loop bool) (*exec.Cmd, error) {
	cmd := p.childCommand(path, deviceName, loop)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn sound process: %w", err)
	}
	p.logger.Printf("audio: spawned %s (pid %d, loop=%v)", filepath.Base(path), cmd.Process.Pid, loop)
	return cmd, nil
}

// SpawnDetached starts an untracked child and reaps it in the background.
func (p *Player) SpawnDetached(path, deviceName string) error {
	cmd, err := p.Spawn(path, deviceName, false)
	if err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func (p *Player) childCommand(path, deviceName string, loop bool) *exec.Cmd {
	args := []string{"--play-sound", path}
	if deviceName != "" {
		args = append(args, "--device", deviceName)
	}
	if loop {
		args = append(args, "--loop")
	}
	cmd := exec.Command(p.execPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}
