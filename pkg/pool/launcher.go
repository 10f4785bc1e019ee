package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Launcher starts and stops the process behind an instance.
type Launcher interface {
	Start(ctx context.Context, inst *Instance) error
	Stop(ctx context.Context, inst *Instance) error
}

// NopLauncher is used when the game instances are managed externally.
type NopLauncher struct{}

func (NopLauncher) Start(context.Context, *Instance) error { return nil }
func (NopLauncher) Stop(context.Context, *Instance) error  { return nil }

// CommandLauncher runs one game process per instance and waits for its port.
type CommandLauncher struct {
	Command      string
	Args         []string
	LogDir       string
	StartTimeout time.Duration
	StopTimeout  time.Duration

	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewCommandLauncher returns a launcher for command. Process output goes to
// logDir/balatro_<port>.log when logDir is set.
func NewCommandLauncher(command string, args []string, logDir string) *CommandLauncher {
	return &CommandLauncher{
		Command:      command,
		Args:         args,
		LogDir:       logDir,
		StartTimeout: 60 * time.Second,
		StopTimeout:  5 * time.Second,
		procs:        make(map[int]*exec.Cmd),
	}
}

func (l *CommandLauncher) Start(ctx context.Context, inst *Instance) error {
	if l.Command == "" {
		return fmt.Errorf("launcher command is empty")
	}

	l.mu.Lock()
	if _, running := l.procs[inst.Port]; running {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	cmd := exec.Command(l.Command, l.Args...)
	cmd.Env = append(os.Environ(),
		"BALATROBOT_HOST="+inst.Host,
		"BALATROBOT_PORT="+strconv.Itoa(inst.Port),
	)

	var logFile *os.File
	if l.LogDir != "" {
		if err := os.MkdirAll(l.LogDir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.Create(filepath.Join(l.LogDir, fmt.Sprintf("balatro_%d.log", inst.Port)))
		if err != nil {
			return fmt.Errorf("create log file: %w", err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return fmt.Errorf("start %s: %w", l.Command, err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
	}()

	l.mu.Lock()
	l.procs[inst.Port] = cmd
	l.mu.Unlock()

	if err := waitForPort(ctx, inst.Addr(), l.StartTimeout, exited); err != nil {
		_ = l.Stop(context.Background(), inst)
		return err
	}
	return nil
}

func (l *CommandLauncher) Stop(ctx context.Context, inst *Instance) error {
	l.mu.Lock()
	cmd, ok := l.procs[inst.Port]
	delete(l.procs, inst.Port)
	l.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return cmd.Process.Kill()
	}

	deadline := time.NewTimer(l.StopTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return cmd.Process.Kill()
		case <-deadline.C:
			return cmd.Process.Kill()
		case <-ticker.C:
			if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
				return nil
			}
		}
	}
}

// waitForPort dials addr until it accepts or the timeout elapses.
func waitForPort(ctx context.Context, addr string, timeout time.Duration, exited <-chan error) error {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-exited:
			return fmt.Errorf("process exited before %s was ready: %v", addr, err)
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("timed out waiting for %s", addr)
}
