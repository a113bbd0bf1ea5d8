package supervisor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/fieldline/prefork/internal/bg"
	"github.com/fieldline/prefork/internal/config"
	"github.com/fieldline/prefork/internal/ipc"
)

// ExecSpawner is the production Spawner: it re-executes the current binary
// with the worker environment set and the shared listener inherited on a
// fixed descriptor slot. The embedding program's main reaches the worker code
// path through prefork.Run's role dispatch.
type ExecSpawner struct {
	cfg    config.Server
	runner bg.Runner

	listenerFile *os.File
	snapshot     []byte
}

// NewExecSpawner prepares a spawner for the given resolved configuration.
// The config snapshot handed to every worker is taken once, here: workers of
// all generations run with the configuration the master started with.
func NewExecSpawner(cfg config.Server, runner bg.Runner) (*ExecSpawner, error) {
	snapshot, err := cfg.Snapshot()
	if err != nil {
		return nil, err
	}
	return &ExecSpawner{cfg: cfg, runner: runner, snapshot: snapshot}, nil
}

// Attach duplicates the listening socket's descriptor for inheritance. The
// supervisor keeps the original; workers accept on duplicates and can never
// rebind or close the master's socket.
func (e *ExecSpawner) Attach(ln net.Listener) error {
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("listener is %T, expected *net.TCPListener", ln)
	}
	f, err := tcp.File()
	if err != nil {
		return fmt.Errorf("failed to dup listener: %w", err)
	}
	e.listenerFile = f
	return nil
}

// Spawn re-executes the current binary as worker id of the given generation.
//
// The child inherits the listener on fd 3 and the write end of a fresh
// ready/heartbeat pipe on fd 4. Two housekeeping tasks are started through
// the runner: a pipe reader translating frames into WorkerReady/Heartbeat
// events, and a reaper delivering exactly one WorkerExited.
func (e *ExecSpawner) Spawn(id, generation int, notify func(Event)) (Process, error) {
	if e.listenerFile == nil {
		return nil, errors.New("spawner not attached to a listener")
	}

	pipeR, pipeW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ready pipe: %w", err)
	}

	cmd := exec.Command(os.Args[0], os.Args[1:]...) // #nosec G204 - re-executing ourselves
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=1", ipc.EnvWorker),
		fmt.Sprintf("%s=%d", ipc.EnvWorkerID, id),
		fmt.Sprintf("%s=%d", ipc.EnvGeneration, generation),
		fmt.Sprintf("%s=%s", ipc.EnvConfigSnapshot, e.snapshot),
	)
	cmd.ExtraFiles = []*os.File{e.listenerFile, pipeW}
	// Workers must not outlive the master, even if the master is killed
	// without running shutdown.
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: unix.SIGKILL}

	if err := cmd.Start(); err != nil {
		pipeR.Close()
		pipeW.Close()
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}
	// The child holds its own copy of the write end now.
	pipeW.Close()

	e.runner.Do(func() {
		defer pipeR.Close()
		_ = ipc.ReadLoop(pipeR, func(frame byte) {
			switch frame {
			case ipc.FrameReady:
				notify(WorkerReady{ID: id})
			case ipc.FrameHeartbeat:
				notify(WorkerHeartbeat{ID: id})
			}
		})
	})

	e.runner.Do(func() {
		err := cmd.Wait()
		code := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		notify(WorkerExited{ID: id, Code: code})
	})

	return &execProcess{cmd: cmd}, nil
}

// Close releases the duplicated listener descriptor.
func (e *ExecSpawner) Close() error {
	if e.listenerFile == nil {
		return nil
	}
	return e.listenerFile.Close()
}

// execProcess controls one spawned worker process.
type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Drain() error {
	return p.cmd.Process.Signal(unix.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
