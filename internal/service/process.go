package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/obsreg/importer/internal/protocol"
)

var ErrWorkerTimeout = errors.New("worker timed out")

// StderrFunc receives every line the worker writes to stderr.
type StderrFunc func(ctx context.Context, line string)

// ProcessLauncher runs each worker as a child process of cmd.
type ProcessLauncher struct {
	cmd        Command
	stderrFunc StderrFunc
}

func NewProcessLauncher(cmd Command, stderrFunc StderrFunc) *ProcessLauncher {
	return &ProcessLauncher{cmd: cmd, stderrFunc: stderrFunc}
}

type process struct {
	cmd     *exec.Cmd
	timeout time.Duration
	events  chan Event
}

func (p *process) Events() <-chan Event {
	return p.events
}

func (p *process) String() string {
	if p.cmd.Process == nil {
		return p.cmd.Path
	}
	return p.cmd.Path + " pid " + strconv.Itoa(p.cmd.Process.Pid)
}

// Launch starts the worker process and returns without waiting for it.
// An error means the process could not be started at all.
func (l *ProcessLauncher) Launch(ctx context.Context, in protocol.Input) (Handle, error) {
	var cancel context.CancelFunc
	if l.cmd.Timeout == 0 {
		slog.WarnContext(ctx, "worker has no timeout", "path", l.cmd.Path)
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, l.cmd.Timeout)
	}

	cmd := exec.CommandContext(ctx, l.cmd.Path, l.cmd.Args...)
	cmd.Env = l.cmd.Env
	cmd.WaitDelay = 5 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	var stderr io.ReadCloser
	if l.stderrFunc != nil {
		stderr, err = cmd.StderrPipe()
		if err != nil {
			cancel()
			return nil, err
		}
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	p := &process{
		cmd:     cmd,
		timeout: l.cmd.Timeout,
		events:  make(chan Event),
	}
	go p.run(ctx, cancel, in, stdin, stdout, stderr, l.stderrFunc)
	return p, nil
}

func (p *process) run(ctx context.Context, cancel context.CancelFunc, in protocol.Input, stdin io.WriteCloser, stdout, stderr io.Reader, stderrFunc StderrFunc) {
	defer close(p.events)
	defer cancel()

	var pipes sync.WaitGroup
	var inputErr error
	pipes.Go(func() {
		inputErr = protocol.WriteInput(stdin, in)
		if err := stdin.Close(); inputErr == nil {
			inputErr = err
		}
	})
	if stderr != nil {
		pipes.Go(func() {
			processStderr(ctx, stderr, stderrFunc)
		})
	}

	dec := protocol.NewDecoder(stdout)
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.events <- ErrorEvent(fmt.Errorf("reading worker output: %w", err))
			_, _ = io.Copy(io.Discard, stdout)
			break
		}
		p.events <- FrameEvent(f)
	}
	pipes.Wait()

	// a worker may exit before reading its input; its exit code tells the story
	if inputErr != nil && !errors.Is(inputErr, syscall.EPIPE) {
		p.events <- ErrorEvent(fmt.Errorf("sending worker input: %w", inputErr))
	}

	err := p.cmd.Wait()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		p.events <- ErrorEvent(fmt.Errorf("%w after %s", ErrWorkerTimeout, p.timeout))
	} else if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			p.events <- ErrorEvent(err)
		}
	}

	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	p.events <- ExitEvent(code)
}

func processStderr(ctx context.Context, stderr io.Reader, stderrFunc StderrFunc) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		stderrFunc(ctx, scanner.Text())
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		slog.ErrorContext(ctx, "processing worker stderr", "error", err)
		_, _ = io.Copy(io.Discard, stderr)
	}
}
