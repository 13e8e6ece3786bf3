package transport

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Process wraps a subprocess as a Conn: reads come from its stdout and
// sends go to its stdin.
type Process struct {
	*StreamConn

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	waitOnce sync.Once
	waitErr  error
}

// StartProcess launches a subprocess and returns a Conn over its pipes.
func StartProcess(name string, args []string, bufSize int) (*Process, error) {
	cmd := exec.Command(name, args...) // #nosec G204 -- the command is chosen by the operator

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	// Let stderr pass through to our stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting subprocess %q: %w", name, err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
	}
	remote := "exec:" + strings.Join(append([]string{name}, args...), " ")
	p.StreamConn = NewStreamConn(stdout, stdin, closerFunc(p.shutdown), remote, bufSize)
	return p, nil
}

// Wait waits for the subprocess to exit.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() { p.waitErr = p.cmd.Wait() })
	return p.waitErr
}

// CloseInput closes the subprocess's stdin. A child that exits at end of
// input then ends the session by closing its stdout.
func (p *Process) CloseInput() error {
	return p.stdin.Close()
}

// Kill terminates the subprocess.
func (p *Process) Kill() error {
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// shutdown closes stdin so a well-behaved child can exit on its own, then
// kills it and reaps it.
func (p *Process) shutdown() error {
	_ = p.stdin.Close()
	_ = p.Kill()
	_ = p.Wait()
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
