package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

// outputLimit bounds captured child output; failure messages embed it, so a
// chatty child must not blow up logs or the job store.
const outputLimit = 2000

// ExecLauncher starts scraper children as real OS processes.
type ExecLauncher struct{}

func NewExecLauncher() *ExecLauncher { return &ExecLauncher{} }

func (l *ExecLauncher) Launch(ctx context.Context, spec scrape.LaunchSpec) (scrape.Process, error) {
	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Binary, err)
	}

	p := &execProcess{cmd: cmd, buf: &buf, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	buf  *bytes.Buffer
	done chan struct{}

	mu       sync.Mutex
	exitCode int
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		code = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
	}
	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *execProcess) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.buf.String()
	if len(out) > outputLimit {
		out = out[:outputLimit]
	}
	return out
}

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
