package extractor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Command is one extractor process invocation.
type Command struct {
	Name string
	Args []string
	// Env entries are appended to the current process environment.
	Env []string
	Dir string
	// OnLine receives output lines while the process runs.
	OnLine func(line string)
	// StdoutIsResult keeps stdout out of OnLine when stdout carries the
	// command's data rather than its progress.
	StdoutIsResult bool
}

// Runner executes a Command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

type RunnerFunc func(ctx context.Context, cmd Command) ([]byte, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Command) ([]byte, error) {
	return f(ctx, cmd)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

const maxKeptStderr = 8192

func (ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	cmdPath, err := exec.LookPath(c.Name)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, cmdPath, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Dir = c.Dir

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Name, err)
	}

	var (
		stdout strings.Builder
		stderr strings.Builder
		mu     sync.Mutex
		wg     sync.WaitGroup
	)

	read := func(r io.Reader, forward bool, keep func(line string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			keep(line)
			mu.Unlock()
			if forward && c.OnLine != nil {
				c.OnLine(line)
			}
		}
	}

	wg.Add(2)
	// The metadata dump is one large JSON line on stdout, so stdout is kept whole.
	go read(stdoutPipe, !c.StdoutIsResult, func(line string) {
		stdout.WriteString(line)
		stdout.WriteByte('\n')
	})
	go read(stderrPipe, true, func(line string) {
		if stderr.Len() >= maxKeptStderr {
			return
		}
		stderr.WriteString(line)
		stderr.WriteByte('\n')
	})
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		mu.Lock()
		defer mu.Unlock()
		msg := lastErrorLine(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s failed: %w", c.Name, err)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", c.Name, err, msg)
	}
	return []byte(stdout.String()), nil
}

// lastErrorLine prefers the extractor's "ERROR:" line over progress noise.
func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "ERROR:") {
			return strings.TrimSpace(lines[i])
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
