// Package jaccheck runs the external jac toolchain's syntax check as the
// hard compile gate of scoring. The checker writes the candidate code to
// a temp file and invokes the configured command against it; a non-zero
// exit, spawn failure or timeout counts as a failed check. When the
// binary is not installed at all, the check passes so that scoring
// degrades to the soft textual rules.
package jaccheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

// DefaultTimeout bounds one check invocation.
const DefaultTimeout = 5 * time.Second

// DefaultCommand is the jac CLI syntax check.
const DefaultCommand = "jac check"

// Checker shells out to the jac CLI.
type Checker struct {
	argv    []string
	timeout time.Duration
	logger  *zap.Logger

	// available is probed once at construction.
	available bool
}

// New parses the command line and probes for the binary. An empty command
// selects the default.
func New(command string, timeout time.Duration, logger *zap.Logger) (*Checker, error) {
	if command == "" {
		command = DefaultCommand
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse check command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty check command")
	}

	c := &Checker{argv: argv, timeout: timeout, logger: logger}
	if _, err := exec.LookPath(argv[0]); err != nil {
		logger.Warn("jac binary not found, compile checks disabled",
			zap.String("binary", argv[0]))
	} else {
		c.available = true
	}
	return c, nil
}

// Available reports whether the jac binary was found on PATH.
func (c *Checker) Available() bool { return c.available }

// Check validates one code snippet. The missing-binary case passes;
// every failure mode of an installed binary fails the check.
func (c *Checker) Check(ctx context.Context, code string) (bool, []string) {
	if !c.available {
		return true, nil
	}

	f, err := os.CreateTemp("", "jacbench-*.jac")
	if err != nil {
		return false, []string{fmt.Sprintf("temp file: %v", err)}
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		return false, []string{fmt.Sprintf("write temp file: %v", err)}
	}
	if err := f.Close(); err != nil {
		return false, []string{fmt.Sprintf("close temp file: %v", err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append(append([]string(nil), c.argv[1:]...), path)
	cmd := exec.CommandContext(runCtx, c.argv[0], args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err = cmd.Run()
	if err == nil {
		return true, nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return false, []string{fmt.Sprintf("check timed out after %s", c.timeout)}
	}
	return false, problems(out.String(), filepath.Base(path))
}

// problems extracts the interesting diagnostic lines, dropping the temp
// file name from messages.
func problems(output, tmpName string) []string {
	var ps []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, tmpName, "<code>"))
		if line == "" {
			continue
		}
		ps = append(ps, line)
		if len(ps) >= 10 {
			break
		}
	}
	if len(ps) == 0 {
		ps = []string{"check failed"}
	}
	return ps
}
