package sensor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ExecSensor runs the reader executable once per Read and parses the decimal
// raw reading it prints. A nonzero exit is an error carrying stderr.
type ExecSensor struct {
	path    string
	args    []string
	timeout time.Duration
}

func NewExecSensor(path string, args ...string) *ExecSensor {
	return &ExecSensor{path: path, args: args, timeout: 5 * time.Second}
}

func (e *ExecSensor) Read() (Reading, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, e.path, e.args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Reading{}, fmt.Errorf("reader exited with %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return Reading{}, fmt.Errorf("run reader: %w", err)
	}
	text := strings.TrimSpace(stdout.String())
	raw, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("parse reader output %q: %w", text, err)
	}
	return Reading{Raw: raw, Timestamp: time.Now()}, nil
}

func (e *ExecSensor) Close() error { return nil }
