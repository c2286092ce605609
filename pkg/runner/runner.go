// Package runner provides the subprocess-invocation layer for the
// external volume toolchain: a CommandRunner abstraction with captured
// output and exit status, and a pooled caller for batch workloads.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Result holds the captured outcome of one external command.
type Result struct {
	// Stdout is the captured standard output
	Stdout []byte

	// Stderr is the captured standard error
	Stderr []byte

	// ExitCode is the process exit status. 127 indicates the program
	// could not be started at all.
	ExitCode int

	// Duration is the wall-clock run time of the command
	Duration time.Duration
}

// CommandRunner abstracts external command execution so backends can be
// tested against a fake implementation.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner executes commands on the local host via os/exec.
type ExecRunner struct{}

// Run executes the command, capturing stdout and stderr separately.
// The exit code is always populated: a non-startable program reports
// 127, any other failure to obtain a code reports 1.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	log.WithFields(log.Fields{
		"cmd": displayCommand(name, args),
	}).Debug("Running command")

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		var execErr *exec.Error
		switch {
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		case errors.As(err, &execErr):
			res.ExitCode = 127
		default:
			res.ExitCode = 1
		}
		return res, err
	}

	log.WithFields(log.Fields{
		"cmd":      name,
		"duration": FormatDuration(res.Duration),
	}).Debug("Command finished")
	return res, nil
}

// displayCommand joins a command and its arguments for logging.
func displayCommand(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// FormatDuration formats a duration in a more human friendly way than
// the default Duration.String, e.g. "1 hr 2 min 3.500 sec".
func FormatDuration(d time.Duration) string {
	secs := d.Seconds()
	values := []float64{
		float64(int(secs) / 86400),
		float64(int(secs) % 86400 / 3600),
		float64(int(secs) % 3600 / 60),
		secs - float64(int(secs)/60*60),
	}
	units := []string{" day", " hr", " min", " sec"}

	// Skip leading zero-valued units so short durations stay short.
	first := len(values) - 1
	for i, v := range values {
		if v > 0 {
			first = i
			break
		}
	}

	parts := make([]string, 0, len(values)-first)
	for i := first; i < len(values); i++ {
		if i < len(values)-1 {
			parts = append(parts, fmt.Sprintf("%d%s", int(values[i]), units[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%.3f%s", values[i], units[i]))
		}
	}
	return strings.Join(parts, " ")
}
