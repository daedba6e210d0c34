package vbox

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

// Runner executes external commands. Short control-plane queries use Run and
// block until the process exits; long-running operations use Stream, which
// relays every output line to onLine as it arrives.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	Stream(ctx context.Context, onLine func(string), name string, args ...string) (string, error)
}

// ExecRunner runs commands via os/exec with combined stdout/stderr capture.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Stream runs the command with stdout and stderr sharing a single pipe so
// line order matches arrival order, scanning lines into onLine while also
// accumulating them for the returned combined output.
func (ExecRunner) Stream(ctx context.Context, onLine func(string), name string, args ...string) (string, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return "", err
	}
	defer pr.Close()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return "", err
	}

	// Close the parent's copy of the write end so the scanner sees EOF
	// when the child exits.
	// See: https://github.com/golang/go/issues/4261
	pw.Close()

	var combined strings.Builder
	scanner := bufio.NewScanner(pr)
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		line := scanner.Text()
		combined.WriteString(line)
		combined.WriteByte('\n')
		if onLine != nil {
			onLine(line)
		}
	}

	waitErr := cmd.Wait()
	if err := scanner.Err(); err != nil && waitErr == nil {
		waitErr = err
	}
	return combined.String(), waitErr
}

// scanProgressLines splits on both LF and bare CR. VBoxManage reports export
// progress with CR-terminated ticks that never see a newline until the
// operation completes.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 == len(data) && !atEOF {
				// Can't tell yet whether a LF follows the CR.
				return 0, nil, nil
			}
			if i+1 < len(data) && data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
