// Package logincmd adapts an external browser-login helper to the session
// LoginDriver interface. The helper owns the interactive web flow (browser
// automation stays outside this repo); its contract is: username on argv,
// password on stdin, bearer token on stdout.
package logincmd

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Tokens shorter than this are never valid bearer tokens from the upstream;
// treat them as helper noise.
const minTokenLen = 50

type Driver struct {
	// Bin is the helper binary, e.g. "visit-login".
	Bin string
	// Timeout bounds one login attempt; the web flow can take tens of
	// seconds but must not hang a firing forever.
	Timeout time.Duration
}

func (d Driver) Login(ctx context.Context, username, password string) (string, error) {
	if d.Bin == "" {
		return "", fmt.Errorf("login helper binary not configured")
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.Bin, "--username", username)
	// The helper spawns children (the browser); killing the direct child
	// leaves them holding the stdout pipe open, so Wait must give up on the
	// pipes shortly after the deadline instead of blocking until they exit.
	cmd.WaitDelay = time.Second
	cmd.Stdin = strings.NewReader(password + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("login helper: %w: %s", err, msg)
		}
		return "", fmt.Errorf("login helper: %w", err)
	}

	token := strings.TrimSpace(stdout.String())
	if len(token) < minTokenLen {
		return "", fmt.Errorf("login helper returned no usable token (%d bytes)", len(token))
	}
	return token, nil
}
