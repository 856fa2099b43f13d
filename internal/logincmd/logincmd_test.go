package logincmd

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHelper(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("helper scripts are POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "helper.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestLoginReadsTokenFromStdout(t *testing.T) {
	token := strings.Repeat("x", 64)
	bin := writeHelper(t, `
read pw
[ "$1" = "--username" ] || exit 1
[ "$2" = "jan.kowalski" ] || exit 1
[ "$pw" = "s3cret" ] || exit 1
echo `+token+`
`)
	d := Driver{Bin: bin, Timeout: 10 * time.Second}
	got, err := d.Login(context.Background(), "jan.kowalski", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestLoginRejectsShortToken(t *testing.T) {
	bin := writeHelper(t, `echo nope`)
	d := Driver{Bin: bin, Timeout: 10 * time.Second}
	_, err := d.Login(context.Background(), "u", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable token")
}

func TestLoginSurfacesHelperStderr(t *testing.T) {
	bin := writeHelper(t, `echo "captcha wall" >&2; exit 3`)
	d := Driver{Bin: bin, Timeout: 10 * time.Second}
	_, err := d.Login(context.Background(), "u", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "captcha wall")
}

func TestLoginTimesOut(t *testing.T) {
	bin := writeHelper(t, `sleep 30`)
	d := Driver{Bin: bin, Timeout: 200 * time.Millisecond}
	start := time.Now()
	_, err := d.Login(context.Background(), "u", "p")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLoginTimeoutSurvivesHelperChildren(t *testing.T) {
	// the background child inherits the stdout pipe and outlives the helper
	bin := writeHelper(t, `sleep 30 &
wait`)
	d := Driver{Bin: bin, Timeout: 200 * time.Millisecond}
	start := time.Now()
	_, err := d.Login(context.Background(), "u", "p")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLoginRequiresConfiguredBinary(t *testing.T) {
	var d Driver
	_, err := d.Login(context.Background(), "u", "p")
	assert.Error(t, err)
}
