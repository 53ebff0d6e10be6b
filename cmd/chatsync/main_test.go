package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/chatsync"
)

type cli struct {
	t      *testing.T
	config string
	env    string
}

func newCLI(t *testing.T, extra string) *cli {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "chatsync.yaml")
	body := fmt.Sprintf(`
storage_backend: hybrid
local_driver: sqlite
sqlite_path: %s
remote_driver: memory
time_zone: UTC
log_level: error
auth_secret: test-secret
%s`, filepath.Join(dir, "chat.db"), extra)
	require.NoError(t, os.WriteFile(file, []byte(body), 0o600))
	return &cli{t: t, config: file, env: filepath.Join(dir, "missing.env")}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", c.config, "--env-file", c.env}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGuestSendsAreLimited(t *testing.T) {
	c := newCLI(t, "quota_max: 2\n")

	_, err := c.run("send", "hello")
	require.NoError(t, err)
	_, err = c.run("reply", "hi there")
	require.NoError(t, err)
	_, err = c.run("send", "second")
	require.NoError(t, err)

	_, err = c.run("send", "third")
	assert.ErrorIs(t, err, chatsync.ErrQuotaExceeded)

	out, err := c.run("quota")
	require.NoError(t, err)
	assert.Equal(t, "0 of 2 left today\n", out)

	out, err = c.run("history")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "user: hello")
	assert.Contains(t, lines[1], "assistant: hi there")
	assert.Contains(t, lines[2], "user: second")

	out, err = c.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "status: local-only")
	assert.Contains(t, out, "user: guest")
}

func TestSignedInStatusAndDeleteDay(t *testing.T) {
	c := newCLI(t, "")

	token, err := c.run("token", "--user", "u1", "--name", "Ada")
	require.NoError(t, err)
	token = strings.TrimSpace(token)

	out, err := c.run("--token", token, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "status: available")
	assert.Contains(t, out, "user: u1")

	out, err = c.run("--token", token, "quota")
	require.NoError(t, err)
	assert.Equal(t, "unlimited\n", out)

	_, err = c.run("--token", token, "send", "hello")
	require.NoError(t, err)

	out, err = c.run("dates")
	require.NoError(t, err)
	date := strings.TrimSpace(out)
	assert.True(t, chatsync.ValidDate(date))

	out, err = c.run("delete-day", date)
	require.NoError(t, err)
	assert.Equal(t, "deleted 1 sessions\n", out)

	out, err = c.run("dates")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = c.run("--token", "forged", "status")
	assert.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	c := newCLI(t, "")
	out, err := c.run("migrate")
	require.NoError(t, err)
	assert.Equal(t, "migrated 0 sessions\n", out)
}
