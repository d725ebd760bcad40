package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-saas/console/internal/console/consoletest"
)

type cli struct {
	api   string
	state string
}

func (c cli) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--api", c.api, "--state-dir", c.state, "--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func newCLI(t *testing.T) (cli, *consoletest.Backend) {
	b := consoletest.NewBackend(t)
	return cli{api: b.URL(), state: t.TempDir()}, b
}

func TestLoginWhoamiLogout(t *testing.T) {
	c, b := newCLI(t)

	_, err := c.run(t, "", "whoami")
	require.ErrorIs(t, err, errNotLoggedIn)

	out, err := c.run(t, "secret123\n", "login", "--email", "ada@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as Ada Lovelace")
	assert.Contains(t, out, "Organization: Acme (owner)")

	out, err = c.run(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada Lovelace <ada@example.com>")
	assert.Contains(t, out, "Acme (owner)")
	assert.Equal(t, 1, b.Count("POST /auth/login"), "later commands reuse the stored session")

	out, err = c.run(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out")
	assert.Equal(t, 1, b.Count("POST /auth/logout"))

	_, err = c.run(t, "", "whoami")
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestLoginRejected(t *testing.T) {
	c, _ := newCLI(t)
	_, err := c.run(t, "", "login", "--email", "ada@example.com", "--password", "wrong-password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")

	_, err = c.run(t, "", "whoami")
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestOrgsListAndUse(t *testing.T) {
	c, _ := newCLI(t)
	_, err := c.run(t, "", "login", "--email", "ada@example.com", "--password", "secret123")
	require.NoError(t, err)

	out, err := c.run(t, "", "orgs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Acme")
	assert.Contains(t, out, "Globex")

	out, err = c.run(t, "", "orgs", "use", "o2")
	require.NoError(t, err)
	assert.Contains(t, out, "Switched to Globex (member)")

	out, err = c.run(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Globex (member)", "the selection survives between runs")

	_, err = c.run(t, "", "orgs", "use", "o9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not one of yours")
}

func TestMembersList(t *testing.T) {
	c, _ := newCLI(t)
	_, err := c.run(t, "", "login", "--email", "ada@example.com", "--password", "secret123")
	require.NoError(t, err)

	out, err := c.run(t, "", "members", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "bob@example.com")
	assert.NotContains(t, out, "cy@example.com")

	out, err = c.run(t, "", "members", "list", "--status", "invited")
	require.NoError(t, err)
	assert.Contains(t, out, "cy@example.com")

	_, err = c.run(t, "", "members", "list", "--status", "gone")
	assert.Error(t, err)
}

func TestRefreshIsTransparent(t *testing.T) {
	c, b := newCLI(t)
	_, err := c.run(t, "", "login", "--email", "ada@example.com", "--password", "secret123")
	require.NoError(t, err)

	b.Expire()
	out, err := c.run(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada Lovelace")
	assert.Equal(t, 1, b.Refreshes())

	b.Expire()
	b.FailRefresh()
	_, err = c.run(t, "", "members", "list")
	require.Error(t, err)
}
