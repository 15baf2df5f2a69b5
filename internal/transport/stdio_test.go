package transport

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapCommandInShellUnixQuotesSpacedArgs(t *testing.T) {
	if runtime.GOOS == osWindows {
		t.Skip("unix-shell specific")
	}
	shellCmd, shellArgs := WrapCommandInShell("mytool", []string{"--name", "has space"})
	assert.NotEmpty(t, shellCmd)
	require := shellArgs[len(shellArgs)-1]
	assert.Contains(t, require, `"has space"`)
}

func TestParseCommandHonorsQuotes(t *testing.T) {
	got := ParseCommand(`mytool --name "has space" --flag`)
	assert.Equal(t, []string{"mytool", "--name", "has space", "--flag"}, got)
}

func TestParseCommandSingleQuotes(t *testing.T) {
	got := ParseCommand(`mytool 'one two'`)
	assert.Equal(t, []string{"mytool", "one two"}, got)
}

func TestBuildEnvironmentOverridesWin(t *testing.T) {
	env := BuildEnvironment(map[string]string{"SENTINEL_TEST_VAR": "1"})
	found := false
	for _, kv := range env {
		if kv == "SENTINEL_TEST_VAR=1" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuildEnvironmentNoOverridesReturnsBase(t *testing.T) {
	env := BuildEnvironment(nil)
	assert.NotEmpty(t, env)
}
