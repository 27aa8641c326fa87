package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendScript(t *testing.T) {
	name := filepath.Join(t.TempDir(), "burnin.txt")

	require.NoError(t, appendScript(name, "runin clear all"))
	require.NoError(t, appendScript(name, "runin add -w now memtester 64M 1"))
	require.NoError(t, appendScript(name, "runin start -w now -n 3"))

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "runin clear all\nrunin add -w now memtester 64M 1\nrunin start -w now -n 3\n", string(data))

	cmds, err := readScript(name)
	require.NoError(t, err)
	assert.Equal(t, []string{"runin clear all", "runin add -w now memtester 64M 1", "runin start -w now -n 3", ""}, cmds)
}

func TestAppendScript_EmptyName(t *testing.T) {
	require.Error(t, appendScript("", "runin log"))
}
