package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jrhy/aetree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRows(t *testing.T, dir string, rows map[string]string) {
	for name, v := range rows {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(v), 0o644))
	}
}

func TestRepairConverges(t *testing.T) {
	left, right := t.TempDir(), t.TempDir()
	writeRows(t, left, map[string]string{"1": "a", "2": "b", "3": "c", "9": "i"})
	writeRows(t, right, map[string]string{"1": "a", "2": "B", "4": "d", "9": "i"})

	args := []string{"aetree", "--log-level", "error", "repair",
		"--start", "1", "--end", "10", "--left", left, "--right", right}
	require.NoError(t, newApp().Run(args))

	for name, want := range map[string]string{"1": "a", "2": "b", "3": "c", "9": "i"} {
		got, err := os.ReadFile(filepath.Join(right, name))
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
	_, err := os.Stat(filepath.Join(right, "4"))
	assert.True(t, os.IsNotExist(err), "row only on the target is removed")
}

func TestDiffAgainstCSV(t *testing.T) {
	left := t.TempDir()
	writeRows(t, left, map[string]string{"1": "a", "2": "b"})
	csvPath := filepath.Join(t.TempDir(), "right.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("key,value\n1,a\n2,b\n"), 0o644))

	args := []string{"aetree", "--log-level", "error", "diff",
		"--start", "1", "--end", "4", "--left", left, "--right", csvPath, "--hash", "sha256"}
	require.NoError(t, newApp().Run(args))
}

func TestUnknownHash(t *testing.T) {
	dir := t.TempDir()
	args := []string{"aetree", "diff", "--start", "1", "--end", "4",
		"--left", dir, "--right", dir, "--hash", "md5"}
	assert.Error(t, newApp().Run(args))
}

func TestRepairConvergesWithCoarseLeaves(t *testing.T) {
	left, right := t.TempDir(), t.TempDir()
	rows := map[string]string{}
	for i := 1; i <= 64; i++ {
		rows[fmt.Sprint(i)] = fmt.Sprint("value-", i)
	}
	writeRows(t, left, rows)
	writeRows(t, right, map[string]string{"3": "stale", "17": "value-17", "70": "outside"})

	args := []string{"aetree", "--log-level", "error", "repair", "--max-depth", "2",
		"--start", "1", "--end", "64", "--left", left, "--right", right}
	require.NoError(t, newApp().Run(args))
	require.NoError(t, newApp().Run(append(args[:3:3], "diff", "--max-depth", "2",
		"--start", "1", "--end", "64", "--left", left, "--right", right)))

	got, err := os.ReadFile(filepath.Join(right, "3"))
	require.NoError(t, err)
	assert.Equal(t, "value-3", string(got))
}

func TestRepairFailsWhenRangesRemain(t *testing.T) {
	assert.NoError(t, checkRepaired(nil))
	rng, err := aetree.NewIntRange(5, 8)
	require.NoError(t, err)
	err = checkRepaired([]aetree.Range{rng})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[5,8]")
}
