package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratagen/strata/pkg/policy"
	"github.com/stratagen/strata/pkg/stores"
)

const smallRecipe = `name: small
settings:
  seed: 9
  dimensions:
    width: 16
    height: 8
steps:
  - step: foundation.plates
    config:
      count: 4
  - step: morphology.elevation
  - step: morphology.erosion
  - step: climate.temperature
  - step: climate.rainfall
  - step: ecology.biomes
  - step: host.commit-elevation
  - step: host.commit-biomes
`

// execute runs the CLI with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand("test", "none", "today")
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--log-level", "error"))

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeRecipe(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestStepsCommand(t *testing.T) {
	stdout, _, err := execute(t, "steps", "--json")
	require.NoError(t, err)

	var listing struct {
		Tags []struct {
			ID string `json:"id"`
		} `json:"tags"`
		Steps []struct {
			ID       string   `json:"id"`
			Provides []string `json:"provides"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &listing))
	assert.Len(t, listing.Steps, 8)
	assert.NotEmpty(t, listing.Tags)
	assert.Equal(t, "foundation.plates", listing.Steps[0].ID)

	stdout, _, err = execute(t, "steps")
	require.NoError(t, err)
	assert.Contains(t, stdout, "morphology.erosion")
	assert.Contains(t, stdout, "field:elevation")
}

func TestValidateCommand(t *testing.T) {
	path := writeRecipe(t, "small.yaml", smallRecipe)

	stdout, _, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "ok: 8 steps, fingerprint "), stdout)

	broken := writeRecipe(t, "broken.yaml", `steps:
  - step: ecology.biomes
`)
	_, stderr, err := execute(t, "validate", broken)
	require.Error(t, err)
	assert.Contains(t, stderr, "UNSATISFIED_DEPENDENCY")
}

func TestPlanCommandFormats(t *testing.T) {
	path := writeRecipe(t, "small.yaml", smallRecipe)

	validateOut, _, err := execute(t, "validate", path)
	require.NoError(t, err)
	fingerprint := strings.TrimSpace(validateOut[strings.LastIndex(validateOut, " ")+1:])

	stdout, _, err := execute(t, "plan", path, "--format", "json")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.Equal(t, fingerprint, doc["fingerprint"])

	stdout, _, err = execute(t, "plan", path, "--format", "dot")
	require.NoError(t, err)
	assert.Contains(t, stdout, "digraph")

	stdout, _, err = execute(t, "plan", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, fingerprint)
	assert.Contains(t, stdout, "ecology.biomes")

	_, _, err = execute(t, "plan", path, "--format", "yaml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestPlanCommandPolicies(t *testing.T) {
	path := writeRecipe(t, "small.yaml", smallRecipe)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no_erosion.rego"), []byte(`package strata.custom.noerosion

import rego.v1

deny contains msg if {
	some step in input.plan.steps
	step.id == "morphology.erosion"
	msg := "erosion is not allowed here"
}
`), 0o644))

	_, stderr, err := execute(t, "plan", path, "--policies", dir)
	require.Error(t, err)
	var admission *policy.AdmissionError
	assert.ErrorAs(t, err, &admission)
	assert.Contains(t, stderr, "erosion is not allowed here")

	_, stderr, err = execute(t, "plan", path, "--verbose", "foundation.plates", "--verbose", "morphology.elevation",
		"--verbose", "morphology.erosion", "--verbose", "climate.temperature", "--verbose", "climate.rainfall")
	require.NoError(t, err)
	assert.Contains(t, stderr, "WARN")
}

func TestRunCommandArchives(t *testing.T) {
	path := writeRecipe(t, "small.yaml", smallRecipe)
	db := filepath.Join(t.TempDir(), "runs.db")

	stdout, _, err := execute(t, "run", path, "--run-id", "cli-run", "--archive", db, "--verbose", "morphology.erosion")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Run cli-run")
	assert.Contains(t, stdout, "committed:   elevation")
	assert.Contains(t, stdout, "committed:   terrain")

	store, err := stores.NewSQLiteStore(stores.Config{Path: db})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	defer store.Close()

	run, err := store.GetRun(ctx, "cli-run")
	require.NoError(t, err)
	assert.Equal(t, stores.RunStatusCompleted, run.Status)
	assert.Equal(t, "small", run.Recipe)
	assert.Equal(t, int64(9), run.Seed)

	events, err := store.ListEvents(ctx, "cli-run", stores.EventFilter{Kind: "step.event"})
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestRunCommandSeedOverride(t *testing.T) {
	path := writeRecipe(t, "small.yaml", smallRecipe)

	first, _, err := execute(t, "run", path, "--run-id", "a")
	require.NoError(t, err)
	second, _, err := execute(t, "run", path, "--run-id", "a", "--seed", "10")
	require.NoError(t, err)

	fingerprintLine := func(out string) string {
		for _, line := range strings.Split(out, "\n") {
			if strings.HasPrefix(line, "fingerprint:") {
				return line
			}
		}
		return ""
	}
	assert.NotEmpty(t, fingerprintLine(first))
	assert.NotEqual(t, fingerprintLine(first), fingerprintLine(second))
}

// lockedBuffer is written by the watch goroutine and read by the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchCommandFollowsPolicies(t *testing.T) {
	path := writeRecipe(t, "small.yaml", smallRecipe)
	policyDir := t.TempDir()
	policyFile := filepath.Join(policyDir, "erosion.rego")
	require.NoError(t, os.WriteFile(policyFile, []byte(`package strata.custom.erosion

import rego.v1

deny contains msg if {
	some step in input.plan.steps
	step.id == "no.such.step"
	msg := "never"
}
`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newRootCommand("test", "none", "today")
	var out lockedBuffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"watch", path, "--policies", policyDir, "--debounce", "20ms", "--log-level", "error"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "changed)")
	}, 5*time.Second, 20*time.Millisecond)
	assert.NotContains(t, out.String(), "denied")

	require.NoError(t, os.WriteFile(policyFile, []byte(`package strata.custom.erosion

import rego.v1

deny contains msg if {
	some step in input.plan.steps
	step.id == "morphology.erosion"
	msg := "erosion is frozen"
}
`), 0o644))

	require.Eventually(t, func() bool {
		// Each touch of the recipe triggers a recompile against the current policies.
		_ = os.WriteFile(path, []byte(smallRecipe), 0o644)
		return strings.Contains(out.String(), "erosion is frozen")
	}, 10*time.Second, 200*time.Millisecond)
	assert.Contains(t, out.String(), "unchanged, denied")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
