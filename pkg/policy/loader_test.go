package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/steps"
)

const strictSeedRego = `# Seed must be positive.
# Zero and negative seeds are reserved.
package custom.strictseed

import rego.v1

deny contains {"message": "seed must be positive"} if {
	input.plan.settings.seed <= 0
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "strict-seed.rego")
	writeFile(t, policyFile, strictSeedRego)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "strict-seed" {
		t.Errorf("Expected name 'strict-seed', got '%s'", policy.Name)
	}
	if policy.Rego != strictSeedRego {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected default severity error, got %s", policy.Severity)
	}
	if policy.Description != "Seed must be positive. Zero and negative seeds are reserved." {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Source != policyFile {
		t.Errorf("Expected source %s, got %s", policyFile, policy.Source)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "seed.json")
	data, err := json.Marshal(Policy{
		Description: "from json",
		Rego:        strictSeedRego,
		Severity:    SeverityWarning,
		Enabled:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, policyFile, string(data))

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "seed" {
		t.Errorf("Expected name from file, got %q", policy.Name)
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("Expected severity warning, got %s", policy.Severity)
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "b.rego"), strictSeedRego)
	writeFile(t, filepath.Join(sub, "a.rego"), strictSeedRego)
	writeFile(t, filepath.Join(dir, "README.md"), "not a policy")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
	if policies[0].Name != "b" || policies[1].Name != "a" {
		t.Errorf("Expected lexical source order [b a], got [%s %s]", policies[0].Name, policies[1].Name)
	}
}

func TestLoadFromPaths_Missing(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	_, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "nope")})
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
}

func TestEngine_LoadPolicies(t *testing.T) {
	eng := newTestEngine(t)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "strict-seed.rego"), strictSeedRego)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	settings := engine.DefaultRunSettings()
	settings.Seed = -3
	plan := compilePlan(t, builtinRegistry(t), steps.DefaultRecipe(), settings)

	result, err := eng.Evaluate(context.Background(), plan, "run")
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected loaded policy to block")
	}
	if result.Violations[0].Policy != "strict-seed" {
		t.Errorf("Unexpected violation: %+v", result.Violations[0])
	}
}

func TestEngine_WatchReloadsPolicies(t *testing.T) {
	eng := newTestEngine(t)

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader, err := eng.Watch(ctx, []string{dir})
	if err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	writeFile(t, filepath.Join(dir, "strict-seed.rego"), strictSeedRego)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := eng.GetPolicy("strict-seed"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Policy was not reloaded")
		}
		time.Sleep(50 * time.Millisecond)
	}

	if len(eng.ListPolicies()) != 4 {
		t.Errorf("Expected built-ins plus one custom policy, got %d", len(eng.ListPolicies()))
	}
}
