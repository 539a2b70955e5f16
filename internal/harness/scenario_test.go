package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/stage_then_sweep.yaml")
	require.NoError(t, err)

	assert.Equal(t, "stage_then_sweep", s.Name)
	assert.Equal(t, "R", s.Config.RootID)
	assert.Equal(t, 6, s.Config.RetentionMonths)
	assert.Equal(t, "R", s.Source.RootID)
	require.Len(t, s.Cloud.Users, 2)
	assert.Equal(t, []string{"root"}, s.Cloud.Users[1].Depts)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, OpAdvance, s.Steps[1].Op)
	assert.Equal(t, 6, s.Steps[1].Months)
	assert.Equal(t, AssertMutationOrder, s.Assertions[2].Type)
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "unknown key"
steps: [{ op: sync }]
assertion:
  - type: staged
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestValidateScenario(t *testing.T) {
	valid := func() Scenario {
		return Scenario{
			Name:        "s",
			Description: "d",
			Steps:       []Step{{Op: OpSync}},
			Assertions:  []Assertion{{Type: AssertStaged}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Scenario)
		wantErr string
	}{
		{"valid", func(*Scenario) {}, ""},
		{"no name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"no description", func(s *Scenario) { s.Description = "" }, "description is required"},
		{"no steps", func(s *Scenario) { s.Steps = nil }, "steps list is required"},
		{"no assertions", func(s *Scenario) { s.Assertions = nil }, "assertions list is required"},
		{"unknown op", func(s *Scenario) { s.Steps[0].Op = "explode" }, `unknown op "explode"`},
		{"empty advance", func(s *Scenario) { s.Steps[0] = Step{Op: OpAdvance} }, "advance needs months or duration"},
		{"bad duration", func(s *Scenario) { s.Steps[0] = Step{Op: OpAdvance, Duration: "soon"} }, "steps[0]"},
		{"source without snapshot", func(s *Scenario) { s.Steps[0] = Step{Op: OpSource} }, "source is required"},
		{"incomplete failure", func(s *Scenario) { s.Steps[0].Fail = []Failure{{Method: "GET"}} }, "fail[0]"},
		{"step out of range", func(s *Scenario) { s.Assertions[0].Step = 2 }, "step 2 out of range"},
		{"no type", func(s *Scenario) { s.Assertions[0].Type = "" }, "type is required"},
		{"unknown type", func(s *Scenario) { s.Assertions[0].Type = "vibes" }, `unknown assertion type "vibes"`},
		{"contains without call", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertMutationContains} }, "call is required"},
		{"order without calls", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertMutationOrder} }, "calls list is required"},
		{"negative count", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertMutationCount, Count: -1} }, "non-negative"},
		{"user without id", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertCloudUser, Absent: true} }, "third_id is required"},
		{"user without expect", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertCloudUser, ThirdID: "u1"} }, "expect or absent"},
		{"dept without id", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertCloudDept, Absent: true} }, "ex_dept_id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := validateScenario(&s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	paths, err := FindScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, paths)

	single, err := FindScenarios(filepath.Join(dir, "b.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, single)

	_, err = FindScenarios(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
