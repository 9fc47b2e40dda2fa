package runbook

import (
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/pkg/models"
)

const containmentYAML = `
id: rb-contain
version: 1.0.0
name: Host Containment
description: Isolate a compromised workstation.
tags: [containment, edr]
mitre_techniques: [T1059]
triggers:
  detection_sources: [edr]
  severities: [high, critical]
config:
  automation_level: L2
  max_execution_time: 900
  rollback_on_failure: true
steps:
  - id: collect
    action: collect_logs
    executor: siem
    timeout: 60
  - id: isolate
    action: isolate_host
    executor: edr
    parameters:
      hostname: "{{alert.host.hostname}}"
    depends_on: [collect]
    timeout: 120
    rollback:
      action: restore_connectivity
`

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(slog.Default())
}

func TestService_LoadValidRunbook(t *testing.T) {
	svc := newTestService(t)

	rb, err := svc.Load([]byte(containmentYAML))
	require.NoError(t, err)

	assert.Equal(t, "rb-contain", rb.ID)
	assert.Equal(t, "1.0.0", rb.Version)
	assert.Equal(t, models.AutomationLevelL2, rb.Config.AutomationLevel)
	require.Len(t, rb.Steps, 2)
	assert.Equal(t, []string{"collect"}, rb.Steps[1].DependsOn)
	require.NotNil(t, rb.Steps[1].Rollback)
	assert.Equal(t, "restore_connectivity", rb.Steps[1].Rollback.Action)

	got, err := svc.Registry().Get("rb-contain", "1.0.0")
	require.NoError(t, err)
	assert.Same(t, rb, got)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("id: rb\nversion: 1.0.0\nname: x\nautomaton_level: L1\nsteps: []\n"))
	assert.Error(t, err, "typos in field names are load errors")
}

func TestService_LoadValidationFailures(t *testing.T) {
	cases := map[string]string{
		"missing version": `
id: rb-x
name: No version
config: {automation_level: L1}
steps:
  - {id: a, action: collect_logs, executor: siem, timeout: 30}
`,
		"unknown automation level": `
id: rb-x
version: 1.0.0
name: Bad level
config: {automation_level: L9}
steps:
  - {id: a, action: collect_logs, executor: siem, timeout: 30}
`,
		"unknown action": `
id: rb-x
version: 1.0.0
name: Bad action
config: {automation_level: L1}
steps:
  - {id: a, action: format_disk, executor: siem, timeout: 30}
`,
		"duplicate step id": `
id: rb-x
version: 1.0.0
name: Dup
config: {automation_level: L1}
steps:
  - {id: a, action: collect_logs, executor: siem, timeout: 30}
  - {id: a, action: query_siem, executor: siem, timeout: 30}
`,
		"zero timeout": `
id: rb-x
version: 1.0.0
name: No timeout
config: {automation_level: L1}
steps:
  - {id: a, action: collect_logs, executor: siem}
`,
		"unknown dependency": `
id: rb-x
version: 1.0.0
name: Dangling dep
config: {automation_level: L1}
steps:
  - {id: a, action: collect_logs, executor: siem, timeout: 30, depends_on: [ghost]}
`,
		"dependency cycle": `
id: rb-x
version: 1.0.0
name: Cycle
config: {automation_level: L1}
steps:
  - {id: a, action: collect_logs, executor: siem, timeout: 30, depends_on: [b]}
  - {id: b, action: query_siem, executor: siem, timeout: 30, depends_on: [a]}
`,
		"bad on_error": `
id: rb-x
version: 1.0.0
name: Bad policy
config: {automation_level: L1}
steps:
  - {id: a, action: collect_logs, executor: siem, timeout: 30, on_error: retry}
`,
		"unknown rollback action": `
id: rb-x
version: 1.0.0
name: Bad rollback
config: {automation_level: L1}
steps:
  - id: a
    action: isolate_host
    executor: edr
    timeout: 30
    rollback: {action: unformat_disk}
`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newTestService(t)
			_, err := svc.Load([]byte(doc))
			assert.Error(t, err)
			assert.Zero(t, svc.Registry().Size(), "invalid runbooks never enter the registry")
		})
	}
}

func TestRegistry_Versioning(t *testing.T) {
	registry := NewRegistry()

	mk := func(version string) *models.Runbook {
		return &models.Runbook{ID: "rb-contain", Version: version, Name: "Host Containment"}
	}
	require.NoError(t, registry.Register(mk("1.9.2")))
	require.NoError(t, registry.Register(mk("1.10.0")))
	require.NoError(t, registry.Register(mk("1.2.0")))

	latest, err := registry.Latest("rb-contain")
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", latest.Version, "numeric segment ordering, not lexicographic")

	got, err := registry.Get("rb-contain", "1.9.2")
	require.NoError(t, err)
	assert.Equal(t, "1.9.2", got.Version)

	err = registry.Register(mk("1.9.2"))
	assert.ErrorIs(t, err, ErrVersionExists)

	_, err = registry.Get("rb-contain", "9.9.9")
	assert.ErrorIs(t, err, ErrRunbookNotFound)
	_, err = registry.Latest("rb-missing")
	assert.ErrorIs(t, err, ErrRunbookNotFound)
}

func TestRegistry_MatchAlert(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&models.Runbook{
		ID: "rb-edr", Version: "1.0.0", Name: "EDR",
		Triggers: models.RunbookTriggers{
			Sources:    []string{"edr"},
			Severities: []string{"high", "critical"},
		},
	}))
	require.NoError(t, registry.Register(&models.Runbook{
		ID: "rb-phish", Version: "1.0.0", Name: "Phishing",
		Triggers: models.RunbookTriggers{
			Sources:    []string{"email_gateway"},
			Techniques: []string{"T1566"},
		},
	}))
	require.NoError(t, registry.Register(&models.Runbook{
		ID: "rb-any", Version: "1.0.0", Name: "Catch all",
	}))

	matches := registry.MatchAlert(&models.AlertEvent{Source: "edr", Severity: "high"})
	require.Len(t, matches, 2)
	assert.Equal(t, "rb-any", matches[0].ID)
	assert.Equal(t, "rb-edr", matches[1].ID)

	matches = registry.MatchAlert(&models.AlertEvent{
		Source: "email_gateway", Severity: "low", MITRETechniques: []string{"T1566"},
	})
	require.Len(t, matches, 2, "undeclared severity dimension matches anything")

	assert.Nil(t, registry.MatchAlert(nil))
}

func TestService_LoadDir(t *testing.T) {
	fsys := fstest.MapFS{
		"runbooks/contain.yaml": &fstest.MapFile{Data: []byte(containmentYAML)},
		"runbooks/README.md":    &fstest.MapFile{Data: []byte("not a runbook")},
	}

	svc := newTestService(t)
	n, err := svc.LoadDir(fsys, "runbooks")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, svc.Registry().Size())
}

func TestService_LoadDirAbortsOnInvalidDocument(t *testing.T) {
	fsys := fstest.MapFS{
		"runbooks/bad.yaml": &fstest.MapFile{Data: []byte("id: rb\nversion: 1.0.0\nname: x\nconfig: {automation_level: L1}\nsteps: []\n")},
	}

	svc := newTestService(t)
	_, err := svc.LoadDir(fsys, "runbooks")
	assert.Error(t, err, "a runbook with no steps fails struct validation")
}
