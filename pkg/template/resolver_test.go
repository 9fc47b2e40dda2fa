package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testContext() *Context {
	return &Context{
		Alert: map[string]any{
			"severity": "high",
			"host": map[string]any{
				"hostname": "ws-42",
				"ip":       "10.0.0.7",
			},
		},
		Steps: map[string]any{
			"step-01": map[string]any{
				"output": map[string]any{
					"score":   float64(92),
					"matched": true,
				},
			},
		},
		Context: map[string]any{
			"execution_id": "exec-123",
			"mode":         "production",
		},
		LookupEnv: func(key string) (string, bool) {
			if key == "REGION" {
				return "eu-west-1", true
			}
			return "", false
		},
	}
}

func TestResolve_StandaloneExpressionPreservesType(t *testing.T) {
	ctx := testContext()

	assert.Equal(t, float64(92), Resolve("{{steps.step-01.output.score}}", ctx))
	assert.Equal(t, true, Resolve("{{ steps.step-01.output.matched }}", ctx))
	assert.Equal(t, "ws-42", Resolve("{{alert.host.hostname}}", ctx))
}

func TestResolve_EmbeddedExpressionStringifies(t *testing.T) {
	ctx := testContext()

	got := Resolve("host {{alert.host.hostname}} scored {{steps.step-01.output.score}}", ctx)
	assert.Equal(t, "host ws-42 scored 92", got)
}

func TestResolve_MissingPath(t *testing.T) {
	ctx := testContext()

	// Standalone: undefined passes through as nil.
	assert.Nil(t, Resolve("{{alert.host.nope}}", ctx))
	assert.Nil(t, Resolve("{{steps.missing.output.x}}", ctx))
	assert.Nil(t, Resolve("{{bogus.namespace}}", ctx))

	// Embedded: undefined stringifies to empty.
	assert.Equal(t, "value=", Resolve("value={{alert.host.nope}}", ctx))
}

func TestResolve_EnvNamespace(t *testing.T) {
	ctx := testContext()

	assert.Equal(t, "eu-west-1", Resolve("{{env.REGION}}", ctx))
	assert.Nil(t, Resolve("{{env.MISSING}}", ctx))
	// env paths deeper than one segment are undefined
	assert.Nil(t, Resolve("{{env.REGION.zone}}", ctx))
}

func TestResolve_ContextNamespace(t *testing.T) {
	ctx := testContext()

	assert.Equal(t, "exec-123", Resolve("{{context.execution_id}}", ctx))
	assert.Equal(t, "mode: production", Resolve("mode: {{context.mode}}", ctx))
}

func TestResolve_NonStringValuesRecurse(t *testing.T) {
	ctx := testContext()

	assert.Equal(t, 42, Resolve(42, ctx))
	assert.Equal(t, true, Resolve(true, ctx))
	assert.Nil(t, Resolve(nil, ctx))

	nested := map[string]any{
		"host":  "{{alert.host.hostname}}",
		"extra": []any{"{{alert.severity}}", 7},
	}
	got := Resolve(nested, ctx).(map[string]any)
	assert.Equal(t, "ws-42", got["host"])
	assert.Equal(t, []any{"high", 7}, got["extra"])
}

func TestResolveParameters_DoesNotMutateInput(t *testing.T) {
	ctx := testContext()
	params := map[string]any{
		"host":      "{{alert.host.hostname}}",
		"threshold": "{{steps.step-01.output.score}}",
	}

	got := ResolveParameters(params, ctx)
	assert.Equal(t, "ws-42", got["host"])
	assert.Equal(t, float64(92), got["threshold"])

	// Original parameter map is untouched.
	assert.Equal(t, "{{alert.host.hostname}}", params["host"])
}

func TestResolveParameters_NilYieldsEmptyMap(t *testing.T) {
	got := ResolveParameters(nil, testContext())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestResolve_Deterministic(t *testing.T) {
	ctx := testContext()
	first := Resolve("{{steps.step-01.output.score}}", ctx)
	second := Resolve("{{steps.step-01.output.score}}", ctx)
	assert.Equal(t, first, second)
}

func TestResolve_CompositeStringification(t *testing.T) {
	ctx := testContext()
	got := Resolve("host={{alert.host}}", ctx).(string)
	assert.Contains(t, got, `"hostname":"ws-42"`)
}
