package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/goflagship-rules/internal/compiler"
	"github.com/TimurManjosov/goflagship-rules/internal/engine"
	"github.com/TimurManjosov/goflagship-rules/internal/evaluation"
	"github.com/TimurManjosov/goflagship-rules/internal/telemetry"
	"github.com/TimurManjosov/goflagship-rules/internal/testutil"
	"github.com/TimurManjosov/goflagship-rules/internal/validation"
)

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"table", "JSON", " yaml "} {
		_, err := ParseFormat(in)
		assert.NoError(t, err, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestPrintValidation(t *testing.T) {
	res := validation.NewValidationResult()
	res.AddError("r1", "rule.conditions[0]", "unknown operator: frobnicate")
	res.AddWarning("r2", "", "rules r1, r2 share priority 1", "give each rule a distinct priority")

	var buf bytes.Buffer
	require.NoError(t, PrintValidation(&buf, res, FormatTable))
	out := buf.String()
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "frobnicate")
	assert.Contains(t, out, "invalid: 2 issue(s)")

	buf.Reset()
	require.NoError(t, PrintValidation(&buf, res, FormatJSON))
	var decoded validation.ValidationResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.False(t, decoded.IsValid)
	assert.Len(t, decoded.Issues, 2)

	buf.Reset()
	require.NoError(t, PrintValidation(&buf, res, FormatYAML))
	var generic map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &generic))
	assert.Equal(t, false, generic["is_valid"])

	assert.Error(t, PrintValidation(&buf, res, "xml"))
}

func TestPrintCompiled(t *testing.T) {
	compiled := []*compiler.CompiledRule{compiler.New().Compile(testutil.PremiumUSRule(), false)}

	var buf bytes.Buffer
	require.NoError(t, PrintCompiled(&buf, compiled, FormatTable))
	assert.Contains(t, buf.String(), "premium_us")

	buf.Reset()
	require.NoError(t, PrintCompiled(&buf, compiled, FormatJSON))
	assert.Contains(t, buf.String(), `"rule_id": "premium_us"`)
}

func TestPrintResults(t *testing.T) {
	results := []evaluation.Result{
		{Matched: true, MatchedRuleID: "premium_us", Reason: engine.ReasonTargetingMatch},
		{Matched: true, MatchedRuleID: "everyone_else", Reason: engine.ReasonDefaultRule, Cached: false},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintResults(&buf, results, FormatTable))
	assert.Contains(t, buf.String(), "DEFAULT_RULE")

	buf.Reset()
	require.NoError(t, PrintResults(&buf, results[:1], FormatJSON))
	var single evaluation.Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &single))
	assert.Equal(t, "premium_us", single.MatchedRuleID)

	buf.Reset()
	require.NoError(t, PrintResults(&buf, results, FormatYAML))
	assert.Equal(t, 2, strings.Count(buf.String(), "matched_rule_id"))
}

func TestPrintMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	m.ObserveEvaluation(telemetry.OutcomeMatched, 2*time.Millisecond)
	m.ObserveEvaluation(telemetry.OutcomeCached, time.Millisecond)
	m.ObserveBatch(3)

	samples, err := GatherSamples(reg)
	require.NoError(t, err)
	byKey := make(map[string]MetricSample)
	for _, s := range samples {
		byKey[s.Name+"/"+s.Labels["outcome"]] = s
	}
	assert.Equal(t, 1.0, byKey["flagship_rules_evaluations_total/matched"].Value)
	assert.Equal(t, 1.0, byKey["flagship_rules_batches_total/"].Value)
	hist := byKey["flagship_rules_evaluation_duration_seconds/"]
	assert.Equal(t, 2.0, hist.Value)
	require.NotNil(t, hist.Sum)
	assert.InDelta(t, 0.003, *hist.Sum, 1e-9)

	var buf bytes.Buffer
	require.NoError(t, PrintMetrics(&buf, reg, FormatTable))
	assert.Contains(t, buf.String(), "outcome=cached")

	buf.Reset()
	require.NoError(t, PrintMetrics(&buf, reg, FormatJSON))
	var decoded []MetricSample
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, len(samples))
}
