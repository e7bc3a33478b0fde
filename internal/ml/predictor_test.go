package ml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"river-monitor/internal/models"
)

func ptr(v float64) *float64 { return &v }

func samplePredictor(t *testing.T) *Predictor {
	t.Helper()
	p, err := NewPredictor(SampleModel(), zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestPredict_Labels(t *testing.T) {
	p := samplePredictor(t)

	cases := []struct {
		name   string
		record models.TelemetryRecord
		label  string
		score  float64
	}{
		{"calm river", models.TelemetryRecord{WaterLevelNorm: 1.0, HumidityPct: ptr(80)}, models.LabelSafe, 0.8},
		{"rising river", models.TelemetryRecord{WaterLevelNorm: 0.7, HumidityPct: ptr(80)}, models.LabelAlert, 3.8},
		{"flooding", models.TelemetryRecord{WaterLevelNorm: 0.5, HumidityPct: ptr(80)}, models.LabelDanger, 5.8},
		{"rain and fast rise", models.TelemetryRecord{WaterLevelNorm: 0.9, WaterRiseRate: -4, Rain: true}, models.LabelAlert, 4.0},
		{"no humidity reading", models.TelemetryRecord{WaterLevelNorm: 1.0}, models.LabelSafe, 0.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pred := p.Predict(&tc.record)
			assert.Equal(t, tc.label, pred.Label)
			assert.InDelta(t, tc.score, pred.Score, 1e-9)
			assert.False(t, pred.ForcedAlarm)
			assert.Equal(t, "sample-1", pred.ModelVersion)
		})
	}
}

func TestPredict_HighTemperatureForcesAlarm(t *testing.T) {
	p := samplePredictor(t)

	pred := p.Predict(&models.TelemetryRecord{WaterLevelNorm: 1.0, TemperatureC: ptr(71)})
	assert.True(t, pred.ForcedAlarm)
	assert.Equal(t, models.LabelDanger, pred.Label)

	pred = p.Predict(&models.TelemetryRecord{WaterLevelNorm: 1.0, TemperatureC: ptr(70)})
	assert.False(t, pred.ForcedAlarm)
	assert.Equal(t, models.LabelSafe, pred.Label)
}

func TestNewPredictor_RejectsInvertedThresholds(t *testing.T) {
	_, err := NewPredictor(&Model{Thresholds: Thresholds{Alert: 5, Danger: 1}}, zap.NewNop())
	assert.Error(t, err)
}

func TestLoadPredictor_WritesSampleWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model", "river_model.json")

	p, err := LoadPredictor(path, zap.NewNop())
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, "sample-1", p.model.Version)

	// A second load reads the written file
	p, err = LoadPredictor(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, SampleModel().Coefficients, p.model.Coefficients)
}

func TestLoadPredictor_CustomModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"version": "trained-7",
		"coefficients": {"water_rise_rate": -1},
		"intercept": 0,
		"thresholds": {"alert": 3, "danger": 6}
	}`), 0o600))

	p, err := LoadPredictor(path, zap.NewNop())
	require.NoError(t, err)

	pred := p.Predict(&models.TelemetryRecord{WaterRiseRate: -4})
	assert.Equal(t, models.LabelAlert, pred.Label)
	assert.Equal(t, "trained-7", pred.ModelVersion)
}

func TestLoadPredictor_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"coefficients": [`), 0o600))

	_, err := LoadPredictor(path, zap.NewNop())
	assert.Error(t, err)
}
