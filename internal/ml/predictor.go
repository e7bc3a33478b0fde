package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"river-monitor/internal/models"
)

// ForceAlarmTemperatureC forces an alarm regardless of the model score
const ForceAlarmTemperatureC = 70.0

// Feature names understood by the model
const (
	FeatureWaterLevelNorm = "water_level_norm"
	FeatureWaterRiseRate  = "water_rise_rate"
	FeatureRain           = "rain"
	FeatureHumidity       = "humidity_pct"
)

// Thresholds split the model score into labels
type Thresholds struct {
	Alert  float64 `json:"alert"`
	Danger float64 `json:"danger"`
}

// Model represents a linear scoring model over the derived telemetry features
type Model struct {
	Version      string             `json:"version"`
	Coefficients map[string]float64 `json:"coefficients"`
	Intercept    float64            `json:"intercept"`
	Thresholds   Thresholds         `json:"thresholds"`
}

// Validate checks the threshold ordering
func (m *Model) Validate() error {
	if m.Thresholds.Danger < m.Thresholds.Alert {
		return fmt.Errorf("danger threshold %.2f below alert threshold %.2f", m.Thresholds.Danger, m.Thresholds.Alert)
	}
	return nil
}

// Score computes the linear score of a record. Absent humidity counts as 0.
func (m *Model) Score(record *models.TelemetryRecord) float64 {
	score := m.Intercept

	if coef, ok := m.Coefficients[FeatureWaterLevelNorm]; ok {
		score += coef * record.WaterLevelNorm
	}
	if coef, ok := m.Coefficients[FeatureWaterRiseRate]; ok {
		score += coef * record.WaterRiseRate
	}
	if coef, ok := m.Coefficients[FeatureRain]; ok && record.Rain {
		score += coef
	}
	if coef, ok := m.Coefficients[FeatureHumidity]; ok && record.HumidityPct != nil {
		score += coef * *record.HumidityPct
	}

	return score
}

// Label maps a score onto safe, alert or danger
func (m *Model) Label(score float64) string {
	switch {
	case score >= m.Thresholds.Danger:
		return models.LabelDanger
	case score >= m.Thresholds.Alert:
		return models.LabelAlert
	default:
		return models.LabelSafe
	}
}

// Predictor labels telemetry records with the advisory model
type Predictor struct {
	model  *Model
	logger *zap.Logger
}

// NewPredictor creates a predictor from an in-memory model
func NewPredictor(model *Model, logger *zap.Logger) (*Predictor, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return &Predictor{model: model, logger: logger}, nil
}

// LoadPredictor loads the model from file. A missing file is replaced by
// the sample model.
func LoadPredictor(modelPath string, logger *zap.Logger) (*Predictor, error) {
	data, err := os.ReadFile(modelPath)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("Model file not found, writing sample model", zap.String("path", modelPath))
		if err := CreateSampleModel(modelPath); err != nil {
			return nil, err
		}
		data, err = os.ReadFile(modelPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model: %w", err)
	}

	logger.Info("Loaded model",
		zap.String("path", modelPath),
		zap.String("version", model.Version),
		zap.Float64("alert_threshold", model.Thresholds.Alert),
		zap.Float64("danger_threshold", model.Thresholds.Danger),
	)

	return NewPredictor(&model, logger)
}

// Score computes the linear score of a record
func (p *Predictor) Score(record *models.TelemetryRecord) float64 {
	return p.model.Score(record)
}

// Predict labels a record. Temperatures above ForceAlarmTemperatureC force
// the danger label and set ForcedAlarm.
func (p *Predictor) Predict(record *models.TelemetryRecord) *models.Prediction {
	score := p.model.Score(record)
	label := p.model.Label(score)

	prediction := &models.Prediction{
		Timestamp:    record.Timestamp,
		Label:        label,
		Score:        score,
		ModelVersion: p.model.Version,
	}

	if record.TemperatureC != nil && *record.TemperatureC > ForceAlarmTemperatureC {
		prediction.ForcedAlarm = true
		prediction.Label = models.LabelDanger
	}

	p.logger.Debug("Prediction",
		zap.Float64("score", score),
		zap.String("label", prediction.Label),
		zap.Bool("forced_alarm", prediction.ForcedAlarm),
	)
	return prediction
}

// SampleModel returns the model used when none has been trained. Distances
// below the baseline and a falling distance push the score up.
func SampleModel() *Model {
	return &Model{
		Version: "sample-1",
		Coefficients: map[string]float64{
			FeatureWaterLevelNorm: -10.0, // closer surface -> higher risk
			FeatureWaterRiseRate:  -0.5,  // shrinking distance -> higher risk
			FeatureRain:           1.0,
			FeatureHumidity:       0.01,
		},
		Intercept: 10.0,
		Thresholds: Thresholds{
			Alert:  2.5,
			Danger: 4.5,
		},
	}
}

// CreateSampleModel writes the sample model to path
func CreateSampleModel(path string) error {
	return WriteModel(path, SampleModel())
}

// WriteModel writes model to path as indented JSON, creating the directory
// when needed
func WriteModel(path string, model *Model) error {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}
	return nil
}
