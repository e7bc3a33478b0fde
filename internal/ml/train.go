package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"river-monitor/internal/models"
)

// MinTrainingRows is the smallest usable training set
const MinTrainingRows = 10

// ridge keeps the least squares problem solvable when a feature never
// varies, e.g. no rain in the whole window
const ridge = 1e-3

// ErrNotEnoughData is returned when too few usable records are available
var ErrNotEnoughData = errors.New("not enough training data")

// featureOrder is the column order of the design matrix after the intercept
var featureOrder = []string{
	FeatureWaterLevelNorm,
	FeatureWaterRiseRate,
	FeatureRain,
	FeatureHumidity,
}

// labelCode places a node danger level on the score scale: none is safe,
// advisory is alert, watch and critical are danger.
func labelCode(dangerLevel int) (float64, bool) {
	switch models.DangerLevel(dangerLevel) {
	case models.DangerNone:
		return 0, true
	case models.DangerAdvisory:
		return 1, true
	case models.DangerWatch, models.DangerCritical:
		return 2, true
	default:
		return 0, false
	}
}

func labelName(code float64) string {
	switch code {
	case 0:
		return models.LabelSafe
	case 1:
		return models.LabelAlert
	default:
		return models.LabelDanger
	}
}

// usable keeps records with a humidity reading and a known danger level
func usable(records []models.TelemetryRecord) []models.TelemetryRecord {
	out := make([]models.TelemetryRecord, 0, len(records))
	for _, r := range records {
		if r.HumidityPct == nil {
			continue
		}
		if _, ok := labelCode(r.DangerLevel); !ok {
			continue
		}
		out = append(out, r)
	}
	return out
}

func featureRow(r *models.TelemetryRecord) []float64 {
	rain := 0.0
	if r.Rain {
		rain = 1
	}
	return []float64{r.WaterLevelNorm, r.WaterRiseRate, rain, *r.HumidityPct}
}

// Train fits a linear model to recorded telemetry, labelled by the danger
// level the sensor node reported. Records without humidity or with an
// unknown danger level are skipped. Thresholds sit halfway between the
// mean scores of neighbouring labels.
func Train(records []models.TelemetryRecord) (*Model, error) {
	rows := usable(records)
	if len(rows) < MinTrainingRows {
		return nil, fmt.Errorf("%w: %d usable rows, need %d", ErrNotEnoughData, len(rows), MinTrainingRows)
	}

	// Ridge rows are appended below the data rows; the intercept is not
	// penalised
	nFeat := len(featureOrder)
	cols := nFeat + 1
	a := mat.NewDense(len(rows)+nFeat, cols, nil)
	b := mat.NewVecDense(len(rows)+nFeat, nil)

	codes := make([]float64, len(rows))
	for i := range rows {
		a.Set(i, 0, 1)
		for j, v := range featureRow(&rows[i]) {
			a.Set(i, j+1, v)
		}
		codes[i], _ = labelCode(rows[i].DangerLevel)
		b.SetVec(i, codes[i])
	}
	penalty := math.Sqrt(ridge)
	for j := 0; j < nFeat; j++ {
		a.Set(len(rows)+j, j+1, penalty)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(a, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("failed to fit model: %w", err)
		}
	}

	model := &Model{
		Version:      "trained-" + rows[len(rows)-1].Timestamp.UTC().Format("20060102T150405Z"),
		Coefficients: make(map[string]float64, nFeat),
		Intercept:    beta.AtVec(0),
	}
	for j, name := range featureOrder {
		model.Coefficients[name] = beta.AtVec(j + 1)
	}
	model.Thresholds = fitThresholds(model, rows, codes)

	return model, nil
}

// fitThresholds places each threshold between the mean scores of the two
// labels it separates, falling back to the label code midpoints when a
// label is missing from the data
func fitThresholds(model *Model, rows []models.TelemetryRecord, codes []float64) Thresholds {
	var sum, n [3]float64
	for i := range rows {
		c := int(codes[i])
		sum[c] += model.Score(&rows[i])
		n[c]++
	}

	mid := func(lo, hi int) float64 {
		if n[lo] == 0 || n[hi] == 0 {
			return float64(lo) + 0.5
		}
		return (sum[lo]/n[lo] + sum[hi]/n[hi]) / 2
	}

	t := Thresholds{Alert: mid(0, 1), Danger: mid(1, 2)}
	if t.Danger < t.Alert {
		t = Thresholds{Alert: 0.5, Danger: 1.5}
	}
	return t
}

// Evaluate returns the share of usable records whose label the model
// reproduces, and how many records were scored
func Evaluate(model *Model, records []models.TelemetryRecord) (float64, int) {
	rows := usable(records)
	if len(rows) == 0 {
		return 0, 0
	}

	hits := 0
	for i := range rows {
		code, _ := labelCode(rows[i].DangerLevel)
		if model.Label(model.Score(&rows[i])) == labelName(code) {
			hits++
		}
	}
	return float64(hits) / float64(len(rows)), len(rows)
}

// SplitHoldout sets every nth record aside for evaluation and returns the
// rest for training. n below 2 keeps everything for training.
func SplitHoldout(records []models.TelemetryRecord, n int) (train, holdout []models.TelemetryRecord) {
	if n < 2 {
		return records, nil
	}
	for i, r := range records {
		if (i+1)%n == 0 {
			holdout = append(holdout, r)
			continue
		}
		train = append(train, r)
	}
	return train, holdout
}
