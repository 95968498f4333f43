// Package recommend is a deterministic stand-in for the trained crop and
// yield models: it picks the crop whose reference growing conditions are
// nearest to the measurements.
package recommend

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"crop-planner/internal/models"
)

var ErrUnknownCrop = errors.New("unknown previous crop")

type features [7]float64 // N, P, K, temperature, humidity, ph, rainfall

// scale normalises each feature by its agronomic range.
var scale = features{140, 145, 205, 45, 100, 14, 300}

type profile struct {
	ideal     features
	baseYield float64 // t/ha under ideal conditions
	legume    bool
}

var profiles = map[string]profile{
	"rice":        {features{80, 48, 40, 23.7, 82.3, 6.4, 236}, 4.2, false},
	"maize":       {features{78, 48, 20, 22.4, 65.1, 6.2, 84.8}, 5.5, false},
	"chickpea":    {features{40, 68, 80, 18.9, 16.9, 7.3, 80}, 1.0, true},
	"kidneybeans": {features{20, 67, 20, 20.1, 21.6, 5.7, 105.9}, 1.5, true},
	"pigeonpeas":  {features{21, 68, 20, 27.7, 48.1, 5.8, 149.5}, 0.9, true},
	"mungbean":    {features{21, 47, 20, 28.5, 85.5, 6.7, 48.4}, 0.8, true},
	"lentil":      {features{19, 68, 19, 24.5, 64.8, 6.9, 45.7}, 1.1, true},
	"cotton":      {features{118, 46, 20, 24, 79.8, 6.9, 80.4}, 2.2, false},
	"jute":        {features{78, 47, 40, 25, 79.6, 6.7, 174.8}, 2.5, false},
	"coffee":      {features{101, 29, 30, 25.5, 58.9, 6.8, 158}, 1.0, false},
	"banana":      {features{100, 82, 50, 27.4, 80.4, 6, 104.6}, 30, false},
	"watermelon":  {features{100, 17, 50, 25.6, 85.2, 6.5, 50.8}, 25, false},
}

const (
	// Growing the same crop twice in a row is discouraged.
	repeatPenalty = 1.25
	legumeBonus   = 1.1
)

// Crops lists the crop names the recommender knows, sorted.
func Crops() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validate(req *models.PredictionRequest) error {
	checks := []struct {
		name     string
		v        float64
		min, max float64
	}{
		{"N", req.N, 0, math.Inf(1)},
		{"P", req.P, 0, math.Inf(1)},
		{"K", req.K, 0, math.Inf(1)},
		{"temperature", req.Temperature, -50, 60},
		{"humidity", req.Humidity, 0, 100},
		{"ph", req.PH, 0, 14},
		{"rainfall", req.Rainfall, 0, math.Inf(1)},
	}
	for _, c := range checks {
		if math.IsNaN(c.v) || c.v < c.min || c.v > c.max {
			return fmt.Errorf("%s out of range: %v", c.name, c.v)
		}
	}
	return nil
}

func distance(a, b features) float64 {
	var sum float64
	for i := range a {
		d := (a[i] - b[i]) / scale[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Recommend returns the best next crop and its expected yield.
func Recommend(req *models.PredictionRequest) (*models.PredictionResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	previous := strings.ToLower(strings.TrimSpace(req.PreviousCrop))
	prev, ok := profiles[previous]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCrop, req.PreviousCrop)
	}

	x := features{req.N, req.P, req.K, req.Temperature, req.Humidity, req.PH, req.Rainfall}

	best, bestDist := "", math.Inf(1)
	for _, name := range Crops() {
		d := distance(x, profiles[name].ideal)
		if name == previous {
			d *= repeatPenalty
		}
		if d < bestDist {
			best, bestDist = name, d
		}
	}

	chosen := profiles[best]
	yield := chosen.baseYield / (1 + bestDist)
	if prev.legume && !chosen.legume {
		yield *= legumeBonus
	}

	return &models.PredictionResult{
		PredictedCrop:  best,
		PredictedYield: math.Round(yield*100) / 100,
	}, nil
}
