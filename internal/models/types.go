package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type User struct {
	Name    string         `json:"name,omitempty"`
	Email   string         `json:"email,omitempty"`
	Picture string         `json:"picture,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// DisplayName falls back from name to email to "User".
func (u *User) DisplayName() string {
	if u == nil {
		return "User"
	}
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return "User"
}

// PredictionForm holds the raw screen inputs.
type PredictionForm struct {
	N            string `json:"N"`
	P            string `json:"P"`
	K            string `json:"K"`
	Temperature  string `json:"temperature"`
	Humidity     string `json:"humidity"`
	PH           string `json:"ph"`
	Rainfall     string `json:"rainfall"`
	PreviousCrop string `json:"previous_crop"`
}

type PredictionRequest struct {
	N            float64 `json:"N"`
	P            float64 `json:"P"`
	K            float64 `json:"K"`
	Temperature  float64 `json:"temperature"`
	Humidity     float64 `json:"humidity"`
	PH           float64 `json:"ph"`
	Rainfall     float64 `json:"rainfall"`
	PreviousCrop string  `json:"previous_crop"`
}

type PredictionResult struct {
	PredictedCrop  string  `json:"predicted_crop"`
	PredictedYield float64 `json:"predicted_yield"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidationError is a local form error. It never reaches the network.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing required field: %s", e.Field)
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

type formField struct {
	name  string
	value string
	dst   *float64
}

// Request validates the form and coerces the numeric fields.
func (f PredictionForm) Request() (*PredictionRequest, error) {
	req := &PredictionRequest{PreviousCrop: f.PreviousCrop}

	fields := []formField{
		{"N", f.N, &req.N},
		{"P", f.P, &req.P},
		{"K", f.K, &req.K},
		{"temperature", f.Temperature, &req.Temperature},
		{"humidity", f.Humidity, &req.Humidity},
		{"ph", f.PH, &req.PH},
		{"rainfall", f.Rainfall, &req.Rainfall},
		{"previous_crop", f.PreviousCrop, nil},
	}

	for _, field := range fields {
		if strings.TrimSpace(field.value) == "" {
			return nil, &ValidationError{Field: field.name}
		}
	}

	for _, field := range fields {
		if field.dst == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(field.value), 64)
		// ParseFloat accepts NaN and Inf, which JSON cannot carry.
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ValidationError{Field: field.name, Reason: "must be a number"}
		}
		*field.dst = v
	}

	return req, nil
}

// ViewState is the prediction screen state kept per browser session.
type ViewState struct {
	Form      PredictionForm    `json:"form"`
	Loading   bool              `json:"loading"`
	Result    *PredictionResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}
