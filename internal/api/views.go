package api

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"crop-planner/internal/models"
	"crop-planner/internal/theme"
)

//go:embed templates/*.html
var templateFS embed.FS

type fieldView struct {
	Name    string
	Label   string
	Value   string
	Numeric bool
}

type pageData struct {
	Title      string
	AppName    string
	AppVersion string
	Theme      theme.Theme
	User       *models.User

	// Login screen.
	Email          string
	Error          string
	GoogleEnabled  bool
	EmailEnabled   bool
	GoogleClientID string
	GoogleLoginURI string

	// Prediction screen.
	State  *models.ViewState
	Fields []fieldView
}

func formFields(f models.PredictionForm) []fieldView {
	return []fieldView{
		{"N", "Nitrogen (N)", f.N, true},
		{"P", "Phosphorus (P)", f.P, true},
		{"K", "Potassium (K)", f.K, true},
		{"temperature", "Temperature (°C)", f.Temperature, true},
		{"humidity", "Humidity (%)", f.Humidity, true},
		{"ph", "Soil pH", f.PH, true},
		{"rainfall", "Rainfall (mm)", f.Rainfall, true},
		{"previous_crop", "Previous crop", f.PreviousCrop, false},
	}
}

type views struct {
	tmpl *template.Template
}

func newViews() (*views, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &views{tmpl: tmpl}, nil
}

func (v *views) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := v.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("Template render error", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
