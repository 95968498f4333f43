package recommend

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crop-planner/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("JSON encode error", "error", err)
	}
}

// Router serves POST /api/predict/ with the same status codes as the
// production prediction service.
func Router() http.Handler {
	r := chi.NewRouter()

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{Error: "Invalid request method"})
	})

	r.Post("/api/predict/", func(w http.ResponseWriter, r *http.Request) {
		var req models.PredictionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
		slog.Info("Received prediction request", "previous_crop", req.PreviousCrop)

		result, err := Recommend(&req)
		if err != nil {
			slog.Warn("Prediction rejected", "error", err)
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}

		slog.Info("Predicted", "crop", result.PredictedCrop, "yield", result.PredictedYield)
		writeJSON(w, http.StatusOK, result)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})

	return r
}
