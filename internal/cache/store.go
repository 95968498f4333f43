package cache

import (
	"context"
	"errors"

	"crop-planner/internal/models"
)

var ErrNotFound = errors.New("view state not found")

// Store keeps the prediction screen state of each browser session.
type Store interface {
	Load(ctx context.Context, sessionID string) (*models.ViewState, error)
	Save(ctx context.Context, sessionID string, state *models.ViewState) error
	Delete(ctx context.Context, sessionID string) error
}

func stateKey(sessionID string) string {
	return "viewstate:" + sessionID
}
