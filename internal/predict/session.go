package predict

import (
	"errors"
	"time"

	"crop-planner/internal/models"
)

var ErrInFlight = errors.New("prediction already in progress")

// Session drives one screen's state through idle, loading and
// success or error.
type Session struct {
	state *models.ViewState
	now   func() time.Time
}

func NewSession(state *models.ViewState) *Session {
	if state == nil {
		state = &models.ViewState{}
	}
	return &Session{state: state, now: time.Now}
}

func (s *Session) State() *models.ViewState {
	return s.state
}

// Begin clears the previous outcome before the request is sent.
func (s *Session) Begin(form models.PredictionForm) error {
	if s.state.Loading {
		return ErrInFlight
	}
	s.state.Form = form
	s.state.Result = nil
	s.state.Error = ""
	s.state.Loading = true
	s.state.UpdatedAt = s.now()
	return nil
}

func (s *Session) Succeed(result *models.PredictionResult) {
	s.state.Result = result
	s.state.Error = ""
	s.state.Loading = false
	s.state.UpdatedAt = s.now()
}

func (s *Session) Fail(err error) {
	s.state.Result = nil
	s.state.Error = err.Error()
	s.state.Loading = false
	s.state.UpdatedAt = s.now()
}

// Invalid records a local validation error without touching Loading.
func (s *Session) Invalid(form models.PredictionForm, err error) {
	s.state.Form = form
	s.state.Error = err.Error()
	s.state.UpdatedAt = s.now()
}
