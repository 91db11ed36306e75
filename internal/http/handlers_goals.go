package http

import (
	"errors"
	"net/http"

	"savings/internal/core"
	"savings/internal/log"
	"savings/internal/stats"
)

// contributionResponse is returned after a contribution is recorded.
type contributionResponse struct {
	Contribution core.Contribution `json:"contribution"`
	Goal         stats.GoalView    `json:"goal"`
}

// parseBody reads the request body, writing a 400 when it is unusable.
func parseBody(w http.ResponseWriter, r *http.Request) (*RequestBodyParser, bool) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		msg := "Invalid request format"
		if errors.Is(err, ErrBodyTooLarge) {
			msg = "Request body too large"
		}
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rejected request body",
			log.FieldPath, r.URL.Path, log.FieldError, err)
		BadRequestError(msg).Write(w)
		return nil, false
	}
	return p, true
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(s.goals.Goals()).Write(w)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	view, ok := s.goals.Goal(r.PathValue("id"))
	if !ok {
		NotFoundError("Goal not found").Write(w)
		return
	}
	NewResponse().JSON(view).Write(w)
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	req, fe := parseCreateGoal(s.validate, p)
	if fe != nil {
		ValidationError(fe).Write(w)
		return
	}

	view := s.goals.CreateGoal(r.Context(), req.Name, req.TargetAmount, req.Currency)
	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/goals/"+view.ID).
		JSON(view).
		Write(w)
}

func (s *Server) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.goals.Goal(id); !ok {
		NotFoundError("Goal not found").Write(w)
		return
	}
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	patch, fe := parseGoalPatch(s.validate, p)
	if fe != nil {
		ValidationError(fe).Write(w)
		return
	}
	if patch.IsEmpty() {
		BadRequestError("No fields to update").Write(w)
		return
	}

	view, ok := s.goals.UpdateGoal(r.Context(), id, patch)
	if !ok {
		NotFoundError("Goal not found").Write(w)
		return
	}
	NewResponse().JSON(view).Write(w)
}

// handleDeleteGoal is the two-step delete: without confirm=true it only
// describes what would be removed.
func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !confirmed(r) {
		details, ok := s.goals.PrepareDelete(id)
		if !ok {
			NotFoundError("Goal not found").Write(w)
			return
		}
		ConfirmationRequired(details).Write(w)
		return
	}

	s.goals.DeleteGoal(r.Context(), id)
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleAddContribution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.goals.Goal(id); !ok {
		NotFoundError("Goal not found").Write(w)
		return
	}
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	req, fe := parseContribution(s.validate, p)
	if fe != nil {
		ValidationError(fe).Write(w)
		return
	}

	c, view, ok := s.goals.AddContribution(r.Context(), id, req.Amount, req.Date, req.Note)
	if !ok {
		NotFoundError("Goal not found").Write(w)
		return
	}
	NewResponse().
		Status(http.StatusCreated).
		JSON(contributionResponse{Contribution: c, Goal: view}).
		Write(w)
}
