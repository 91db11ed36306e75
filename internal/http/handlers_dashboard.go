package http

import (
	"bytes"
	"net/http"

	"github.com/shopspring/decimal"

	"savings/internal/core"
	"savings/internal/exchange"
	"savings/internal/log"
	"savings/internal/services"
	"savings/internal/stats"
)

// goalCard is one goal on the dashboard page.
type goalCard struct {
	stats.GoalView
	Other          core.Currency
	OtherTarget    decimal.Decimal
	OtherSaved     decimal.Decimal
	NotedEntries   []core.Contribution
	MilestoneClass string
}

type indexPage struct {
	services.Dashboard
	Cards      []goalCard
	Currencies []core.Currency
	Today      string
	Warning    string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(s.goals.Dashboard(r.Context())).Write(w)
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(s.goals.Rates(r.Context())).Write(w)
}

func (s *Server) handleRefreshRates(w http.ResponseWriter, r *http.Request) {
	if s.rates == nil {
		ErrorResponse(http.StatusServiceUnavailable, "RATES_DISABLED", "Exchange rate refresh is not configured").Write(w)
		return
	}
	snap := s.rates.ForceRefresh(r.Context())
	if snap.Source != exchange.SourceLive {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate refresh fell back",
			log.FieldRateSource, snap.Source, log.FieldError, snap.Error)
	}
	NewResponse().JSON(snap).Write(w)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())
	if s.templates == nil {
		logger.ErrorContext(r.Context(), "Templates not loaded", log.FieldPath, r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	page := s.buildIndex(r)

	// render to a buffer so a template failure does not leave half a page
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "index.html", page); err != nil {
		logger.ErrorContext(r.Context(), "Index template execution failed",
			log.FieldError, err, log.FieldOperation, log.OpRender)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

func (s *Server) buildIndex(r *http.Request) indexPage {
	dash := s.goals.Dashboard(r.Context())
	rates := dash.Rates.Rates

	cards := make([]goalCard, len(dash.Goals))
	for i, g := range dash.Goals {
		other := otherCurrency(g.Currency)
		card := goalCard{
			GoalView:    g,
			Other:       other,
			OtherTarget: core.Convert(g.TargetAmount, g.Currency, other, rates),
			OtherSaved:  core.Convert(g.CurrentAmount, g.Currency, other, rates),
		}
		for _, c := range g.Contributions {
			if c.Note != "" {
				card.NotedEntries = append(card.NotedEntries, c)
			}
		}
		switch {
		case g.IsCompleted:
			card.MilestoneClass = "complete"
		case g.Progress >= 75:
			card.MilestoneClass = "near"
		}
		cards[i] = card
	}

	return indexPage{
		Dashboard:  dash,
		Cards:      cards,
		Currencies: core.Currencies(),
		Today:      s.now().Format(dateLayout),
		Warning:    services.DeleteWarning,
	}
}
