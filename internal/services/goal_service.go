package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"savings/internal/amqp"
	"savings/internal/core"
	"savings/internal/exchange"
	"savings/internal/log"
	"savings/internal/stats"
	"savings/internal/store"
)

// DeleteWarning is shown before a goal is removed.
const DeleteWarning = "Deleting this goal will permanently remove all associated data including contributions, notes, and progress history. This action cannot be undone."

var (
	goalOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_goal_operations_total",
		Help: "Goal mutations applied, by operation",
	}, []string{"operation"})

	goalCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "savings_goals",
		Help: "Number of goals in the collection",
	})

	eventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_event_publish_failures_total",
		Help: "Goal events that could not be published",
	}, []string{"event_type"})
)

// EventPublisher sends goal events to other processes.
type EventPublisher interface {
	PublishGoalEvent(ctx context.Context, msg *amqp.GoalEventMessage) error
}

// RateProvider supplies the exchange rates used for dashboard totals.
type RateProvider interface {
	Current(ctx context.Context) exchange.Snapshot
}

// GoalService orchestrates goal operations across the store and AMQP.
type GoalService struct {
	store     *store.GoalStore
	publisher EventPublisher
	rates     RateProvider
	now       func() time.Time
	logger    *log.StructuredLogger
}

// NewGoalService wires the store to optional collaborators. A nil publisher
// disables events; nil rates means the default pair is always used.
func NewGoalService(st *store.GoalStore, publisher EventPublisher, rates RateProvider) *GoalService {
	goalCount.Set(float64(st.Len()))
	return &GoalService{
		store:     st,
		publisher: publisher,
		rates:     rates,
		now:       time.Now,
		logger:    log.NewStructuredLogger(log.Default(log.ComponentGoals)),
	}
}

// Goals returns every goal with its derived figures, in creation order.
func (s *GoalService) Goals() []stats.GoalView {
	return stats.DeriveAll(s.store.Goals())
}

func (s *GoalService) Goal(id string) (stats.GoalView, bool) {
	g, ok := s.store.Goal(id)
	if !ok {
		return stats.GoalView{}, false
	}
	return stats.Derive(g), true
}

func (s *GoalService) CreateGoal(ctx context.Context, name string, target decimal.Decimal, currency core.Currency) stats.GoalView {
	g := s.store.CreateGoal(ctx, name, target, currency)
	s.record(ctx, log.OpCreate, g)
	s.publish(ctx, amqp.NewGoalEventMessage(amqp.EventGoalCreated, g))
	return stats.Derive(g)
}

// DeleteConfirmation describes what a delete would remove.
type DeleteConfirmation struct {
	GoalID            string          `json:"goalId"`
	Name              string          `json:"name"`
	TargetAmount      decimal.Decimal `json:"targetAmount"`
	CurrentAmount     decimal.Decimal `json:"currentAmount"`
	Currency          core.Currency   `json:"currency"`
	Progress          float64         `json:"progress"`
	ContributionCount int             `json:"contributionCount"`
	Warning           string          `json:"warning"`
}

// PrepareDelete returns the confirmation details for id without deleting.
func (s *GoalService) PrepareDelete(id string) (DeleteConfirmation, bool) {
	g, ok := s.store.Goal(id)
	if !ok {
		return DeleteConfirmation{}, false
	}
	return DeleteConfirmation{
		GoalID:            g.ID,
		Name:              g.Name,
		TargetAmount:      g.TargetAmount,
		CurrentAmount:     g.CurrentAmount,
		Currency:          g.Currency,
		Progress:          core.CalculateProgress(g.CurrentAmount, g.TargetAmount),
		ContributionCount: len(g.Contributions),
		Warning:           DeleteWarning,
	}, true
}

// DeleteGoal removes the goal and its contributions. Unknown ids are a no-op.
func (s *GoalService) DeleteGoal(ctx context.Context, id string) bool {
	g, ok := s.store.RemoveGoal(ctx, id)
	if !ok {
		return false
	}
	s.record(ctx, log.OpDelete, g)
	s.publish(ctx, amqp.NewGoalEventMessage(amqp.EventGoalDeleted, g))
	return true
}

// AddContribution records a deposit. Crossing the target also emits a
// goal.completed event.
func (s *GoalService) AddContribution(ctx context.Context, goalID string, amount decimal.Decimal, date time.Time, note string) (core.Contribution, stats.GoalView, bool) {
	c, ch, ok := s.store.Contribute(ctx, goalID, amount, date, note)
	if !ok {
		return core.Contribution{}, stats.GoalView{}, false
	}

	s.record(ctx, log.OpContribute, ch.After)
	s.publish(ctx, amqp.NewGoalEventMessage(amqp.EventContributionAdded, ch.After).WithContribution(c))
	s.publishIfCompleted(ctx, ch)
	return c, stats.Derive(ch.After), true
}

// UpdateGoal applies patch. Lowering the target below the saved amount
// counts as completing the goal.
func (s *GoalService) UpdateGoal(ctx context.Context, id string, patch core.GoalPatch) (stats.GoalView, bool) {
	ch, ok := s.store.Patch(ctx, id, patch)
	if !ok {
		return stats.GoalView{}, false
	}
	s.record(ctx, log.OpUpdate, ch.After)
	s.publish(ctx, amqp.NewGoalEventMessage(amqp.EventGoalUpdated, ch.After))
	s.publishIfCompleted(ctx, ch)
	return stats.Derive(ch.After), true
}

func isCompleted(g core.Goal) bool {
	return g.TargetAmount.IsPositive() && g.CurrentAmount.GreaterThanOrEqual(g.TargetAmount)
}

// publishIfCompleted relies on ch being taken under one store lock, so
// only the mutation that actually crosses the target sees the transition.
func (s *GoalService) publishIfCompleted(ctx context.Context, ch store.Change) {
	if isCompleted(ch.Before) || !isCompleted(ch.After) {
		return
	}
	s.logger.LogGoalMutation(ctx, "completion", ch.After.ID, ch.After.Name)
	s.publish(ctx, amqp.NewGoalEventMessage(amqp.EventGoalCompleted, ch.After))
}

func (s *GoalService) record(ctx context.Context, op string, g core.Goal) {
	goalOperations.WithLabelValues(op).Inc()
	goalCount.Set(float64(s.store.Len()))
	s.logger.LogGoalMutation(ctx, op, g.ID, g.Name)
}

// publish never fails the caller: the goal change is already stored.
func (s *GoalService) publish(ctx context.Context, msg *amqp.GoalEventMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishGoalEvent(ctx, msg); err != nil {
		eventPublishFailures.WithLabelValues(string(msg.Type)).Inc()
		s.logger.LogError(ctx, "Failed to publish goal event", err, log.OpPublish,
			log.NewFields().WithGoal(msg.GoalID, msg.GoalName))
	}
}

// Rates returns the snapshot used for conversions.
func (s *GoalService) Rates(ctx context.Context) exchange.Snapshot {
	if s.rates == nil {
		r := core.DefaultRates()
		return exchange.Snapshot{Rates: r, Source: exchange.SourceDefault, Stale: true}
	}
	return s.rates.Current(ctx)
}

// Dashboard is everything the dashboard page renders.
type Dashboard struct {
	Rates          exchange.Snapshot         `json:"rates"`
	Stats          stats.DashboardStats      `json:"stats"`
	Goals          []stats.GoalView          `json:"goals"`
	Distribution   []stats.DistributionSlice `json:"distribution"`
	Completion     []stats.CompletionBar     `json:"completion"`
	Trend          []stats.MonthPoint        `json:"trend"`
	MonthlyAverage decimal.Decimal           `json:"monthlyAverage"`
	GeneratedAt    time.Time                 `json:"generatedAt"`
}

// Dashboard computes the dashboard from one consistent copy of the goals.
func (s *GoalService) Dashboard(ctx context.Context) Dashboard {
	goals := s.store.Goals()
	snap := s.Rates(ctx)
	rates := snap.Rates
	now := s.now()

	return Dashboard{
		Rates:          snap,
		Stats:          stats.ComputeDashboardStats(goals, &rates),
		Goals:          stats.DeriveAll(goals),
		Distribution:   stats.Distribution(goals, &rates),
		Completion:     stats.Completion(goals),
		Trend:          stats.SavingsTrend(goals, &rates, now),
		MonthlyAverage: stats.MonthlyAverage(goals, &rates),
		GeneratedAt:    now,
	}
}

// Flush writes the collection to its slot, for use at shutdown.
func (s *GoalService) Flush(ctx context.Context) error {
	return s.store.Persist(ctx)
}

// Ready reports whether the stored collection has been loaded.
func (s *GoalService) Ready() bool {
	return s.store.Loaded()
}

// ReadOnly reports whether the store stopped writing to protect stored data
// it could not read.
func (s *GoalService) ReadOnly() bool { return s.store.ReadOnly() }
