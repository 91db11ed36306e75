// Package worker turns goal events into milestone notifications.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"savings/internal/amqp"
	"savings/internal/core"
	"savings/internal/log"
	"savings/internal/storage"
)

// DefaultLedgerKey is the slot key of the notified-milestone ledger.
const DefaultLedgerKey = "savings-planner-milestones"

// Milestones are the progress percentages that trigger a notification.
var Milestones = []int{25, 50, 75, 100}

var milestonesNotified = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "savings_milestones_notified_total",
	Help: "Milestone notifications sent, by percentage",
}, []string{"milestone"})

// Notification announces that a goal reached a milestone.
type Notification struct {
	GoalID    string
	GoalName  string
	Milestone int
	Current   decimal.Decimal
	Target    decimal.Decimal
	Currency  core.Currency
	At        time.Time
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.WithComponent(log.ComponentWorker)}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	msg := fmt.Sprintf("Goal reached %d%%", note.Milestone)
	if note.Milestone >= 100 {
		msg = "Goal completed"
	}
	n.logger.InfoContext(ctx, msg,
		log.FieldGoalID, note.GoalID,
		log.FieldGoalName, note.GoalName,
		"saved", core.FormatAmount(note.Current, note.Currency),
		"target", core.FormatAmount(note.Target, note.Currency))
	return nil
}

// MilestoneWorker handles goal events. Each goal is notified at most once
// per milestone; the ledger of sent milestones lives in a storage slot so
// redelivered messages and restarts do not repeat notifications.
type MilestoneWorker struct {
	slot     storage.Slot
	key      string
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time

	mu     sync.Mutex
	ledger map[string]int
}

func NewMilestoneWorker(slot storage.Slot, notifier Notifier, logger *log.Logger) *MilestoneWorker {
	return &MilestoneWorker{
		slot:     slot,
		key:      DefaultLedgerKey,
		notifier: notifier,
		logger:   logger.WithComponent(log.ComponentWorker),
		now:      time.Now,
	}
}

// WithLedgerKey stores the ledger under key instead of DefaultLedgerKey.
func (w *MilestoneWorker) WithLedgerKey(key string) *MilestoneWorker {
	if key != "" {
		w.key = key
	}
	return w
}

// HandleGoalEvent processes one event. A returned error asks for redelivery.
func (w *MilestoneWorker) HandleGoalEvent(ctx context.Context, msg *amqp.GoalEventMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.loadLocked(ctx); err != nil {
		return err
	}

	w.logger.DebugContext(ctx, "Processing goal event",
		log.FieldEventType, msg.Type,
		log.FieldGoalID, msg.GoalID)

	switch msg.Type {
	case amqp.EventGoalDeleted:
		if _, ok := w.ledger[msg.GoalID]; !ok {
			return nil
		}
		delete(w.ledger, msg.GoalID)
		return w.saveLocked(ctx)

	case amqp.EventGoalCreated:
		w.logger.InfoContext(ctx, "New goal tracked",
			log.FieldGoalID, msg.GoalID,
			log.FieldGoalName, msg.GoalName,
			"target", core.FormatAmount(msg.TargetAmount, msg.Currency))
		return nil

	case amqp.EventContributionAdded, amqp.EventGoalUpdated, amqp.EventGoalCompleted:
		return w.checkMilestoneLocked(ctx, msg)
	}
	return nil
}

// ReachedMilestone returns the highest milestone at or below progress, or 0.
func ReachedMilestone(progress float64) int {
	reached := 0
	for _, m := range Milestones {
		if progress >= float64(m) {
			reached = m
		}
	}
	return reached
}

func (w *MilestoneWorker) checkMilestoneLocked(ctx context.Context, msg *amqp.GoalEventMessage) error {
	reached := ReachedMilestone(core.CalculateProgress(msg.CurrentAmount, msg.TargetAmount))
	if reached == 0 || reached <= w.ledger[msg.GoalID] {
		return nil
	}

	n := Notification{
		GoalID:    msg.GoalID,
		GoalName:  msg.GoalName,
		Milestone: reached,
		Current:   msg.CurrentAmount,
		Target:    msg.TargetAmount,
		Currency:  msg.Currency,
		At:        w.now(),
	}
	if err := w.notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("notify milestone %d: %w", reached, err)
	}
	milestonesNotified.WithLabelValues(strconv.Itoa(reached)).Inc()

	w.ledger[msg.GoalID] = reached
	return w.saveLocked(ctx)
}

func (w *MilestoneWorker) loadLocked(ctx context.Context) error {
	if w.ledger != nil {
		return nil
	}
	data, ok, err := w.slot.Get(ctx, w.key)
	if err != nil {
		return fmt.Errorf("read milestone ledger: %w", err)
	}
	ledger := make(map[string]int)
	if ok {
		if err := json.Unmarshal(data, &ledger); err != nil {
			w.logger.ErrorContext(ctx, "Milestone ledger unreadable, starting fresh",
				log.FieldStorageKey, w.key, log.FieldError, err)
			ledger = make(map[string]int)
		}
	}
	w.ledger = ledger
	return nil
}

func (w *MilestoneWorker) saveLocked(ctx context.Context) error {
	data, err := json.Marshal(w.ledger)
	if err != nil {
		return fmt.Errorf("encode milestone ledger: %w", err)
	}
	if err := w.slot.Set(ctx, w.key, data); err != nil {
		return fmt.Errorf("write milestone ledger: %w", err)
	}
	return nil
}

// Notified returns the highest milestone already sent for goalID.
func (w *MilestoneWorker) Notified(ctx context.Context, goalID string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.loadLocked(ctx); err != nil {
		return 0, err
	}
	return w.ledger[goalID], nil
}
