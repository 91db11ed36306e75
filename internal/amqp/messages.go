package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"savings/internal/core"
)

// EventType names a goal lifecycle event.
type EventType string

const (
	EventGoalCreated       EventType = "goal.created"
	EventGoalUpdated       EventType = "goal.updated"
	EventGoalDeleted       EventType = "goal.deleted"
	EventContributionAdded EventType = "contribution.added"
	EventGoalCompleted     EventType = "goal.completed"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventGoalCreated, EventGoalUpdated, EventGoalDeleted, EventContributionAdded, EventGoalCompleted:
		return true
	}
	return false
}

// GoalEventMessage describes one change to a goal. It carries enough of the
// goal for consumers to act without reading the store.
type GoalEventMessage struct {
	Type           EventType        `json:"type"`
	GoalID         string           `json:"goalId"`
	GoalName       string           `json:"goalName"`
	Currency       core.Currency    `json:"currency"`
	TargetAmount   decimal.Decimal  `json:"targetAmount"`
	CurrentAmount  decimal.Decimal  `json:"currentAmount"`
	ContributionID string           `json:"contributionId,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// NewGoalEventMessage snapshots g for the given event.
func NewGoalEventMessage(t EventType, g core.Goal) *GoalEventMessage {
	return &GoalEventMessage{
		Type:          t,
		GoalID:        g.ID,
		GoalName:      g.Name,
		Currency:      g.Currency,
		TargetAmount:  g.TargetAmount,
		CurrentAmount: g.CurrentAmount,
		Timestamp:     time.Now(),
	}
}

// WithContribution attaches the contribution that triggered the event.
func (m *GoalEventMessage) WithContribution(c core.Contribution) *GoalEventMessage {
	amount := c.Amount
	m.ContributionID = c.ID
	m.Amount = &amount
	return m
}

// ToJSON converts the message to JSON bytes
func (m *GoalEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// GoalEventMessageFromJSON parses a message and rejects unknown event types.
func GoalEventMessageFromJSON(data []byte) (*GoalEventMessage, error) {
	var msg GoalEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if !msg.Type.IsValid() {
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	}
	if msg.GoalID == "" {
		return nil, fmt.Errorf("event %s without goal id", msg.Type)
	}
	return &msg, nil
}
