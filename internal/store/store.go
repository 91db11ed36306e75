// Package store owns the goal collection and its persistence.
//
// GoalStore is the only writer of goals. Every mutation rewrites the whole
// collection to a storage.Slot; write failures are logged and never surface
// to the mutating caller. The store performs no input validation.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"savings/internal/core"
	"savings/internal/log"
	"savings/internal/storage"
)

// DefaultKey is the slot key used when none is configured.
const DefaultKey = "savings-planner-goals"

type GoalStore struct {
	mu     sync.RWMutex
	slot   storage.Slot
	key    string
	goals  []core.Goal
	loaded bool
	// readOnly is set when an unreadable stored document could not be
	// backed up; writing would destroy it.
	readOnly bool

	now    func() time.Time
	newID  func() string
	logger *log.Logger
}

type Option func(*GoalStore)

// WithKey sets the slot key the collection is stored under.
func WithKey(key string) Option {
	return func(s *GoalStore) {
		if key != "" {
			s.key = key
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *GoalStore) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *GoalStore) { s.newID = newID }
}

func WithLogger(l *log.Logger) Option {
	return func(s *GoalStore) { s.logger = l.WithComponent(log.ComponentStore) }
}

func New(slot storage.Slot, opts ...Option) *GoalStore {
	s := &GoalStore{
		slot:   slot,
		key:    DefaultKey,
		goals:  []core.Goal{},
		now:    time.Now,
		newID:  core.NewID,
		logger: log.Default(log.ComponentStore),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the slot key in use.
func (s *GoalStore) Key() string { return s.key }

// Initialize loads the collection from the slot. Missing, unreadable or
// unparseable data leaves the store empty; it never fails. Mutations made
// before Initialize are never written and are replaced by the loaded
// collection.
//
// A stored document that cannot be decoded is copied to a backup key
// before anything overwrites it. If that copy fails, or the slot cannot be
// read at all, the store keeps serving but stops writing.
func (s *GoalStore) Initialize(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.goals = []core.Goal{}
	s.loaded = true
	s.readOnly = false

	data, ok, err := s.slot.Get(ctx, s.key)
	if err != nil {
		// whatever is stored may still be valid; never overwrite it blind
		s.readOnly = true
		s.logger.ErrorContext(ctx, "Failed to read goals, starting empty with writes disabled",
			log.FieldStorageKey, s.key, log.FieldError, err)
		return
	}
	if !ok {
		s.logger.InfoContext(ctx, "No stored goals found", log.FieldStorageKey, s.key)
		return
	}

	goals, version, err := decodeDocument(data)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to decode stored goals, starting empty",
			log.FieldStorageKey, s.key, "version", version, log.FieldError, err)
		s.backupLocked(ctx, data, version, err)
		return
	}
	s.goals = goals
	s.logger.InfoContext(ctx, "Goals loaded",
		log.FieldStorageKey, s.key, "count", len(goals), "stored_version", version)
}

// BackupKey is where an undecodable document stored under key is kept.
// Documents from a newer build get a per-version key so a later downgrade
// cannot overwrite an earlier backup of a different version.
func BackupKey(key string, version int, cause error) string {
	if errors.Is(cause, ErrUnsupportedVersion) {
		return fmt.Sprintf("%s.v%d.bak", key, version)
	}
	return key + ".bak"
}

func (s *GoalStore) backupLocked(ctx context.Context, data []byte, version int, cause error) {
	key := BackupKey(s.key, version, cause)
	if err := s.slot.Set(ctx, key, data); err != nil {
		s.readOnly = true
		s.logger.ErrorContext(ctx, "Failed to back up stored goals, writes disabled",
			log.FieldStorageKey, key, log.FieldError, err)
		return
	}
	s.logger.WarnContext(ctx, "Stored goals backed up before overwrite",
		log.FieldStorageKey, key, "version", version)
}

// ReadOnly reports whether writes are disabled to protect a stored
// document this build could not read.
func (s *GoalStore) ReadOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readOnly
}

// Loaded reports whether Initialize has completed.
func (s *GoalStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Goals returns a copy of the collection in insertion order.
func (s *GoalStore) Goals() []core.Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Goal, len(s.goals))
	for i, g := range s.goals {
		out[i] = g.Clone()
	}
	return out
}

func (s *GoalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.goals)
}

func (s *GoalStore) Goal(id string) (core.Goal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.goals[i].Clone(), true
	}
	return core.Goal{}, false
}

// CreateGoal appends a new goal with no contributions.
func (s *GoalStore) CreateGoal(ctx context.Context, name string, target decimal.Decimal, currency core.Currency) core.Goal {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	g := core.Goal{
		ID:            s.newID(),
		Name:          strings.TrimSpace(name),
		TargetAmount:  target,
		Currency:      currency,
		CurrentAmount: decimal.Zero,
		Contributions: []core.Contribution{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.goals = append(s.goals, g)
	s.persistLocked(ctx)
	return g.Clone()
}

// Change is one goal as it was just before and just after a mutation,
// both taken under the same lock.
type Change struct {
	Before core.Goal
	After  core.Goal
}

// DeleteGoal removes the goal and its contributions. Unknown ids are ignored.
func (s *GoalStore) DeleteGoal(ctx context.Context, id string) bool {
	_, ok := s.RemoveGoal(ctx, id)
	return ok
}

// RemoveGoal is DeleteGoal returning the removed goal.
func (s *GoalStore) RemoveGoal(ctx context.Context, id string) (core.Goal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return core.Goal{}, false
	}
	removed := s.goals[i].Clone()
	s.goals = append(s.goals[:i:i], s.goals[i+1:]...)
	s.persistLocked(ctx)
	return removed, true
}

// AddContribution appends a contribution and adds its amount to the goal's
// running total. Overshooting the target is allowed. Unknown ids are ignored.
func (s *GoalStore) AddContribution(ctx context.Context, goalID string, amount decimal.Decimal, date time.Time, note string) (core.Contribution, bool) {
	c, _, ok := s.Contribute(ctx, goalID, amount, date, note)
	return c, ok
}

// Contribute is AddContribution also reporting the goal's change.
func (s *GoalStore) Contribute(ctx context.Context, goalID string, amount decimal.Decimal, date time.Time, note string) (core.Contribution, Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(goalID)
	if i < 0 {
		return core.Contribution{}, Change{}, false
	}
	c := core.Contribution{
		ID:     s.newID(),
		Amount: amount,
		Date:   date,
		Note:   note,
	}

	before := s.goals[i].Clone()
	g := s.goals[i].Clone()
	g.Contributions = append(g.Contributions, c)
	g.CurrentAmount = g.CurrentAmount.Add(amount)
	g.UpdatedAt = s.now()
	s.goals[i] = g

	s.persistLocked(ctx)
	return c, Change{Before: before, After: g.Clone()}, true
}

// UpdateGoal applies the non-nil fields of patch. Unknown ids are ignored.
func (s *GoalStore) UpdateGoal(ctx context.Context, goalID string, patch core.GoalPatch) (core.Goal, bool) {
	ch, ok := s.Patch(ctx, goalID, patch)
	return ch.After, ok
}

// Patch is UpdateGoal also reporting the goal as it was before.
func (s *GoalStore) Patch(ctx context.Context, goalID string, patch core.GoalPatch) (Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(goalID)
	if i < 0 {
		return Change{}, false
	}
	before := s.goals[i].Clone()
	g := s.goals[i]
	if patch.Name != nil {
		g.Name = *patch.Name
	}
	if patch.TargetAmount != nil {
		g.TargetAmount = *patch.TargetAmount
	}
	if patch.Currency != nil {
		g.Currency = *patch.Currency
	}
	g.UpdatedAt = s.now()
	s.goals[i] = g

	s.persistLocked(ctx)
	return Change{Before: before, After: g.Clone()}, true
}

// Persist writes the whole collection to the slot. Before Initialize it
// returns ErrNotInitialized, and while writes are disabled ErrReadOnly;
// neither writes anything.
func (s *GoalStore) Persist(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return ErrNotInitialized
	}
	if s.readOnly {
		return ErrReadOnly
	}
	return s.write(ctx)
}

func (s *GoalStore) persistLocked(ctx context.Context) {
	if !s.loaded || s.readOnly {
		return
	}
	if err := s.write(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist goals",
			log.FieldStorageKey, s.key, log.FieldOperation, log.OpPersist, log.FieldError, err)
	}
}

func (s *GoalStore) write(ctx context.Context) error {
	data, err := encodeDocument(s.goals)
	if err != nil {
		return err
	}
	return s.slot.Set(ctx, s.key, data)
}

func (s *GoalStore) indexOf(id string) int {
	for i := range s.goals {
		if s.goals[i].ID == id {
			return i
		}
	}
	return -1
}
