package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"savings/internal/core"
	"savings/internal/storage"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// failingSlot reads from an inner slot but rejects every write.
type failingSlot struct {
	storage.Slot
	sets int
}

func (f *failingSlot) Set(context.Context, string, []byte) error {
	f.sets++
	return errors.New("quota exceeded")
}

// brokenSlot fails every read.
type brokenSlot struct{ storage.Slot }

func (brokenSlot) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("device unavailable")
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(dur time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(dur)
	c.mu.Unlock()
}

func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func newTestStore(t *testing.T, slot storage.Slot) (*GoalStore, *fixedClock) {
	t.Helper()
	clock := &fixedClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	s := New(slot, WithClock(clock.Now), WithIDGenerator(sequentialIDs()))
	s.Initialize(context.Background())
	return s, clock
}

func TestCreateGoal(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, storage.NewMemorySlot())

	g := s.CreateGoal(ctx, "  Emergency Fund  ", d("500000"), core.INR)

	if g.Name != "Emergency Fund" {
		t.Errorf("name = %q, want trimmed", g.Name)
	}
	if !g.CurrentAmount.IsZero() || len(g.Contributions) != 0 || g.Contributions == nil {
		t.Errorf("new goal should start empty, got current=%s contributions=%v", g.CurrentAmount, g.Contributions)
	}
	if !g.CreatedAt.Equal(clock.Now()) || !g.UpdatedAt.Equal(g.CreatedAt) {
		t.Errorf("timestamps = %v/%v, want both %v", g.CreatedAt, g.UpdatedAt, clock.Now())
	}
	if got := s.Goals(); len(got) != 1 || got[0].ID != g.ID {
		t.Fatalf("Goals() = %+v", got)
	}
}

func TestCreateGoalPreservesOrderAndUniqueIDs(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemorySlot())
	s.Initialize(ctx)

	names := []string{"Trip", "Laptop", "Trip", "Car"}
	for _, n := range names {
		s.CreateGoal(ctx, n, d("100"), core.USD)
	}

	goals := s.Goals()
	seen := make(map[string]bool)
	for i, g := range goals {
		if g.Name != names[i] {
			t.Errorf("goal %d = %q, want %q", i, g.Name, names[i])
		}
		if seen[g.ID] {
			t.Errorf("duplicate id %s", g.ID)
		}
		seen[g.ID] = true
	}
}

func TestAddContributionKeepsRunningTotal(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, storage.NewMemorySlot())
	g := s.CreateGoal(ctx, "Vacation", d("1000"), core.USD)

	date := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	for _, amt := range []string{"0.1", "0.2", "250", "99.99"} {
		clock.Advance(time.Minute)
		if _, ok := s.AddContribution(ctx, g.ID, d(amt), date, ""); !ok {
			t.Fatalf("AddContribution(%s) reported unknown goal", amt)
		}
	}

	got, _ := s.Goal(g.ID)
	if !got.CurrentAmount.Equal(d("350.29")) {
		t.Errorf("current = %s, want 350.29", got.CurrentAmount)
	}
	if !got.CurrentAmount.Equal(got.SumContributions()) {
		t.Errorf("current %s diverged from sum %s", got.CurrentAmount, got.SumContributions())
	}
	if len(got.Contributions) != 4 || !got.Contributions[0].Amount.Equal(d("0.1")) {
		t.Errorf("contributions out of order: %+v", got.Contributions)
	}
	if !got.UpdatedAt.Equal(clock.Now()) || !got.CreatedAt.Before(got.UpdatedAt) {
		t.Errorf("updatedAt = %v, want %v", got.UpdatedAt, clock.Now())
	}
}

func TestAddContributionAllowsOvershoot(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemorySlot())
	g := s.CreateGoal(ctx, "Phone", d("100"), core.USD)

	s.AddContribution(ctx, g.ID, d("150"), time.Now(), "bonus")

	got, _ := s.Goal(g.ID)
	if !got.CurrentAmount.Equal(d("150")) {
		t.Fatalf("current = %s, want 150", got.CurrentAmount)
	}
	if got.Contributions[0].Note != "bonus" {
		t.Errorf("note = %q, want bonus", got.Contributions[0].Note)
	}
}

func TestUnknownIDsAreNoOps(t *testing.T) {
	ctx := context.Background()
	slot := storage.NewMemorySlot()
	s, _ := newTestStore(t, slot)
	s.CreateGoal(ctx, "Existing", d("10"), core.INR)
	before, _, _ := slot.Get(ctx, DefaultKey)

	if s.DeleteGoal(ctx, "nope") {
		t.Error("DeleteGoal(unknown) = true")
	}
	if _, ok := s.AddContribution(ctx, "nope", d("5"), time.Now(), ""); ok {
		t.Error("AddContribution(unknown) = true")
	}
	name := "Renamed"
	if _, ok := s.UpdateGoal(ctx, "nope", core.GoalPatch{Name: &name}); ok {
		t.Error("UpdateGoal(unknown) = true")
	}

	if goals := s.Goals(); len(goals) != 1 || goals[0].Name != "Existing" {
		t.Fatalf("collection changed: %+v", goals)
	}
	after, _, _ := slot.Get(ctx, DefaultKey)
	if string(before) != string(after) {
		t.Error("no-op mutations rewrote the stored document")
	}
}

func TestDeleteGoal(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemorySlot())
	a := s.CreateGoal(ctx, "A", d("1"), core.INR)
	b := s.CreateGoal(ctx, "B", d("1"), core.INR)
	c := s.CreateGoal(ctx, "C", d("1"), core.INR)
	s.AddContribution(ctx, b.ID, d("1"), time.Now(), "")

	if !s.DeleteGoal(ctx, b.ID) {
		t.Fatal("DeleteGoal(existing) = false")
	}
	goals := s.Goals()
	if len(goals) != 2 || goals[0].ID != a.ID || goals[1].ID != c.ID {
		t.Fatalf("after delete = %+v, want [A C]", goals)
	}
	if _, ok := s.Goal(b.ID); ok {
		t.Error("deleted goal still retrievable")
	}
}

func TestUpdateGoalAppliesPatch(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, storage.NewMemorySlot())
	g := s.CreateGoal(ctx, "Bike", d("500"), core.USD)
	s.AddContribution(ctx, g.ID, d("50"), time.Now(), "")
	clock.Advance(time.Hour)

	target := d("800")
	cur := core.INR
	updated, ok := s.UpdateGoal(ctx, g.ID, core.GoalPatch{TargetAmount: &target, Currency: &cur})
	if !ok {
		t.Fatal("UpdateGoal reported unknown goal")
	}
	if updated.Name != "Bike" || !updated.TargetAmount.Equal(target) || updated.Currency != core.INR {
		t.Errorf("patched goal = %+v", updated)
	}
	if !updated.CurrentAmount.Equal(d("50")) || len(updated.Contributions) != 1 {
		t.Error("patch must not touch contributions or current amount")
	}
	if !updated.UpdatedAt.Equal(clock.Now()) || updated.CreatedAt.Equal(updated.UpdatedAt) {
		t.Errorf("updatedAt = %v, want %v", updated.UpdatedAt, clock.Now())
	}
}

func TestMutationsReportChange(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemorySlot())
	g := s.CreateGoal(ctx, "Sofa", d("300"), core.INR)

	_, ch, ok := s.Contribute(ctx, g.ID, d("120"), time.Now(), "")
	if !ok || !ch.Before.CurrentAmount.IsZero() || !ch.After.CurrentAmount.Equal(d("120")) {
		t.Fatalf("Contribute change = %+v, %v", ch, ok)
	}

	target := d("100")
	ch, ok = s.Patch(ctx, g.ID, core.GoalPatch{TargetAmount: &target})
	if !ok || !ch.Before.TargetAmount.Equal(d("300")) || !ch.After.TargetAmount.Equal(d("100")) {
		t.Fatalf("Patch change = %+v, %v", ch, ok)
	}

	removed, ok := s.RemoveGoal(ctx, g.ID)
	if !ok || removed.ID != g.ID || len(removed.Contributions) != 1 {
		t.Fatalf("RemoveGoal = %+v, %v", removed, ok)
	}
	if _, ok := s.RemoveGoal(ctx, g.ID); ok {
		t.Error("second RemoveGoal should be a no-op")
	}
}

func TestGoalsReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemorySlot())
	g := s.CreateGoal(ctx, "Copy", d("10"), core.INR)
	s.AddContribution(ctx, g.ID, d("1"), time.Now(), "")

	goals := s.Goals()
	goals[0].Name = "mutated"
	goals[0].Contributions[0].Amount = d("1000")

	again, _ := s.Goal(g.ID)
	if again.Name != "Copy" || !again.Contributions[0].Amount.Equal(d("1")) {
		t.Fatalf("store state changed through returned copy: %+v", again)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	slot := storage.NewMemorySlot()
	s, _ := newTestStore(t, slot)

	g := s.CreateGoal(ctx, "House", d("2500000"), core.INR)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	s.AddContribution(ctx, g.ID, d("12345.67"), date, "first")
	s.AddContribution(ctx, g.ID, d("100"), date.AddDate(0, 0, 7), "")
	s.CreateGoal(ctx, "Car", d("20000"), core.USD)

	reloaded := New(slot)
	reloaded.Initialize(ctx)

	want, got := s.Goals(), reloaded.Goals()
	if len(got) != len(want) {
		t.Fatalf("reloaded %d goals, want %d", len(got), len(want))
	}
	for i := range want {
		w, g := want[i], got[i]
		if w.ID != g.ID || w.Name != g.Name || w.Currency != g.Currency {
			t.Errorf("goal %d identity = %+v, want %+v", i, g, w)
		}
		if !w.TargetAmount.Equal(g.TargetAmount) || !w.CurrentAmount.Equal(g.CurrentAmount) {
			t.Errorf("goal %d amounts = %s/%s, want %s/%s", i, g.TargetAmount, g.CurrentAmount, w.TargetAmount, w.CurrentAmount)
		}
		if !w.CreatedAt.Equal(g.CreatedAt) || !w.UpdatedAt.Equal(g.UpdatedAt) {
			t.Errorf("goal %d timestamps not preserved", i)
		}
		if len(w.Contributions) != len(g.Contributions) {
			t.Fatalf("goal %d has %d contributions, want %d", i, len(g.Contributions), len(w.Contributions))
		}
		for j := range w.Contributions {
			wc, gc := w.Contributions[j], g.Contributions[j]
			if wc.ID != gc.ID || !wc.Amount.Equal(gc.Amount) || !wc.Date.Equal(gc.Date) || wc.Note != gc.Note {
				t.Errorf("contribution %d/%d = %+v, want %+v", i, j, gc, wc)
			}
		}
	}
}

func TestPersistedDocumentIsVersioned(t *testing.T) {
	ctx := context.Background()
	slot := storage.NewMemorySlot()
	s, _ := newTestStore(t, slot)
	s.CreateGoal(ctx, "Versioned", d("1"), core.INR)

	raw, ok, _ := slot.Get(ctx, DefaultKey)
	if !ok {
		t.Fatal("nothing persisted")
	}
	var doc struct {
		Version int               `json:"version"`
		Goals   []json.RawMessage `json:"goals"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("stored document is not an envelope: %v", err)
	}
	if doc.Version != CurrentVersion || len(doc.Goals) != 1 {
		t.Fatalf("document = version %d with %d goals", doc.Version, len(doc.Goals))
	}
	if strings.Contains(string(raw), `"note"`) {
		t.Error("empty note should be omitted")
	}
}

func TestInitializeMigratesLegacyArray(t *testing.T) {
	ctx := context.Background()
	slot := storage.NewMemorySlot()
	legacy := `[
		{"id":"abc","name":"Old","targetAmount":1000,"currency":"USD","currentAmount":30,
		 "contributions":[{"id":"c1","amount":30,"date":"2024-01-05T00:00:00.000Z"}],
		 "createdAt":"2024-01-01T08:00:00.000Z","updatedAt":"2024-01-05T08:00:00.000Z"},
		{"id":"def","name":"Sparse","targetAmount":50,"currency":"INR",
		 "createdAt":"2024-01-02T08:00:00.000Z","updatedAt":"2024-01-02T08:00:00.000Z"}
	]`
	_ = slot.Set(ctx, DefaultKey, []byte(legacy))

	s := New(slot)
	s.Initialize(ctx)

	goals := s.Goals()
	if len(goals) != 2 {
		t.Fatalf("loaded %d goals, want 2", len(goals))
	}
	if !goals[0].CurrentAmount.Equal(d("30")) || len(goals[0].Contributions) != 1 {
		t.Errorf("first goal = %+v", goals[0])
	}
	wantDate := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	if !goals[0].Contributions[0].Date.Equal(wantDate) {
		t.Errorf("contribution date = %v, want %v", goals[0].Contributions[0].Date, wantDate)
	}
	if goals[1].Contributions == nil || !goals[1].CurrentAmount.IsZero() {
		t.Errorf("sparse goal not normalized: %+v", goals[1])
	}

	// the next write upgrades the stored document
	s.CreateGoal(ctx, "New", d("1"), core.INR)
	raw, _, _ := slot.Get(ctx, DefaultKey)
	if !strings.HasPrefix(string(raw), `{"version":1`) {
		t.Errorf("stored document not upgraded: %.40s", raw)
	}
}

func TestInitializeStartsEmptyOnBadData(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{"version":1,"goals":[`},
		{"future version", `{"version":99,"goals":[]}`},
		{"wrong shape", `{"version":1,"goals":{"id":"x"}}`},
		{"bad date", `[{"id":"x","name":"n","targetAmount":1,"currency":"INR","currentAmount":0,"contributions":[],"createdAt":"yesterday","updatedAt":"today"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			slot := storage.NewMemorySlot()
			_ = slot.Set(ctx, DefaultKey, []byte(tt.data))

			s := New(slot)
			s.Initialize(ctx)

			if n := len(s.Goals()); n != 0 {
				t.Fatalf("loaded %d goals from bad data, want 0", n)
			}
			if !s.Loaded() {
				t.Fatal("store should be usable after a failed load")
			}
		})
	}
}

func TestInitializeSurvivesSlotReadError(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemorySlot()
	_ = inner.Set(ctx, DefaultKey, []byte(`{"version":1,"goals":[]}`))

	s := New(brokenSlot{inner})
	s.Initialize(ctx)
	if len(s.Goals()) != 0 || !s.Loaded() {
		t.Fatal("read error should leave an empty, loaded store")
	}
	if !s.ReadOnly() {
		t.Fatal("read error should disable writes")
	}

	s.CreateGoal(ctx, "Unsaved", d("10"), core.INR)
	raw, _, _ := inner.Get(ctx, DefaultKey)
	if string(raw) != `{"version":1,"goals":[]}` {
		t.Fatalf("unreadable slot was overwritten: %s", raw)
	}
	if err := s.Persist(ctx); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Persist = %v, want ErrReadOnly", err)
	}
}

func TestNewerDocumentIsBackedUpBeforeOverwrite(t *testing.T) {
	ctx := context.Background()
	slot := storage.NewMemorySlot()
	newer := `{"version":2,"goals":[{"id":"keep-me","name":"Future","targetAmount":5,"currency":"INR"}]}`
	_ = slot.Set(ctx, DefaultKey, []byte(newer))

	s, _ := newTestStore(t, slot)
	if s.ReadOnly() {
		t.Fatal("store should stay writable once the backup is stored")
	}
	s.CreateGoal(ctx, "Any", d("1"), core.INR)

	backup, ok, err := slot.Get(ctx, DefaultKey+".v2.bak")
	if err != nil || !ok {
		t.Fatalf("backup missing: ok=%v err=%v", ok, err)
	}
	if string(backup) != newer {
		t.Fatalf("backup = %s, want the original document", backup)
	}
	raw, _, _ := slot.Get(ctx, DefaultKey)
	if !strings.Contains(string(raw), `"name":"Any"`) {
		t.Errorf("new goal not persisted: %s", raw)
	}
}

func TestBackupKey(t *testing.T) {
	tests := []struct {
		name    string
		version int
		cause   error
		want    string
	}{
		{"newer version", 3, fmt.Errorf("%w: 3", ErrUnsupportedVersion), "goals.v3.bak"},
		{"parse failure", 1, errors.New("parse envelope"), "goals.bak"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BackupKey("goals", tt.version, tt.cause); got != tt.want {
				t.Errorf("BackupKey = %q, want %q", got, tt.want)
			}
		})
	}
}

// backupRejectingSlot stores the main document but refuses backup keys.
type backupRejectingSlot struct {
	storage.Slot
}

func (b backupRejectingSlot) Set(ctx context.Context, key string, value []byte) error {
	if strings.HasSuffix(key, ".bak") {
		return errors.New("quota exceeded")
	}
	return b.Slot.Set(ctx, key, value)
}

func TestFailedBackupDisablesWrites(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemorySlot()
	newer := `{"version":2,"goals":[{"id":"keep-me"}]}`
	_ = inner.Set(ctx, DefaultKey, []byte(newer))

	s := New(backupRejectingSlot{inner})
	s.Initialize(ctx)
	if !s.ReadOnly() {
		t.Fatal("failed backup should disable writes")
	}

	g := s.CreateGoal(ctx, "Any", d("1"), core.INR)
	if _, ok := s.Goal(g.ID); !ok {
		t.Error("mutations still apply in memory")
	}
	raw, _, _ := inner.Get(ctx, DefaultKey)
	if string(raw) != newer {
		t.Fatalf("newer document was overwritten: %s", raw)
	}
	if err := s.Persist(ctx); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Persist = %v, want ErrReadOnly", err)
	}
}

func TestDecodeDocumentRejectsFutureVersion(t *testing.T) {
	_, v, err := decodeDocument([]byte(`{"version":7,"goals":[]}`))
	if !errors.Is(err, ErrUnsupportedVersion) || v != 7 {
		t.Fatalf("decodeDocument = version %d err %v, want ErrUnsupportedVersion", v, err)
	}
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	slot := &failingSlot{Slot: storage.NewMemorySlot()}
	s, _ := newTestStore(t, slot)

	g := s.CreateGoal(ctx, "Unsaved", d("10"), core.INR)
	s.AddContribution(ctx, g.ID, d("4"), time.Now(), "")

	if slot.sets != 2 {
		t.Errorf("attempted %d writes, want 2", slot.sets)
	}
	got, ok := s.Goal(g.ID)
	if !ok || !got.CurrentAmount.Equal(d("4")) {
		t.Fatal("in-memory state must survive a failed write")
	}
	if err := s.Persist(ctx); err == nil {
		t.Error("explicit Persist should report the write error")
	}
}

func TestNoPersistenceBeforeInitialize(t *testing.T) {
	ctx := context.Background()
	slot := storage.NewMemorySlot()
	_ = slot.Set(ctx, DefaultKey, []byte(`{"version":1,"goals":[]}`))

	s := New(slot)
	s.CreateGoal(ctx, "Early", d("1"), core.INR)

	raw, _, _ := slot.Get(ctx, DefaultKey)
	if string(raw) != `{"version":1,"goals":[]}` {
		t.Fatalf("mutation before Initialize was persisted: %s", raw)
	}
	if err := s.Persist(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Persist before Initialize = %v, want ErrNotInitialized", err)
	}

	// the loaded collection replaces early in-memory goals
	s.Initialize(ctx)
	if n := s.Len(); n != 0 {
		t.Fatalf("Initialize kept %d early goals, want 0", n)
	}
}

func TestConfigurableKeyIsolatesStores(t *testing.T) {
	ctx := context.Background()
	slot := storage.NewMemorySlot()

	a := New(slot, WithKey("household-a"))
	b := New(slot, WithKey("household-b"))
	a.Initialize(ctx)
	b.Initialize(ctx)

	a.CreateGoal(ctx, "Only in A", d("1"), core.INR)

	fresh := New(slot, WithKey("household-b"))
	fresh.Initialize(ctx)
	if len(fresh.Goals()) != 0 {
		t.Fatal("goal leaked into another key")
	}
	if a.Key() != "household-a" {
		t.Errorf("Key() = %q", a.Key())
	}
}

func TestConcurrentContributionsKeepSum(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemorySlot())
	s.Initialize(ctx)
	g := s.CreateGoal(ctx, "Busy", d("1000000"), core.INR)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddContribution(ctx, g.ID, d("1.5"), time.Now(), "")
		}()
	}
	wg.Wait()

	got, _ := s.Goal(g.ID)
	if len(got.Contributions) != 50 || !got.CurrentAmount.Equal(d("75")) {
		t.Fatalf("after concurrent adds: %d contributions, current %s", len(got.Contributions), got.CurrentAmount)
	}
	if !got.CurrentAmount.Equal(got.SumContributions()) {
		t.Fatal("running total diverged from contributions")
	}
}
