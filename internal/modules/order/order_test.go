// README: Lifecycle tests against a real database (skipped without DISPATCH_TEST_DSN).
package order

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// fakePublisher satisfies Publisher without telegram. Publish outcomes are
// injectable so the manual-handling path is reachable.
type fakePublisher struct {
	mu        sync.Mutex
	out       Outcome
	dismissed map[int64]map[int64]bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{out: OutcomePublished, dismissed: make(map[int64]map[int64]bool)}
}

func (f *fakePublisher) Publish(_ context.Context, _ *Order) Outcome   { return f.out }
func (f *fakePublisher) Republish(_ context.Context, _ *Order) Outcome { return f.out }
func (f *fakePublisher) Reflect(_ context.Context, _ *Order)           {}

func (f *fakePublisher) Dismiss(orderID, actorID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dismissed[orderID] == nil {
		f.dismissed[orderID] = make(map[int64]bool)
	}
	if f.dismissed[orderID][actorID] {
		return false
	}
	f.dismissed[orderID][actorID] = true
	return true
}

func (f *fakePublisher) ClearDismissals(orderID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dismissed, orderID)
}

type fakeUndo struct {
	mu   sync.Mutex
	recs map[int64]int64
}

func newFakeUndo() *fakeUndo { return &fakeUndo{recs: make(map[int64]int64)} }

func (f *fakeUndo) Open(orderID, executorID int64, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[orderID] = executorID
}

func (f *fakeUndo) Consume(orderID int64) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ex, ok := f.recs[orderID]
	delete(f.recs, orderID)
	return ex, ok
}

func (f *fakeUndo) Peek(orderID int64) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ex, ok := f.recs[orderID]
	return ex, ok
}

func newTestService(t *testing.T) (*Service, *fakePublisher) {
	t.Helper()
	pub := newFakePublisher()
	svc := NewService(setupTestStore(t), nil, newFakeUndo(), pub, 2*time.Minute, nil)
	return svc, pub
}

func driver(id int64) Actor {
	return Actor{ID: id, ChatID: id, Role: RoleDriver, City: "almaty", VerifiedKinds: []Kind{KindRide}}
}

func courier(id int64) Actor {
	return Actor{ID: id, ChatID: id, Role: RoleCourier, City: "almaty", VerifiedKinds: []Kind{KindDelivery}}
}

func mustCreateOrder(t *testing.T, svc *Service, kind Kind) *Order {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateCommand{
		ClientID:     9001,
		ClientChatID: 9001,
		Kind:         kind,
		City:         "almaty",
		PickupQuery:  "Абая 10",
		DropoffQuery: "Достык 91",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func assertStatus(t *testing.T, svc *Service, orderID int64, want Status) {
	t.Helper()
	o, err := svc.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != want {
		t.Fatalf("status = %s, want %s", o.Status, want)
	}
}

func TestCreateRejectsBadCommand(t *testing.T) {
	svc := NewService(nil, nil, newFakeUndo(), newFakePublisher(), 2*time.Minute, nil)
	_, err := svc.Create(context.Background(), CreateCommand{ClientID: 1, Kind: "boat", City: "almaty", PickupQuery: "a", DropoffQuery: "b"})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	_, err = svc.Create(context.Background(), CreateCommand{ClientID: 1, Kind: KindRide, City: "almaty", PickupQuery: "a"})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for missing dropoff, got %v", err)
	}
}

func TestClaimEligibility(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	o := mustCreateOrder(t, svc, KindRide)

	wrongCity := driver(101)
	wrongCity.City = "astana"
	if out, _, err := svc.Claim(ctx, o.ID, wrongCity); err != nil || out != OutcomeCityMismatch {
		t.Fatalf("wrong city: out=%s err=%v", out, err)
	}

	if out, _, err := svc.Claim(ctx, o.ID, courier(102)); err != nil || out != OutcomeForbiddenKind {
		t.Fatalf("wrong role: out=%s err=%v", out, err)
	}

	unverified := driver(103)
	unverified.VerifiedKinds = nil
	if out, _, err := svc.Claim(ctx, o.ID, unverified); err != nil || out != OutcomeUnverified {
		t.Fatalf("unverified: out=%s err=%v", out, err)
	}

	if out, _, err := svc.Claim(ctx, o.ID, driver(104)); err != nil || out != OutcomeClaimed {
		t.Fatalf("eligible claim: out=%s err=%v", out, err)
	}
	assertStatus(t, svc, o.ID, StatusClaimed)

	// a second driver is late
	if out, _, err := svc.Claim(ctx, o.ID, driver(105)); err != nil || out != OutcomeAlreadyProcessed {
		t.Fatalf("late claim: out=%s err=%v", out, err)
	}
}

func TestSingleActivePolicy(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	d := driver(201)

	first := mustCreateOrder(t, svc, KindRide)
	second := mustCreateOrder(t, svc, KindRide)

	if out, _, err := svc.Claim(ctx, first.ID, d); err != nil || out != OutcomeClaimed {
		t.Fatalf("first claim: out=%s err=%v", out, err)
	}
	if out, _, err := svc.Claim(ctx, second.ID, d); err != nil || out != OutcomeLimitExceeded {
		t.Fatalf("second ride claim: out=%s err=%v", out, err)
	}

	// completing the active ride frees the slot
	if out, err := svc.Complete(ctx, first.ID, d.ID); err != nil || out != OutcomeCompleted {
		t.Fatalf("complete: out=%s err=%v", out, err)
	}
	if out, _, err := svc.Claim(ctx, second.ID, d); err != nil || out != OutcomeClaimed {
		t.Fatalf("claim after complete: out=%s err=%v", out, err)
	}
}

func TestParallelDeliveries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c := courier(301)

	first := mustCreateOrder(t, svc, KindDelivery)
	second := mustCreateOrder(t, svc, KindDelivery)

	if out, _, err := svc.Claim(ctx, first.ID, c); err != nil || out != OutcomeClaimed {
		t.Fatalf("first delivery: out=%s err=%v", out, err)
	}
	if out, _, err := svc.Claim(ctx, second.ID, c); err != nil || out != OutcomeClaimed {
		t.Fatalf("second delivery: out=%s err=%v", out, err)
	}
}

func TestReleaseAndUndo(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	d := driver(401)
	o := mustCreateOrder(t, svc, KindRide)

	if _, _, err := svc.Claim(ctx, o.ID, d); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if out, err := svc.Release(ctx, o.ID, d.ID); err != nil || out != OutcomeReleased {
		t.Fatalf("release: out=%s err=%v", out, err)
	}
	assertStatus(t, svc, o.ID, StatusOpen)

	// releasing again is a no-op
	if out, err := svc.Release(ctx, o.ID, d.ID); err != nil || out != OutcomeNotClaimed {
		t.Fatalf("double release: out=%s err=%v", out, err)
	}

	if out, err := svc.UndoRelease(ctx, o.ID, d.ID); err != nil || out != OutcomeUndone {
		t.Fatalf("undo release: out=%s err=%v", out, err)
	}
	assertStatus(t, svc, o.ID, StatusClaimed)

	// the window burned on the first undo
	if out, err := svc.UndoRelease(ctx, o.ID, d.ID); err != nil || out != OutcomeExpired {
		t.Fatalf("second undo: out=%s err=%v", out, err)
	}
}

func TestUndoWrongActor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	d := driver(501)
	o := mustCreateOrder(t, svc, KindRide)

	if _, _, err := svc.Claim(ctx, o.ID, d); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Release(ctx, o.ID, d.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	// a stranger's attempt must not burn the window
	if out, err := svc.UndoRelease(ctx, o.ID, 999); err != nil || out != OutcomeNotYours {
		t.Fatalf("stranger undo: out=%s err=%v", out, err)
	}
	if out, err := svc.UndoRelease(ctx, o.ID, d.ID); err != nil || out != OutcomeUndone {
		t.Fatalf("owner undo: out=%s err=%v", out, err)
	}
}

func TestUndoLostToRival(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	d := driver(601)
	rival := driver(602)
	o := mustCreateOrder(t, svc, KindRide)

	if _, _, err := svc.Claim(ctx, o.ID, d); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Release(ctx, o.ID, d.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if out, _, err := svc.Claim(ctx, o.ID, rival); err != nil || out != OutcomeClaimed {
		t.Fatalf("rival claim: out=%s err=%v", out, err)
	}

	if out, err := svc.UndoRelease(ctx, o.ID, d.ID); err != nil || out != OutcomeTooLate {
		t.Fatalf("undo after rival claim: out=%s err=%v", out, err)
	}
	assertStatus(t, svc, o.ID, StatusClaimed)
}

func TestCompleteAndUndo(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	d := driver(701)
	o := mustCreateOrder(t, svc, KindRide)

	if _, _, err := svc.Claim(ctx, o.ID, d); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if out, err := svc.Complete(ctx, o.ID, d.ID); err != nil || out != OutcomeCompleted {
		t.Fatalf("complete: out=%s err=%v", out, err)
	}
	assertStatus(t, svc, o.ID, StatusDone)

	if out, err := svc.UndoComplete(ctx, o.ID, d.ID); err != nil || out != OutcomeUndone {
		t.Fatalf("undo complete: out=%s err=%v", out, err)
	}
	assertStatus(t, svc, o.ID, StatusClaimed)

	// only the claimant may complete
	if out, err := svc.Complete(ctx, o.ID, 999); err != nil || out != OutcomeNotClaimed {
		t.Fatalf("stranger complete: out=%s err=%v", out, err)
	}
}

func TestReleaseManualWhenRepublishFails(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()
	d := driver(801)
	o := mustCreateOrder(t, svc, KindRide)

	if _, _, err := svc.Claim(ctx, o.ID, d); err != nil {
		t.Fatalf("claim: %v", err)
	}
	pub.out = OutcomePublishFailed
	out, err := svc.Release(ctx, o.ID, d.ID)
	if err != nil || out != OutcomeReleasedManual {
		t.Fatalf("release with failed republish: out=%s err=%v", out, err)
	}
	// the order stays open rather than vanishing
	assertStatus(t, svc, o.ID, StatusOpen)
}

func TestDecline(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()
	o := mustCreateOrder(t, svc, KindRide)

	if out, err := svc.Decline(ctx, o.ID, 901); err != nil || out != OutcomeDeclined {
		t.Fatalf("decline: out=%s err=%v", out, err)
	}
	if !pub.dismissed[o.ID][901] {
		t.Fatal("expected dismissal to be recorded")
	}

	if _, _, err := svc.Claim(ctx, o.ID, driver(902)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if out, err := svc.Decline(ctx, o.ID, 903); err != nil || out != OutcomeStale {
		t.Fatalf("stale decline: out=%s err=%v", out, err)
	}
}

func TestCancelByClient(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	o := mustCreateOrder(t, svc, KindRide)

	// wrong client cannot cancel
	if out, _, err := svc.CancelByClient(ctx, o.ID, 424242); err != nil || out != OutcomeNotFound {
		t.Fatalf("wrong client cancel: out=%s err=%v", out, err)
	}
	if out, _, err := svc.CancelByClient(ctx, o.ID, o.ClientID); err != nil || out != OutcomeCancelled {
		t.Fatalf("cancel: out=%s err=%v", out, err)
	}
	assertStatus(t, svc, o.ID, StatusCancelled)

	// cancelled is terminal
	if out, _, err := svc.Claim(ctx, o.ID, driver(1001)); err != nil || out != OutcomeAlreadyProcessed {
		t.Fatalf("claim after cancel: out=%s err=%v", out, err)
	}
}

func TestBindAnnouncementOnce(t *testing.T) {
	store := setupTestStore(t)
	svc := NewService(store, nil, newFakeUndo(), newFakePublisher(), 2*time.Minute, nil)
	ctx := context.Background()
	o := mustCreateOrder(t, svc, KindRide)

	sends := 0
	send := func(_ *Order) (int64, int, error) {
		sends++
		return -100500, 7, nil
	}
	res, bound, err := store.BindAnnouncement(ctx, o.ID, send)
	if err != nil || res != PublishOK {
		t.Fatalf("first bind: res=%d err=%v", res, err)
	}
	if bound.ChannelMessageID == nil || *bound.ChannelMessageID != 7 {
		t.Fatal("expected message id persisted on the order")
	}

	res, _, err = store.BindAnnouncement(ctx, o.ID, send)
	if err != nil || res != PublishAlready {
		t.Fatalf("second bind: res=%d err=%v", res, err)
	}
	if sends != 1 {
		t.Fatalf("send called %d times, want 1", sends)
	}

	if _, _, err := svc.Claim(ctx, o.ID, driver(1101)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	res, _, _ = store.BindAnnouncement(ctx, o.ID, send)
	if res != PublishNotOpen {
		t.Fatalf("bind on claimed order: res=%d, want not open", res)
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("DISPATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("DISPATCH_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	if _, err := db.Exec(ctx, "TRUNCATE TABLE orders, executors"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return NewStore(db, nil, nil)
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	path := filepath.Join(root, "migrations", "0001_init.sql")
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cleaned := stripSQLComments(string(content))
	for _, stmt := range splitSQL(cleaned) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
