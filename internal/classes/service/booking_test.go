package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	classeserrors "tutordesk/internal/classes/errors"
	"tutordesk/internal/classes/validator"
	"tutordesk/pkg/config"
	mongotx "tutordesk/pkg/db/mongo"
	apperrors "tutordesk/pkg/errors"
	"tutordesk/pkg/logger"
	"tutordesk/pkg/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"pgregory.net/rapid"
)

// fakeLedger emulates the guarded reserve/release writes with a mutex:
// the same check-and-mutate the database performs atomically.
type fakeLedger struct {
	mu       sync.Mutex
	id       string
	capacity int
	reserved int
	status   string
	tokens   map[string]bool

	releaseCalls int
	failRelease  bool
}

func newFakeLedger(capacity int) *fakeLedger {
	return &fakeLedger{
		id:       primitive.NewObjectID().Hex(),
		capacity: capacity,
		status:   model.SessionScheduled,
		tokens:   make(map[string]bool),
	}
}

func (f *fakeLedger) Create(ctx context.Context, session *model.ClassSession) error {
	return nil
}

func (f *fakeLedger) FindByID(ctx context.Context, id string) (*model.ClassSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.id {
		return nil, classeserrors.ErrSessionNotFound
	}
	return &model.ClassSession{
		ID:       f.id,
		Capacity: f.capacity,
		Reserved: f.reserved,
		Status:   f.status,
	}, nil
}

func (f *fakeLedger) Reserve(ctx context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sessionID != f.id {
		return "", classeserrors.ErrSessionNotFound
	}
	if f.status != model.SessionScheduled {
		return "", classeserrors.ErrSessionNotBookable
	}
	if f.reserved >= f.capacity {
		return "", classeserrors.ErrClassFull
	}
	token := uuid.New().String()
	f.reserved++
	f.tokens[token] = true
	return token, nil
}

func (f *fakeLedger) Release(ctx context.Context, sessionID string, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	if f.failRelease {
		return fmt.Errorf("ledger unavailable")
	}
	if sessionID != f.id || !f.tokens[token] {
		return classeserrors.ErrAlreadyReleased
	}
	delete(f.tokens, token)
	f.reserved--
	return nil
}

func (f *fakeLedger) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return fn(nil)
}

func (f *fakeLedger) snapshot() (reserved, outstanding int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reserved, len(f.tokens)
}

// fakeBookingStore is an in-memory BookingRepository.
type fakeBookingStore struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{bookings: make(map[string]*model.Booking)}
}

func (f *fakeBookingStore) Create(ctx context.Context, booking *model.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	booking.ID = primitive.NewObjectID().Hex()
	booking.CreatedAt = time.Now().UTC()
	clone := *booking
	f.bookings[booking.ID] = &clone
	return nil
}

func (f *fakeBookingStore) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	booking, ok := f.bookings[id]
	if !ok {
		return nil, classeserrors.ErrBookingNotFound
	}
	clone := *booking
	return &clone, nil
}

func (f *fakeBookingStore) FindAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Booking
	for _, b := range f.bookings {
		clone := *b
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeBookingStore) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.bookings)), nil
}

func (f *fakeBookingStore) CancelConfirmed(ctx context.Context, id string) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	booking, ok := f.bookings[id]
	if !ok || booking.Status != model.BookingConfirmed {
		return nil, classeserrors.ErrBookingNotFound
	}
	booking.Status = model.BookingCancelled
	clone := *booking
	return &clone, nil
}

func (f *fakeBookingStore) MarkReleased(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	booking, ok := f.bookings[id]
	if !ok {
		return classeserrors.ErrBookingNotFound
	}
	booking.ReservationReleased = true
	return nil
}

func (f *fakeBookingStore) FindCancelledUnreleased(ctx context.Context, limit int) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Booking
	for _, b := range f.bookings {
		if b.Status == model.BookingCancelled && !b.ReservationReleased {
			clone := *b
			out = append(out, &clone)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeBookingStore) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return fn(nil)
}

func newTestConfig() *config.Config {
	log := logger.New(logger.Config{
		Level:   logger.ERROR,
		Format:  logger.JSON,
		Service: "test",
	})
	return &config.Config{
		Log:                log,
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReconcileInterval:  time.Minute,
		MaxSessionCapacity: 200,
	}
}

func newBookingServiceUnderTest(ledger *fakeLedger, store *fakeBookingStore) BookingService {
	cfg := newTestConfig()
	return NewBookingService(store, ledger, validator.NewClassesValidator(cfg.Log), nil, cfg)
}

func TestCreate_ConcurrentRequestsNeverExceedCapacity(t *testing.T) {
	const capacity = 3
	const attempts = 20

	ledger := newFakeLedger(capacity)
	store := newFakeBookingStore()
	svc := newBookingServiceUnderTest(ledger, store)

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			booking := &model.Booking{
				SessionID:   ledger.id,
				RequesterID: fmt.Sprintf("student-%d", n),
			}
			results <- svc.Create(context.Background(), booking)
		}(i)
	}
	wg.Wait()
	close(results)

	var confirmed, full int
	for err := range results {
		switch {
		case err == nil:
			confirmed++
		case apperrors.AsAppError(err) != nil && apperrors.AsAppError(err).Code == apperrors.CodeClassFull:
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if confirmed != capacity {
		t.Errorf("expected %d confirmed bookings, got %d", capacity, confirmed)
	}
	if full != attempts-capacity {
		t.Errorf("expected %d class-full rejections, got %d", attempts-capacity, full)
	}

	reserved, outstanding := ledger.snapshot()
	if reserved != capacity || outstanding != capacity {
		t.Errorf("ledger drifted: reserved=%d outstanding=%d, want %d", reserved, outstanding, capacity)
	}
}

func TestCreate_UnknownSessionIsNotFound(t *testing.T) {
	ledger := newFakeLedger(1)
	svc := newBookingServiceUnderTest(ledger, newFakeBookingStore())

	booking := &model.Booking{
		SessionID:   primitive.NewObjectID().Hex(),
		RequesterID: "student-1",
	}
	err := svc.Create(context.Background(), booking)
	appErr := apperrors.AsAppError(err)
	if appErr == nil || appErr.Code != apperrors.CodeNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCancel_ReleasesSeatExactlyOnce(t *testing.T) {
	ledger := newFakeLedger(1)
	store := newFakeBookingStore()
	svc := newBookingServiceUnderTest(ledger, store)

	booking := &model.Booking{SessionID: ledger.id, RequesterID: "student-1"}
	if err := svc.Create(context.Background(), booking); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first, err := svc.Cancel(context.Background(), booking.ID)
	if err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	if first.Status != model.BookingCancelled {
		t.Errorf("expected cancelled status, got %s", first.Status)
	}

	second, err := svc.Cancel(context.Background(), booking.ID)
	if err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}
	if second.Status != model.BookingCancelled {
		t.Errorf("expected cancelled status on repeat, got %s", second.Status)
	}

	if ledger.releaseCalls != 1 {
		t.Errorf("expected exactly one release, got %d", ledger.releaseCalls)
	}
	reserved, _ := ledger.snapshot()
	if reserved != 0 {
		t.Errorf("expected seat returned, reserved=%d", reserved)
	}
}

func TestCancel_ThenRebookRoundTripsTheSeat(t *testing.T) {
	ledger := newFakeLedger(1)
	store := newFakeBookingStore()
	svc := newBookingServiceUnderTest(ledger, store)

	first := &model.Booking{SessionID: ledger.id, RequesterID: "student-1"}
	if err := svc.Create(context.Background(), first); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Session is now full.
	blocked := &model.Booking{SessionID: ledger.id, RequesterID: "student-2"}
	err := svc.Create(context.Background(), blocked)
	if appErr := apperrors.AsAppError(err); appErr == nil || appErr.Code != apperrors.CodeClassFull {
		t.Fatalf("expected class-full before cancel, got %v", err)
	}

	if _, err := svc.Cancel(context.Background(), first.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	rebooked := &model.Booking{SessionID: ledger.id, RequesterID: "student-2"}
	if err := svc.Create(context.Background(), rebooked); err != nil {
		t.Fatalf("expected rebooking after cancel to succeed, got %v", err)
	}
}

func TestCancel_UnknownBookingIsNotFound(t *testing.T) {
	ledger := newFakeLedger(1)
	svc := newBookingServiceUnderTest(ledger, newFakeBookingStore())

	_, err := svc.Cancel(context.Background(), primitive.NewObjectID().Hex())
	appErr := apperrors.AsAppError(err)
	if appErr == nil || appErr.Code != apperrors.CodeNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestReconcile_RetriesOrphanedReleases(t *testing.T) {
	ledger := newFakeLedger(1)
	store := newFakeBookingStore()
	cfg := newTestConfig()
	svc := NewBookingService(store, ledger, validator.NewClassesValidator(cfg.Log), nil, cfg).(*bookingService)

	booking := &model.Booking{SessionID: ledger.id, RequesterID: "student-1"}
	if err := svc.Create(context.Background(), booking); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Cancel while the ledger is down: status flips, seat stays taken.
	ledger.failRelease = true
	if _, err := svc.Cancel(context.Background(), booking.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	reserved, _ := ledger.snapshot()
	if reserved != 1 {
		t.Fatalf("expected seat still held after failed release, reserved=%d", reserved)
	}

	ledger.failRelease = false
	svc.reconcileOnce(context.Background())

	reserved, _ = ledger.snapshot()
	if reserved != 0 {
		t.Errorf("expected reconciler to return the seat, reserved=%d", reserved)
	}
	stored, err := store.FindByID(context.Background(), booking.ID)
	if err != nil {
		t.Fatalf("booking disappeared: %v", err)
	}
	if !stored.ReservationReleased {
		t.Errorf("expected reservation_released to be recorded")
	}
}

func TestBookingLifecycle_LedgerInvariantsHold(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 5).Draw(t, "capacity")
		ledger := newFakeLedger(capacity)
		store := newFakeBookingStore()
		svc := newBookingServiceUnderTest(ledger, store)

		var confirmed []string
		ops := rapid.IntRange(1, 30).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			if len(confirmed) > 0 && rapid.Bool().Draw(t, "cancel") {
				idx := rapid.IntRange(0, len(confirmed)-1).Draw(t, "victim")
				if _, err := svc.Cancel(context.Background(), confirmed[idx]); err != nil {
					t.Fatalf("cancel failed: %v", err)
				}
				confirmed = append(confirmed[:idx], confirmed[idx+1:]...)
				continue
			}

			booking := &model.Booking{
				SessionID:   ledger.id,
				RequesterID: fmt.Sprintf("student-%d", i),
			}
			err := svc.Create(context.Background(), booking)
			if err == nil {
				confirmed = append(confirmed, booking.ID)
			} else if appErr := apperrors.AsAppError(err); appErr == nil || appErr.Code != apperrors.CodeClassFull {
				t.Fatalf("unexpected create error: %v", err)
			}

			reserved, outstanding := ledger.snapshot()
			if reserved < 0 || reserved > capacity {
				t.Fatalf("reserved %d out of [0,%d]", reserved, capacity)
			}
			if reserved != outstanding {
				t.Fatalf("reserved %d != outstanding tokens %d", reserved, outstanding)
			}
			if reserved != len(confirmed) {
				t.Fatalf("reserved %d != confirmed bookings %d", reserved, len(confirmed))
			}
		}
	})
}
