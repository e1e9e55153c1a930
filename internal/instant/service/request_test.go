package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	instanterrors "tutordesk/internal/instant/errors"
	"tutordesk/internal/instant/repository"
	"tutordesk/internal/instant/stream"
	"tutordesk/internal/instant/validator"
	"tutordesk/pkg/config"
	apperrors "tutordesk/pkg/errors"
	"tutordesk/pkg/logger"
	"tutordesk/pkg/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"pgregory.net/rapid"
)

// fakeRequestStore emulates the guarded updates with a mutex: the same
// compare-and-set the database performs atomically.
type fakeRequestStore struct {
	mu       sync.Mutex
	requests map[string]*model.InstantRequest
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{requests: make(map[string]*model.InstantRequest)}
}

func (f *fakeRequestStore) Create(ctx context.Context, request *model.InstantRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	request.ID = primitive.NewObjectID().Hex()
	request.CreatedAt = time.Now().UTC()
	clone := *request
	f.requests[request.ID] = &clone
	return nil
}

func (f *fakeRequestStore) FindByID(ctx context.Context, id string) (*model.InstantRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok {
		return nil, instanterrors.ErrRequestNotFound
	}
	clone := *request
	return &clone, nil
}

func (f *fakeRequestStore) ListPending(ctx context.Context) ([]*model.InstantRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.InstantRequest
	for _, r := range f.requests {
		if r.Status == model.RequestPending {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeRequestStore) TryAccept(ctx context.Context, id string, tutorID string) (*model.InstantRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok {
		return nil, instanterrors.ErrRequestNotFound
	}
	if request.Status != model.RequestPending {
		return nil, instanterrors.ErrAlreadyResolved
	}
	request.Status = model.RequestAccepted
	request.AcceptedBy = tutorID
	clone := *request
	return &clone, nil
}

func (f *fakeRequestStore) CancelPending(ctx context.Context, id string, requesterID string) (*model.InstantRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok {
		return nil, instanterrors.ErrRequestNotFound
	}
	if request.RequesterID != requesterID {
		return nil, instanterrors.ErrNotOwner
	}
	if request.Status != model.RequestPending {
		return nil, instanterrors.ErrAlreadyResolved
	}
	request.Status = model.RequestCancelled
	clone := *request
	return &clone, nil
}

type fakeMatchStore struct {
	mu      sync.Mutex
	matches []*model.SessionMatch
}

func (f *fakeMatchStore) Create(ctx context.Context, match *model.SessionMatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *match
	f.matches = append(f.matches, &clone)
	return nil
}

func newTestConfig() *config.Config {
	log := logger.New(logger.Config{
		Level:   logger.ERROR,
		Format:  logger.JSON,
		Service: "test",
	})
	return &config.Config{
		Log:              log,
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     5 * time.Second,
		StreamBufferSize: 8,
	}
}

func newRequestServiceUnderTest(store *fakeRequestStore, matches *fakeMatchStore, hub *stream.Hub) RequestService {
	cfg := newTestConfig()
	// Avoid wrapping a typed nil *fakeMatchStore in the interface: the
	// service's nil check only sees the interface value.
	var matchRepo repository.MatchRepository
	if matches != nil {
		matchRepo = matches
	}
	return NewRequestService(store, matchRepo, validator.NewRequestValidator(cfg.Log), hub, nil, nil, cfg)
}

func createPending(t *testing.T, svc RequestService, requesterID string) *model.InstantRequest {
	t.Helper()
	request := &model.InstantRequest{RequesterID: requesterID, Subject: "algebra"}
	if err := svc.Create(context.Background(), request); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return request
}

func TestCreate_AssignsIdentityAndMeetingHandle(t *testing.T) {
	store := newFakeRequestStore()
	svc := newRequestServiceUnderTest(store, nil, nil)

	request := createPending(t, svc, "student-1")

	if request.ID == "" {
		t.Error("expected an ID to be assigned")
	}
	if request.Status != model.RequestPending {
		t.Errorf("expected pending status, got %s", request.Status)
	}
	if !strings.HasPrefix(request.MeetingHandle, "meet-") {
		t.Errorf("expected meet- handle, got %q", request.MeetingHandle)
	}
	if request.AcceptedBy != "" {
		t.Errorf("expected empty accepted_by, got %q", request.AcceptedBy)
	}
}

func TestTryAccept_ExactlyOneWinner(t *testing.T) {
	const tutors = 10

	store := newFakeRequestStore()
	matches := &fakeMatchStore{}
	svc := newRequestServiceUnderTest(store, matches, nil)
	request := createPending(t, svc, "student-1")

	type outcome struct {
		tutorID string
		err     error
	}
	var wg sync.WaitGroup
	results := make(chan outcome, tutors)
	for i := 0; i < tutors; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tutorID := fmt.Sprintf("tutor-%d", n)
			_, err := svc.TryAccept(context.Background(), request.ID, tutorID)
			results <- outcome{tutorID: tutorID, err: err}
		}(i)
	}
	wg.Wait()
	close(results)

	var winner string
	var losers int
	for res := range results {
		if res.err == nil {
			if winner != "" {
				t.Fatalf("two winners: %s and %s", winner, res.tutorID)
			}
			winner = res.tutorID
			continue
		}
		appErr := apperrors.AsAppError(res.err)
		if appErr == nil || appErr.Code != apperrors.CodeAlreadyResolved {
			t.Fatalf("loser got unexpected error: %v", res.err)
		}
		losers++
	}

	if winner == "" {
		t.Fatal("no winner")
	}
	if losers != tutors-1 {
		t.Errorf("expected %d losers, got %d", tutors-1, losers)
	}

	final, err := store.FindByID(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("request disappeared: %v", err)
	}
	if final.Status != model.RequestAccepted || final.AcceptedBy != winner {
		t.Errorf("final state %s/%s, want accepted/%s", final.Status, final.AcceptedBy, winner)
	}

	pending, err := svc.ListPending(context.Background())
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	for _, p := range pending {
		if p.ID == request.ID {
			t.Error("accepted request still listed as pending")
		}
	}

	if len(matches.matches) != 1 {
		t.Fatalf("expected one match record, got %d", len(matches.matches))
	}
	if matches.matches[0].TutorID != winner {
		t.Errorf("match record names %s, want %s", matches.matches[0].TutorID, winner)
	}
}

func TestCancel_OnlyOwnerMayCancel(t *testing.T) {
	store := newFakeRequestStore()
	svc := newRequestServiceUnderTest(store, nil, nil)
	request := createPending(t, svc, "student-1")

	_, err := svc.Cancel(context.Background(), request.ID, "student-2")
	appErr := apperrors.AsAppError(err)
	if appErr == nil || appErr.Code != apperrors.CodeForbidden {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}

	current, _ := store.FindByID(context.Background(), request.ID)
	if current.Status != model.RequestPending {
		t.Errorf("non-owner cancel mutated the request: %s", current.Status)
	}

	cancelled, err := svc.Cancel(context.Background(), request.ID, "student-1")
	if err != nil {
		t.Fatalf("owner cancel failed: %v", err)
	}
	if cancelled.Status != model.RequestCancelled {
		t.Errorf("expected cancelled status, got %s", cancelled.Status)
	}
}

func TestCancel_AfterAcceptIsAlreadyResolved(t *testing.T) {
	store := newFakeRequestStore()
	svc := newRequestServiceUnderTest(store, nil, nil)
	request := createPending(t, svc, "student-1")

	if _, err := svc.TryAccept(context.Background(), request.ID, "tutor-1"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	_, err := svc.Cancel(context.Background(), request.ID, "student-1")
	appErr := apperrors.AsAppError(err)
	if appErr == nil || appErr.Code != apperrors.CodeAlreadyResolved {
		t.Fatalf("expected already-resolved, got %v", err)
	}

	final, _ := store.FindByID(context.Background(), request.ID)
	if final.Status != model.RequestAccepted || final.AcceptedBy != "tutor-1" {
		t.Errorf("late cancel mutated the request: %s/%s", final.Status, final.AcceptedBy)
	}
}

func TestTryAccept_UnknownRequestIsNotFound(t *testing.T) {
	svc := newRequestServiceUnderTest(newFakeRequestStore(), nil, nil)

	_, err := svc.TryAccept(context.Background(), primitive.NewObjectID().Hex(), "tutor-1")
	appErr := apperrors.AsAppError(err)
	if appErr == nil || appErr.Code != apperrors.CodeNotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestBroadcast_ReachesHubSubscribers(t *testing.T) {
	cfg := newTestConfig()
	hub := stream.NewHub(cfg.StreamBufferSize, cfg.Log)
	store := newFakeRequestStore()
	svc := NewRequestService(store, nil, validator.NewRequestValidator(cfg.Log), hub, nil, nil, cfg)

	events, cancel := hub.Subscribe("tutor-1")
	defer cancel()

	request := createPending(t, svc, "student-1")

	select {
	case event := <-events:
		if event.Type != model.EventRequestCreated {
			t.Errorf("expected %s, got %s", model.EventRequestCreated, event.Type)
		}
		if event.Request.ID != request.ID {
			t.Errorf("event carries request %s, want %s", event.Request.ID, request.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered to subscriber")
	}

	if _, err := svc.TryAccept(context.Background(), request.ID, "tutor-1"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	select {
	case event := <-events:
		if event.Type != model.EventRequestAccepted {
			t.Errorf("expected %s, got %s", model.EventRequestAccepted, event.Type)
		}
		if event.Request.AcceptedBy != "tutor-1" {
			t.Errorf("event names %s, want tutor-1", event.Request.AcceptedBy)
		}
	case <-time.After(time.Second):
		t.Fatal("no acceptance event delivered")
	}
}

func TestRequestLifecycle_TerminalStatesNeverMutate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := newFakeRequestStore()
		svc := newRequestServiceUnderTest(store, nil, nil)

		request := &model.InstantRequest{RequesterID: "student-1", Subject: "geometry"}
		if err := svc.Create(context.Background(), request); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		resolved := false
		var resolvedStatus, resolvedBy string

		ops := rapid.IntRange(1, 15).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			if rapid.Bool().Draw(t, "accept") {
				tutorID := fmt.Sprintf("tutor-%d", rapid.IntRange(1, 3).Draw(t, "tutor"))
				_, err := svc.TryAccept(context.Background(), request.ID, tutorID)
				if err == nil {
					if resolved {
						t.Fatalf("accept succeeded on a resolved request")
					}
					resolved = true
					resolvedStatus = model.RequestAccepted
					resolvedBy = tutorID
				}
			} else {
				_, err := svc.Cancel(context.Background(), request.ID, "student-1")
				if err == nil {
					if resolved {
						t.Fatalf("cancel succeeded on a resolved request")
					}
					resolved = true
					resolvedStatus = model.RequestCancelled
				}
			}

			current, err := store.FindByID(context.Background(), request.ID)
			if err != nil {
				t.Fatalf("request disappeared: %v", err)
			}
			if (current.AcceptedBy != "") != (current.Status == model.RequestAccepted) {
				t.Fatalf("accepted_by %q inconsistent with status %s", current.AcceptedBy, current.Status)
			}
			if resolved && (current.Status != resolvedStatus || current.AcceptedBy != resolvedBy) {
				t.Fatalf("terminal state drifted to %s/%s", current.Status, current.AcceptedBy)
			}
		}
	})
}
