// Package instantfeed is the tutor-side consumer of the instant request
// feed. It prefers the SSE stream and degrades to polling the pending
// list when the stream cannot be established, so a tutor behind a
// buffering proxy still learns about new requests, just later.
package instantfeed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"tutordesk/pkg/logger"
	"tutordesk/pkg/model"

	"github.com/google/uuid"
)

// EventRequestGone is synthesized by the polling fallback when a request
// disappears from the pending list. Polling cannot tell acceptance from
// cancellation, so it never fabricates either; it only reports the
// request is no longer open.
const EventRequestGone = "instant.request.gone"

const (
	defaultPollInterval   = 5 * time.Second
	defaultConfirmWindow  = 3 * time.Second
	defaultReconnectDelay = 2 * time.Second
	defaultEventBuffer    = 64
)

type Config struct {
	// BaseURL is the instant service root, e.g. http://localhost:8081.
	BaseURL string
	TutorID string

	// ConfirmWindow bounds how long the supervisor waits for the stream
	// to confirm before starting the polling fallback.
	ConfirmWindow  time.Duration
	PollInterval   time.Duration
	ReconnectDelay time.Duration

	HTTPClient *http.Client
	Log        *logger.Logger
}

// Subscriber supervises the two delivery paths. Events from both are
// funneled through a seen-ID set, so a request announced by the stream
// and then found again by a poll surfaces exactly once.
type Subscriber struct {
	cfg    Config
	client *http.Client
	log    *logger.Logger

	events chan model.RequestEvent

	mu      sync.Mutex
	seen    map[string]struct{} // request IDs already announced as created
	pending map[string]struct{} // last observed pending set, poller only

	pushConfirmed chan struct{}
	confirmOnce   sync.Once
}

func NewSubscriber(cfg Config) (*Subscriber, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("instantfeed: BaseURL is required")
	}
	if cfg.TutorID == "" {
		return nil, fmt.Errorf("instantfeed: TutorID is required")
	}
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = defaultConfirmWindow
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	log := cfg.Log
	if log == nil {
		log = logger.New(logger.Config{Service: "instantfeed"})
	}

	return &Subscriber{
		cfg:           cfg,
		client:        client,
		log:           log,
		events:        make(chan model.RequestEvent, defaultEventBuffer),
		seen:          make(map[string]struct{}),
		pending:       make(map[string]struct{}),
		pushConfirmed: make(chan struct{}),
	}, nil
}

// Events is the merged feed. It is closed when Run returns.
func (s *Subscriber) Events() <-chan model.RequestEvent {
	return s.events
}

// Run blocks until ctx is cancelled. The stream is attempted first; the
// poller only runs while the stream has not confirmed, and is stopped as
// soon as it does.
func (s *Subscriber) Run(ctx context.Context) {
	defer close(s.events)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runStream(ctx)
	}()

	select {
	case <-ctx.Done():
	case <-s.pushConfirmed:
		// Stream came up within the window, no fallback needed.
	case <-time.After(s.cfg.ConfirmWindow):
		s.log.Warn("Stream not confirmed in time, starting polling fallback",
			"tutor_id", s.cfg.TutorID,
			"confirm_window", s.cfg.ConfirmWindow,
		)
		pollCtx, cancelPoll := context.WithCancel(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runPoller(pollCtx)
		}()
		select {
		case <-ctx.Done():
		case <-s.pushConfirmed:
			s.log.Info("Stream confirmed, stopping polling fallback", "tutor_id", s.cfg.TutorID)
		}
		cancelPoll()
	}

	wg.Wait()
}

func (s *Subscriber) runStream(ctx context.Context) {
	for {
		if err := s.streamOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("Stream disconnected, will reconnect",
				"tutor_id", s.cfg.TutorID,
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Subscriber) streamOnce(ctx context.Context) error {
	streamURL := fmt.Sprintf("%s/api/v1/instant-requests/stream?online=true&tutor_id=%s",
		s.cfg.BaseURL, url.QueryEscape(s.cfg.TutorID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream subscribe returned status %d", resp.StatusCode)
	}

	// A 200 with the event-stream content type counts as confirmation:
	// the server accepted the subscription.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		s.confirmOnce.Do(func() { close(s.pushConfirmed) })
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				s.handleStreamPayload(data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment.
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return scanner.Err()
}

func (s *Subscriber) handleStreamPayload(payload string) {
	var event model.RequestEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		s.log.Warn("Dropping undecodable stream event", "error", err)
		return
	}
	s.deliver(event)
}

func (s *Subscriber) runPoller(ctx context.Context) {
	s.pollOnce(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Subscriber) pollOnce(ctx context.Context) {
	pending, err := s.fetchPending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("Polling pending requests failed", "error", err)
		}
		return
	}

	now := time.Now().UTC()
	current := make(map[string]struct{}, len(pending))
	for _, request := range pending {
		current[request.ID] = struct{}{}
		s.deliver(model.RequestEvent{
			EventID:    uuid.New().String(),
			Type:       model.EventRequestCreated,
			Request:    request,
			OccurredAt: now,
		})
	}

	// Requests seen on a previous poll but no longer pending were
	// resolved some way we cannot observe from here.
	s.mu.Lock()
	var gone []string
	for id := range s.pending {
		if _, ok := current[id]; !ok {
			gone = append(gone, id)
		}
	}
	s.pending = current
	s.mu.Unlock()

	for _, id := range gone {
		s.emit(model.RequestEvent{
			EventID:    uuid.New().String(),
			Type:       EventRequestGone,
			Request:    model.InstantRequest{ID: id},
			OccurredAt: now,
		})
	}
}

func (s *Subscriber) fetchPending(ctx context.Context) ([]model.InstantRequest, error) {
	pendingURL := s.cfg.BaseURL + "/api/v1/instant-requests/pending"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pendingURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list pending returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Data []model.InstantRequest `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// deliver suppresses duplicate creation announcements across both
// delivery paths. Resolution events always pass through.
func (s *Subscriber) deliver(event model.RequestEvent) {
	if event.Type == model.EventRequestCreated {
		s.mu.Lock()
		if _, dup := s.seen[event.Request.ID]; dup {
			s.mu.Unlock()
			return
		}
		s.seen[event.Request.ID] = struct{}{}
		s.mu.Unlock()
	}
	s.emit(event)
}

func (s *Subscriber) emit(event model.RequestEvent) {
	select {
	case s.events <- event:
	default:
		s.log.Warn("Subscriber event buffer full, dropping event",
			"event_id", event.EventID,
			"type", event.Type,
		)
	}
}
