package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UploadChangesChannel is the NOTIFY channel fed by the uploads_notify_change trigger.
const UploadChangesChannel = "upload_changes"

// UploadEvent describes one mutation of an uploads row. Resync events carry no
// upload and mean "something may have been missed, reload everything".
type UploadEvent struct {
	UserID   uuid.UUID `json:"user_id"`
	UploadID uuid.UUID `json:"upload_id"`
	Status   string    `json:"status"`
	Resync   bool      `json:"-"`
}

// RealtimeClient fans Postgres upload notifications out to per-owner subscribers.
type RealtimeClient struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[uint64]chan UploadEvent
	nextID      uint64

	listener *pq.Listener
	wg       sync.WaitGroup
}

func NewRealtimeClient(logger *slog.Logger) *RealtimeClient {
	return &RealtimeClient{
		logger:      logger.With("component", "realtime"),
		subscribers: make(map[uuid.UUID]map[uint64]chan UploadEvent),
	}
}

// Listen connects a dedicated LISTEN session and dispatches notifications
// until ctx is cancelled.
func (r *RealtimeClient) Listen(ctx context.Context, dbURL string) error {
	listener := pq.NewListener(dbURL, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			r.logger.Warn("listener event", "event", ev, "error", err)
		}
	})
	if err := listener.Listen(UploadChangesChannel); err != nil {
		listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", UploadChangesChannel, err)
	}
	r.listener = listener

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx, listener)
	}()
	return nil
}

func (r *RealtimeClient) loop(ctx context.Context, listener *pq.Listener) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			// pq sends nil after a reconnect; notifications may have been lost.
			if n == nil {
				r.Broadcast(UploadEvent{Resync: true})
				continue
			}
			var ev UploadEvent
			if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
				r.logger.Warn("dropping malformed notification", "payload", n.Extra, "error", err)
				continue
			}
			r.Publish(ev)
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				r.logger.Warn("listener ping failed", "error", err)
			}
		}
	}
}

// Subscribe registers interest in one owner's uploads. The returned cancel
// func must be called to release the subscription.
func (r *RealtimeClient) Subscribe(userID uuid.UUID) (<-chan UploadEvent, func()) {
	ch := make(chan UploadEvent, 1)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	if r.subscribers[userID] == nil {
		r.subscribers[userID] = make(map[uint64]chan UploadEvent)
	}
	r.subscribers[userID][id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers[userID], id)
			if len(r.subscribers[userID]) == 0 {
				delete(r.subscribers, userID)
			}
			r.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers ev to the owner's subscribers without blocking. A subscriber
// that has not drained its previous event keeps that one; events coalesce.
func (r *RealtimeClient) Publish(ev UploadEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subscribers[ev.UserID] {
		offer(ch, ev)
	}
}

func (r *RealtimeClient) Broadcast(ev UploadEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, subs := range r.subscribers {
		for _, ch := range subs {
			offer(ch, ev)
		}
	}
}

func offer(ch chan UploadEvent, ev UploadEvent) {
	select {
	case ch <- ev:
	default:
	}
}

func (r *RealtimeClient) SubscriberCount(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[userID])
}

// Close stops the listener. Callers cancel the Listen context first.
func (r *RealtimeClient) Close() error {
	var err error
	if r.listener != nil {
		err = r.listener.Close()
	}
	r.wg.Wait()
	return err
}
