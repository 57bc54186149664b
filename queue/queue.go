package queue

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/log"
	"github.com/dock108/aicli-gateway/validation"
)

type sessionState struct {
	entries        []*Entry
	trackedClients map[string]struct{}
}

// Queue is a per-session FIFO with TTL and priority ordering (spec.md
// §4.D). A zero Queue is not usable; construct with NewQueue.
type Queue struct {
	cfg   *config.Config
	clock config.Clock

	mu       sync.Mutex
	sessions map[string]*sessionState
	seq      int64
}

// NewQueue constructs a Queue. Outside test mode it starts an hourly
// background sweep that drops expired entries (spec.md §4.D invariant 6 /
// §8 invariant 6: no live interval is created when cfg.IsTest()).
func NewQueue(cfg *config.Config) *Queue {
	q := &Queue{
		cfg:      cfg,
		clock:    config.ClockFor(cfg),
		sessions: make(map[string]*sessionState),
	}

	if !cfg.IsTest() {
		ticks, _ := q.clock.NewTicker(cfg.QueueCleanupTick)
		go func() {
			for range ticks {
				q.CleanupExpired()
			}
		}()
	}

	return q
}

// Queue enqueues message for sessionId. It returns ("", false) for a nil
// message or a streamChunk-typed message whose inner content is empty or
// absent (spec.md §4.D).
func (q *Queue) Queue(sessionID string, message map[string]interface{}, opts Options) (string, bool) {
	if isRejected(message) {
		return "", false
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = q.cfg.QueueTTL
	}
	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	enriched := make(map[string]interface{}, len(message)+3)
	for k, v := range message {
		enriched[k] = v
	}
	enriched["_queued"] = true
	enriched["_queuedAt"] = now
	if ts, ok := message["timestamp"]; ok {
		enriched["_originalTimestamp"] = ts
	} else {
		enriched["_originalTimestamp"] = now
	}

	q.seq++
	entry := &Entry{
		ID:          "msg_" + uuid.NewString(),
		SessionID:   sessionID,
		Message:     enriched,
		Priority:    priority,
		QueuedAt:    now,
		ExpiresAt:   now.Add(ttl),
		DeliveredTo: make(map[string]struct{}),
		seq:         q.seq,
	}

	state := q.sessionFor(sessionID)
	state.entries = append(state.entries, entry)

	return entry.ID, true
}

// GetUndelivered returns clientID's pending entries for sessionID, in
// insertion order except that HIGH-priority entries are surfaced first.
func (q *Queue) GetUndelivered(sessionID, clientID string) []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, ok := q.sessions[sessionID]
	if !ok {
		return nil
	}

	now := q.clock.Now()
	var out []*Entry
	for _, e := range state.entries {
		if _, delivered := e.DeliveredTo[clientID]; delivered {
			continue
		}
		if !e.ExpiresAt.After(now) {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return priorityRank(out[i].Priority) < priorityRank(out[j].Priority)
	})
	return out
}

// MarkDelivered records clientID as having received each of messageIDs
// within sessionID, and flags an entry fully delivered once every tracked
// client has it.
func (q *Queue) MarkDelivered(sessionID string, messageIDs []string, clientID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, ok := q.sessions[sessionID]
	if !ok {
		return
	}

	want := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = struct{}{}
	}

	for _, e := range state.entries {
		if _, match := want[e.ID]; !match {
			continue
		}
		e.DeliveredTo[clientID] = struct{}{}
		if isSupersetOf(e.DeliveredTo, state.trackedClients) {
			e.FullyDelivered = true
		}
	}
}

// TrackClient records clientID as a member of sessionID's fanout, so that
// MarkDelivered can compute when an entry has reached everyone.
func (q *Queue) TrackClient(sessionID, clientID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	state := q.sessionFor(sessionID)
	state.trackedClients[clientID] = struct{}{}
}

// Deliver sends every undelivered entry for clientID via send, marking
// successes delivered, and returns the delivered message IDs.
func (q *Queue) Deliver(sessionID, clientID string, send func(message map[string]interface{}) error) []string {
	entries := q.GetUndelivered(sessionID, clientID)

	var delivered []string
	for _, e := range entries {
		if err := send(e.Message); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Str("clientId", clientID).Msg("queue: delivery failed")
			continue
		}
		delivered = append(delivered, e.ID)
	}

	if len(delivered) > 0 {
		q.MarkDelivered(sessionID, delivered, clientID)
	}
	return delivered
}

// CleanupExpired drops every entry past its expiresAt, and any session left
// with no entries (including its tracked-client set).
func (q *Queue) CleanupExpired() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	for sessionID, state := range q.sessions {
		kept := state.entries[:0]
		for _, e := range state.entries {
			if e.ExpiresAt.After(now) {
				kept = append(kept, e)
			}
		}
		state.entries = kept
		if len(state.entries) == 0 {
			delete(q.sessions, sessionID)
		}
	}
}

// HasQueued reports whether sessionID has any entry that is both unexpired
// and not yet delivered to every tracked client.
func (q *Queue) HasQueued(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, ok := q.sessions[sessionID]
	if !ok {
		return false
	}

	now := q.clock.Now()
	for _, e := range state.entries {
		if e.ExpiresAt.After(now) && !e.FullyDelivered {
			return true
		}
	}
	return false
}

func (q *Queue) sessionFor(sessionID string) *sessionState {
	state, ok := q.sessions[sessionID]
	if !ok {
		state = &sessionState{trackedClients: make(map[string]struct{})}
		q.sessions[sessionID] = state
	}
	return state
}

func isSupersetOf(delivered, tracked map[string]struct{}) bool {
	if len(tracked) == 0 {
		return false
	}
	for c := range tracked {
		if _, ok := delivered[c]; !ok {
			return false
		}
	}
	return true
}

// isRejected mirrors spec.md §4.D's queue() rejection rule: nil messages
// and streamChunk-typed messages whose inner chunk content is empty or
// absent are never queued.
func isRejected(message map[string]interface{}) bool {
	if message == nil {
		return true
	}
	msgType, _ := message["type"].(string)
	if msgType != "streamChunk" {
		return false
	}
	data, ok := message["data"].(map[string]interface{})
	if !ok {
		return true
	}
	return !validation.ValidateStreamChunk(data)
}
