package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/log"
)

// retryDelay computes the exponential backoff before a given retry attempt.
// It is deliberately driven by the real wall clock rather than config.Clock:
// unlike the housekeeping tickers (health monitor, queue cleanup sweep),
// this delay only ever runs inside an explicit Process() call a caller
// made, so there is no background goroutine for tests to leak — and a
// NoopClock's After never fires, which would hang Process() forever on the
// first retry.
func retryDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(uint(1)<<uint(attempt-1))
}

// Handler processes one dead-letter-capable entry. It must eventually call
// callback with a nil error on success, or a non-nil error to trigger a
// retry (spec.md §4.D: "handler signature is (entry, callback(err,
// result))").
type Handler func(entry *ManagedEntry, callback func(err error, result interface{}))

// ManagedEntry is one item in a Manager queue.
type ManagedEntry struct {
	ID      string
	Payload interface{}

	Attempts int
}

// Stats is a snapshot of one named queue's lifetime counters.
type Stats struct {
	MessagesQueued    int
	MessagesProcessed int
	MessagesFailed    int
}

type managedQueue struct {
	paused  bool
	entries []*ManagedEntry
	stats   Stats
}

// Manager is the paused/retry/dead-letter queue variant (spec.md §4.D,
// "used elsewhere in the repo as messageQueueManager"): exponential-backoff
// retry, a dead-letter set for entries that exhaust their retries, and
// per-queue statistics. Each named queue is independent.
type Manager struct {
	cfg *config.Config

	mu         sync.Mutex
	queues     map[string]*managedQueue
	deadLetter map[string][]*ManagedEntry
}

// NewManager constructs a Manager.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfg:        cfg,
		queues:     make(map[string]*managedQueue),
		deadLetter: make(map[string][]*ManagedEntry),
	}
}

// Push appends payload to the named queue as a pending entry and returns
// its ID.
func (m *Manager) Push(queueName string, payload interface{}) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queueFor(queueName)
	entry := &ManagedEntry{ID: "qmsg_" + uuid.NewString(), Payload: payload}
	q.entries = append(q.entries, entry)
	q.stats.MessagesQueued++
	return entry.ID
}

// Pause stops Process from dispatching new work on queueName until Resume
// is called. Entries already queued are retained, not drained.
func (m *Manager) Pause(queueName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueFor(queueName).paused = true
}

// Resume re-enables dispatch on queueName.
func (m *Manager) Resume(queueName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueFor(queueName).paused = false
}

// Process drains every pending, non-paused entry on queueName through
// handler, retrying failures with exponential backoff
// (cfg.QueueRetryBase * 2^(attempt-1)) up to cfg.QueueMaxRetries times before
// moving an entry to the dead-letter set.
func (m *Manager) Process(queueName string, handler Handler) {
	for {
		entry, ok := m.next(queueName)
		if !ok {
			return
		}

		done := make(chan error, 1)
		handler(entry, func(err error, result interface{}) {
			done <- err
		})
		err := <-done

		if err == nil {
			m.mu.Lock()
			m.queueFor(queueName).stats.MessagesProcessed++
			m.mu.Unlock()
			continue
		}

		entry.Attempts++
		if entry.Attempts > m.cfg.QueueMaxRetries {
			m.mu.Lock()
			m.queueFor(queueName).stats.MessagesFailed++
			m.deadLetter[queueName] = append(m.deadLetter[queueName], entry)
			m.mu.Unlock()
			log.Warn().Str("queue", queueName).Str("entryId", entry.ID).Int("attempts", entry.Attempts).
				Msg("queue: entry exhausted retries, moved to dead letter")
			continue
		}

		<-time.After(retryDelay(m.cfg.QueueRetryBase, entry.Attempts))

		m.mu.Lock()
		q := m.queueFor(queueName)
		q.entries = append(q.entries, entry)
		m.mu.Unlock()
	}
}

// next pops the oldest pending entry off queueName, or (nil, false) if the
// queue is empty or paused.
func (m *Manager) next(queueName string) (*ManagedEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queueFor(queueName)
	if q.paused || len(q.entries) == 0 {
		return nil, false
	}

	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// DeadLetter returns the entries that exhausted retries on queueName.
func (m *Manager) DeadLetter(queueName string) []*ManagedEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ManagedEntry(nil), m.deadLetter[queueName]...)
}

// StatsFor returns the lifetime counters for queueName.
func (m *Manager) StatsFor(queueName string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queueFor(queueName).stats
}

func (m *Manager) queueFor(queueName string) *managedQueue {
	q, ok := m.queues[queueName]
	if !ok {
		q = &managedQueue{}
		m.queues[queueName] = q
	}
	return q
}
