package permission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/runner"
)

const (
	autoApproveThreshold = 5
	autoDenyThreshold    = 3
	historyCap           = 1000
	historyTrimTo        = 500
)

// Manager brokers permission requests: auto-rules and history-driven
// learning resolve most operations immediately; everything else waits for
// an explicit Approve/Deny or the configured timeout.
type Manager struct {
	cfg      *config.Config
	clock    config.Clock
	emitter  Emitter
	notifier AppNotifier

	autoApprove []Pattern
	autoDeny    []Pattern

	mu      sync.Mutex
	pending map[string]*pendingEntry
	history []ApprovalHistoryEntry
}

type pendingEntry struct {
	req    Request
	done   chan struct{}
	result Result
}

// NewManager constructs a permission Manager. notifier may be nil, in which
// case requests that reach the pending path are never delivered to a device
// (useful for tests exercising only the auto-rule paths).
func NewManager(cfg *config.Config, emitter Emitter, notifier AppNotifier, autoApprove, autoDeny []Pattern) *Manager {
	return &Manager{
		cfg:         cfg,
		clock:       config.ClockFor(cfg),
		emitter:     emitter,
		notifier:    notifier,
		autoApprove: autoApprove,
		autoDeny:    autoDeny,
		pending:     make(map[string]*pendingEntry),
	}
}

// RequestPermission resolves operation either immediately (auto-approve,
// auto-deny, a session's own tool allow/deny lists, or a learned threshold
// from approvalHistory) or by waiting for Approve/Deny/the configured
// timeout. reqContext carries "toolName"/"toolInput"/"allowedTools"/
// "disallowedTools" when the request originates from a runner tool-use
// event, letting the session's launch-time tool lists auto-approve the
// same way the AI CLI's own --allowedTools flag would.
func (m *Manager) RequestPermission(ctx context.Context, operation string, reqContext map[string]interface{}) Result {
	for _, p := range m.autoApprove {
		if p.Match(operation) {
			return Result{Approved: true, Auto: true}
		}
	}
	if toolAllowedByContext(reqContext) {
		return Result{Approved: true, Auto: true}
	}
	if m.countSinceOpposite(operation, StatusApproved) >= autoApproveThreshold {
		return Result{Approved: true, Auto: true}
	}

	for _, p := range m.autoDeny {
		if p.Match(operation) {
			return Result{Approved: false, Auto: true, Reason: "matched auto-deny pattern"}
		}
	}
	if m.countSinceOpposite(operation, StatusDenied) >= autoDenyThreshold {
		return Result{Approved: false, Auto: true, Reason: "denied repeatedly in approval history"}
	}

	now := m.clock.Now()
	req := Request{
		ID:        "perm_" + uuid.NewString(),
		Operation: operation,
		Context:   reqContext,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.PermissionRequestTimeout),
		Status:    StatusPending,
	}

	entry := &pendingEntry{req: req, done: make(chan struct{})}
	m.mu.Lock()
	m.pending[req.ID] = entry
	m.mu.Unlock()

	go m.runTimeout(req.ID, m.cfg.PermissionRequestTimeout)

	if m.notifier != nil {
		if err := m.notifier.NotifyApps(req); err == nil {
			m.emit(Event{Type: EventNotificationSent, Request: req, Timestamp: m.clock.Now()})
		}
	}

	select {
	case <-entry.done:
		return entry.result
	case <-ctx.Done():
		return Result{Approved: false, RequestID: req.ID, Reason: ctx.Err().Error()}
	}
}

func (m *Manager) runTimeout(id string, timeout time.Duration) {
	<-time.After(timeout)
	defaultApprove := m.cfg.PermissionDefaultAction == "approve"
	reason := fmt.Sprintf("permission request %s timed out", id)
	if defaultApprove {
		m.resolve(id, Result{Approved: true, RequestID: id, Approver: "timeout-default", Reason: reason}, StatusTimedOut)
	} else {
		m.resolve(id, Result{Approved: false, RequestID: id, Denier: "timeout-default", Reason: reason}, StatusTimedOut)
	}
}

// Approve resolves a pending request as approved. Returns false if id is
// unknown or no longer pending.
func (m *Manager) Approve(id, approver string) bool {
	return m.resolve(id, Result{Approved: true, RequestID: id, Approver: approver}, StatusApproved)
}

// Deny resolves a pending request as denied. Returns false if id is unknown
// or no longer pending.
func (m *Manager) Deny(id, reason, denier string) bool {
	return m.resolve(id, Result{Approved: false, RequestID: id, Denier: denier, Reason: reason}, StatusDenied)
}

func (m *Manager) resolve(id string, result Result, status Status) bool {
	m.mu.Lock()
	entry, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pending, id)
	entry.req.Status = status
	entry.req.Approver = result.Approver
	entry.req.Denier = result.Denier
	entry.req.Reason = result.Reason
	entry.req.Auto = result.Auto
	entry.result = result
	now := m.clock.Now()
	m.appendHistoryLocked(ApprovalHistoryEntry{Request: entry.req, ResolvedAt: now})
	m.mu.Unlock()

	close(entry.done)

	evType := EventPermissionDenied
	if result.Approved {
		evType = EventPermissionApproved
	}
	m.emit(Event{Type: evType, Request: entry.req, Timestamp: now})
	return true
}

// countSinceOpposite walks approvalHistory from most recent to oldest,
// counting consecutive entries for operation with the given status until it
// hits one with the opposite terminal status (an "intervening" decision
// that resets the streak) or runs out of history.
func (m *Manager) countSinceOpposite(operation string, status Status) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	opposite := StatusDenied
	if status == StatusDenied {
		opposite = StatusApproved
	}

	count := 0
	for i := len(m.history) - 1; i >= 0; i-- {
		e := m.history[i]
		if e.Request.Operation != operation {
			continue
		}
		if e.Request.Status == opposite {
			break
		}
		if e.Request.Status == status {
			count++
		}
	}
	return count
}

func (m *Manager) appendHistoryLocked(entry ApprovalHistoryEntry) {
	if len(m.history) >= historyCap {
		trimmed := make([]ApprovalHistoryEntry, historyTrimTo)
		copy(trimmed, m.history[len(m.history)-historyTrimTo:])
		m.history = trimmed
	}
	m.history = append(m.history, entry)
}

// GetApprovalHistory returns entries matching filter in reverse-chronological
// order.
func (m *Manager) GetApprovalHistory(filter HistoryFilter) []ApprovalHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ApprovalHistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		e := m.history[i]
		if filter.Operation != "" && e.Request.Operation != filter.Operation {
			continue
		}
		if filter.Status != "" && e.Request.Status != filter.Status {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// ClearHistory empties approvalHistory and returns the number of entries
// removed.
func (m *Manager) ClearHistory() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.history)
	m.history = nil
	return n
}

func (m *Manager) emit(ev Event) {
	if m.emitter != nil {
		m.emitter.Emit(ev)
	}
}

// toolAllowedByContext reports whether reqContext describes a tool-use
// request that the session's own allowedTools/disallowedTools lists
// already auto-approve. Absent any of toolName/allowedTools, it reports
// false so callers fall through to the pattern/history/pending path.
func toolAllowedByContext(reqContext map[string]interface{}) bool {
	toolName, _ := reqContext["toolName"].(string)
	if toolName == "" {
		return false
	}
	allowedTools := stringsFrom(reqContext["allowedTools"])
	if len(allowedTools) == 0 {
		return false
	}
	disallowedTools := stringsFrom(reqContext["disallowedTools"])
	toolInput, _ := reqContext["toolInput"].(map[string]interface{})

	return runner.IsToolAllowed(toolName, toolInput, allowedTools, disallowedTools)
}

func stringsFrom(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
