package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-process Store with the same scoping rules as
// SQLiteStore. Failures can be injected per operation.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	stm      []STMEntry
	ltm      []LTMEntry
	nextID   int64
	last     time.Time
	failures map[string]error
	metrics  map[string]float64
	closed   bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		sessions: map[string]*Session{},
		failures: map[string]error{},
		metrics:  map[string]float64{},
	}
}

// FailOn makes every call of op return err wrapped as ErrStoreUnavailable.
// A nil err clears the fault. op is the Store method name.
func (m *MemStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Metric returns the running total of a recorded metric.
func (m *MemStore) Metric(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics[name]
}

func (m *MemStore) fault(op string) error {
	if m.closed {
		return storeErr(op, fmt.Errorf("store closed"))
	}
	if err, ok := m.failures[op]; ok {
		return storeErr(op, err)
	}
	return nil
}

// tick returns a strictly increasing timestamp so ordering by time is total.
func (m *MemStore) tick() time.Time {
	now := time.Now().Truncate(time.Millisecond)
	if !now.After(m.last) {
		now = m.last.Add(time.Millisecond)
	}
	m.last = now
	return now
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemStore) owned(userID, sessionID string) (*Session, error) {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.UserID != userID {
		return nil, ErrSessionOwnership
	}
	return sess, nil
}

func (m *MemStore) state(sess *Session) SessionState {
	out := SessionState{Session: *sess, STM: []STMEntry{}, LTM: []LTMEntry{}}
	for _, e := range m.stm {
		if e.UserID == sess.UserID && e.SessionID == sess.SessionID {
			out.STM = append(out.STM, e)
		}
	}
	for _, e := range m.ltm {
		if e.UserID == sess.UserID && e.SessionID == sess.SessionID {
			out.LTM = append(out.LTM, e)
		}
	}
	return out
}

func (m *MemStore) GetOrCreateSession(_ context.Context, userID, sessionID string) (SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetOrCreateSession"); err != nil {
		return SessionState{}, err
	}
	if _, ok := m.sessions[sessionID]; !ok {
		now := m.tick()
		m.sessions[sessionID] = &Session{SessionID: sessionID, UserID: userID, CreatedAt: now, UpdatedAt: now}
	}
	sess, err := m.owned(userID, sessionID)
	if err != nil {
		return SessionState{}, fmt.Errorf("get or create session: %w", err)
	}
	return m.state(sess), nil
}

func (m *MemStore) GetSession(_ context.Context, userID, sessionID string) (SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetSession"); err != nil {
		return SessionState{}, err
	}
	sess, err := m.owned(userID, sessionID)
	if err != nil {
		return SessionState{}, fmt.Errorf("get session: %w", err)
	}
	return m.state(sess), nil
}

func (m *MemStore) SetMessageCount(_ context.Context, userID, sessionID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("SetMessageCount"); err != nil {
		return err
	}
	sess, err := m.owned(userID, sessionID)
	if err != nil {
		return fmt.Errorf("set message count: %w", ErrSessionNotFound)
	}
	sess.MessageCount = count
	sess.UpdatedAt = m.tick()
	return nil
}

func (m *MemStore) ListSessions(_ context.Context, userID string) ([]SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListSessions"); err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0)
	for _, sess := range m.sessions {
		if sess.UserID != userID {
			continue
		}
		st := m.state(sess)
		raw := ""
		if len(st.STM) > 0 {
			raw = st.STM[0].Content
		} else if len(st.LTM) > 0 {
			raw = st.LTM[0].MemoryText
		}
		out = append(out, SessionSummary{
			SessionID:    sess.SessionID,
			Title:        sessionTitle(raw),
			MessageCount: sess.MessageCount,
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

func (m *MemStore) AppendSTM(_ context.Context, userID, sessionID string, role Role, content string) (STMEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("AppendSTM"); err != nil {
		return STMEntry{}, err
	}
	sess, err := m.owned(userID, sessionID)
	if err != nil {
		return STMEntry{}, fmt.Errorf("append stm: %w", ErrSessionNotFound)
	}
	now := m.tick()
	m.nextID++
	e := STMEntry{ID: m.nextID, SessionID: sessionID, UserID: userID, Role: role, Content: content, CreatedAt: now}
	m.stm = append(m.stm, e)
	sess.UpdatedAt = now
	return e, nil
}

func (m *MemStore) ClearSTM(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ClearSTM"); err != nil {
		return err
	}
	m.dropSTM(userID, sessionID, 0)
	return nil
}

// dropSTM removes the session's STM with id <= throughID, or all of it when
// throughID is 0.
func (m *MemStore) dropSTM(userID, sessionID string, throughID int64) {
	kept := m.stm[:0]
	for _, e := range m.stm {
		if e.UserID == userID && e.SessionID == sessionID && (throughID == 0 || e.ID <= throughID) {
			continue
		}
		kept = append(kept, e)
	}
	m.stm = kept
}

func (m *MemStore) AppendLTM(_ context.Context, userID, sessionID string, memoryTexts []string) ([]LTMEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("AppendLTM"); err != nil {
		return nil, err
	}
	return m.commitFacts("append ltm", userID, sessionID, memoryTexts, -1)
}

func (m *MemStore) CommitSummary(_ context.Context, userID, sessionID string, memoryTexts []string, throughSTMID int64) ([]LTMEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("CommitSummary"); err != nil {
		return nil, err
	}
	return m.commitFacts("commit summary", userID, sessionID, memoryTexts, throughSTMID)
}

func (m *MemStore) commitFacts(op, userID, sessionID string, memoryTexts []string, throughSTMID int64) ([]LTMEntry, error) {
	if len(memoryTexts) == 0 {
		return nil, nil
	}
	sess, err := m.owned(userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}
	now := m.tick()
	out := make([]LTMEntry, 0, len(memoryTexts))
	for _, text := range memoryTexts {
		m.nextID++
		out = append(out, LTMEntry{ID: m.nextID, SessionID: sessionID, UserID: userID, MemoryText: text, CreatedAt: now})
	}
	m.ltm = append(m.ltm, out...)
	if throughSTMID > 0 {
		m.dropSTM(userID, sessionID, throughSTMID)
	}
	sess.UpdatedAt = now
	return out, nil
}

func (m *MemStore) GetGlobalContext(_ context.Context, userID string, stmLimit int) (GlobalContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetGlobalContext"); err != nil {
		return GlobalContext{}, err
	}
	if stmLimit <= 0 || stmLimit > MaxGlobalSTM {
		stmLimit = MaxGlobalSTM
	}
	out := GlobalContext{LTM: []LTMEntry{}, STM: []STMEntry{}}
	for _, e := range m.ltm {
		if e.UserID == userID {
			out.LTM = append(out.LTM, e)
		}
	}
	for _, e := range m.stm {
		if e.UserID == userID {
			out.STM = append(out.STM, e)
		}
	}
	if len(out.STM) > stmLimit {
		out.STM = out.STM[len(out.STM)-stmLimit:]
	}
	return out, nil
}

func (m *MemStore) ListPendingSummaries(_ context.Context, minSTM, limit int) ([]SessionRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListPendingSummaries"); err != nil {
		return nil, err
	}
	if minSTM <= 0 {
		minSTM = 1
	}
	counts := map[string]*SessionRef{}
	order := make([]string, 0)
	for _, e := range m.stm {
		ref, ok := counts[e.SessionID]
		if !ok {
			ref = &SessionRef{SessionID: e.SessionID, UserID: e.UserID}
			counts[e.SessionID] = ref
			order = append(order, e.SessionID)
		}
		ref.STMCount++
	}
	out := make([]SessionRef, 0)
	for _, id := range order {
		if ref := counts[id]; ref.STMCount >= minSTM {
			out = append(out, *ref)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) AddMetric(_ context.Context, metric string, value float64, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[metric] += value
	return nil
}
