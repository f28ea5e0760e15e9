// Package store provides in-memory ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st state
}

type rewardKey struct {
	UserUUID string
	Kind     ledger.RewardKind
	Date     string
}

// state is the unlocked data set. Callers hold Memory.mu.
type state struct {
	entries     []ledger.Entry // ID == index+1
	transNos    map[string]int
	grantOrders map[string]bool
	orders      map[string]ledger.OrderRecord
	rewards     []ledger.RewardRecord
	rewardKeys  map[rewardKey]bool
}

func newState() state {
	return state{
		transNos:    make(map[string]int),
		grantOrders: make(map[string]bool),
		orders:      make(map[string]ledger.OrderRecord),
		rewardKeys:  make(map[rewardKey]bool),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

var _ ledger.Store = (*Memory)(nil)

func (m *Memory) Insert(_ context.Context, e *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insert(e)
}

func (m *Memory) Entries(_ context.Context, userUUID string) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.userEntries(userUUID), nil
}

func (m *Memory) EntryByTransNo(_ context.Context, transNo string) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.entryByTransNo(transNo), nil
}

func (m *Memory) OrderExists(_ context.Context, orderNo string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.orderExists(orderNo), nil
}

func (m *Memory) ActiveGrants(_ context.Context, userUUID string, at time.Time) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.activeGrants(userUUID, at), nil
}

func (m *Memory) Balance(_ context.Context, userUUID string, at time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.balance(userUUID, at), nil
}

func (m *Memory) DebitsByGeneration(_ context.Context, userUUID, generationUUID string, voided bool) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.debitsByGeneration(userUUID, generationUUID, voided), nil
}

func (m *Memory) SetVoided(_ context.Context, id int64, voided bool, at time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.setVoided(id, voided, at, reason)
	return nil
}

func (m *Memory) Expiring(_ context.Context, userUUID string, at, until time.Time) (ledger.ExpiringAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.expiring(userUUID, at, until), nil
}

func (m *Memory) Summary(_ context.Context, q ledger.Query, at, expiringUntil time.Time) (ledger.SummaryAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.summary(q, at, expiringUntil), nil
}

func (m *Memory) Timeline(_ context.Context, q ledger.Query, at time.Time, limit, offset int) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.timeline(q, at, limit, offset), nil
}

func (m *Memory) GenerationDebits(_ context.Context, from, to time.Time) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.generationDebits(from, to), nil
}

func (m *Memory) SaveOrder(_ context.Context, o ledger.OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.saveOrder(o)
	return nil
}

func (m *Memory) OrderIntervals(_ context.Context, orderNos []string) (map[string]ledger.Interval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.orderIntervals(orderNos), nil
}

func (m *Memory) InsertReward(_ context.Context, r *ledger.RewardRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertReward(r)
}

func (m *Memory) RewardOn(_ context.Context, userUUID string, kind ledger.RewardKind, date string) (*ledger.RewardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.rewardOn(userUUID, kind, date), nil
}

func (m *Memory) LastReward(_ context.Context, userUUID string, kind ledger.RewardKind) (*ledger.RewardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.lastReward(userUUID, kind), nil
}

// =============================================================================
// STATE OPERATIONS (unlocked)
// =============================================================================

func (s *state) insert(e *ledger.Entry) error {
	if _, ok := s.transNos[e.TransNo]; ok {
		return ledger.ErrDuplicateTransaction
	}
	if e.IsGrant() && e.OrderNo != "" && s.grantOrders[e.OrderNo] {
		return ledger.ErrDuplicateTransaction
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, *e)
	s.transNos[e.TransNo] = len(s.entries) - 1
	if e.IsGrant() && e.OrderNo != "" {
		s.grantOrders[e.OrderNo] = true
	}
	return nil
}

func (s *state) userEntries(userUUID string) []ledger.Entry {
	var result []ledger.Entry
	for _, e := range s.entries {
		if e.UserUUID == userUUID {
			result = append(result, e)
		}
	}
	return result
}

func (s *state) entryByTransNo(transNo string) *ledger.Entry {
	i, ok := s.transNos[transNo]
	if !ok {
		return nil
	}
	e := s.entries[i]
	return &e
}

func (s *state) orderExists(orderNo string) bool {
	for _, e := range s.entries {
		if e.OrderNo == orderNo {
			return true
		}
	}
	return false
}

func (s *state) activeGrants(userUUID string, at time.Time) []ledger.Entry {
	var result []ledger.Entry
	for _, e := range s.entries {
		if e.UserUUID == userUUID && e.ActiveAt(at) {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ExpiredAt.Before(result[j].ExpiredAt)
	})
	return result
}

func (s *state) balance(userUUID string, at time.Time) int64 {
	var sum int64
	for _, e := range s.entries {
		if e.UserUUID == userUUID && e.CountsAt(at) {
			sum += e.Credits
		}
	}
	return sum
}

func (s *state) debitsByGeneration(userUUID, generationUUID string, voided bool) []ledger.Entry {
	var result []ledger.Entry
	for _, e := range s.entries {
		if e.UserUUID == userUUID && e.GenerationUUID == generationUUID && e.IsDebit() && e.IsVoided == voided {
			result = append(result, e)
		}
	}
	return result
}

func (s *state) setVoided(id int64, voided bool, at time.Time, reason string) {
	if id < 1 || int(id) > len(s.entries) {
		return
	}
	e := &s.entries[id-1]
	e.IsVoided = voided
	if voided {
		t := at
		e.VoidedAt = &t
		e.VoidedReason = reason
	} else {
		e.VoidedAt = nil
		e.VoidedReason = ""
	}
}

func (s *state) expiring(userUUID string, at, until time.Time) ledger.ExpiringAggregate {
	var agg ledger.ExpiringAggregate
	for _, e := range s.entries {
		if e.UserUUID != userUUID || !e.ActiveAt(at) || !e.ExpiredAt.Before(until) {
			continue
		}
		agg.Amount += e.Credits
		agg.NextAt = earliest(agg.NextAt, e.ExpiredAt)
	}
	return agg
}

func (s *state) summary(q ledger.Query, at, expiringUntil time.Time) ledger.SummaryAggregate {
	var agg ledger.SummaryAggregate
	for _, e := range s.entries {
		if !q.Matches(e) || !e.CountsAt(at) {
			continue
		}
		agg.Balance += e.Credits
		if e.IsGrant() {
			agg.TotalEarned += e.Credits
			agg.NextExpiringAt = earliest(agg.NextExpiringAt, e.ExpiredAt)
			if e.ExpiredAt.Before(expiringUntil) {
				agg.Expiring += e.Credits
			}
		} else {
			agg.TotalUsed -= e.Credits
		}
		if agg.LastEventAt == nil || e.CreatedAt.After(*agg.LastEventAt) {
			t := e.CreatedAt
			agg.LastEventAt = &t
		}
	}
	return agg
}

func (s *state) timeline(q ledger.Query, at time.Time, limit, offset int) []ledger.Entry {
	var matched []ledger.Entry
	for _, e := range s.entries {
		if e.IsVoided || !q.Matches(e) || e.ActivatedAt.After(at) {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset < 0 || offset >= len(matched) {
		return nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched
}

func (s *state) generationDebits(from, to time.Time) []ledger.Entry {
	var result []ledger.Entry
	for _, e := range s.entries {
		if !e.IsDebit() || e.IsVoided {
			continue
		}
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.CreatedAt.Before(to) {
			continue
		}
		result = append(result, e)
	}
	return result
}

func (s *state) saveOrder(o ledger.OrderRecord) {
	if _, ok := s.orders[o.OrderNo]; ok {
		return
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	s.orders[o.OrderNo] = o
}

func (s *state) orderIntervals(orderNos []string) map[string]ledger.Interval {
	result := make(map[string]ledger.Interval)
	for _, no := range orderNos {
		if o, ok := s.orders[no]; ok {
			result[no] = o.Interval
		}
	}
	return result
}

func (s *state) insertReward(r *ledger.RewardRecord) error {
	k := rewardKey{UserUUID: r.UserUUID, Kind: r.Kind, Date: r.Date}
	if s.rewardKeys[k] {
		return ledger.ErrDuplicateReward
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.rewards = append(s.rewards, *r)
	s.rewardKeys[k] = true
	return nil
}

func (s *state) rewardOn(userUUID string, kind ledger.RewardKind, date string) *ledger.RewardRecord {
	for i := range s.rewards {
		r := s.rewards[i]
		if r.UserUUID == userUUID && r.Kind == kind && r.Date == date {
			return &r
		}
	}
	return nil
}

func (s *state) lastReward(userUUID string, kind ledger.RewardKind) *ledger.RewardRecord {
	var last *ledger.RewardRecord
	for i := range s.rewards {
		r := s.rewards[i]
		if r.UserUUID != userUUID || r.Kind != kind {
			continue
		}
		if last == nil || r.Date > last.Date || (r.Date == last.Date && r.CreatedAt.After(last.CreatedAt)) {
			last = &r
		}
	}
	return last
}

func earliest(cur *time.Time, t time.Time) *time.Time {
	if cur == nil || t.Before(*cur) {
		return &t
	}
	return cur
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

var _ ledger.TxStore = (*TxMemory)(nil)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the write lock.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.st.clone()

	if err := fn(&txMemoryView{st: &tm.st}); err != nil {
		tm.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() state {
	c := newState()
	c.entries = append([]ledger.Entry(nil), s.entries...)
	c.rewards = append([]ledger.RewardRecord(nil), s.rewards...)
	for k, v := range s.transNos {
		c.transNos[k] = v
	}
	for k, v := range s.grantOrders {
		c.grantOrders[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.rewardKeys {
		c.rewardKeys[k] = v
	}
	return c
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held, so it works on the state directly.
type txMemoryView struct {
	st *state
}

func (v *txMemoryView) Insert(_ context.Context, e *ledger.Entry) error {
	return v.st.insert(e)
}

func (v *txMemoryView) Entries(_ context.Context, userUUID string) ([]ledger.Entry, error) {
	return v.st.userEntries(userUUID), nil
}

func (v *txMemoryView) EntryByTransNo(_ context.Context, transNo string) (*ledger.Entry, error) {
	return v.st.entryByTransNo(transNo), nil
}

func (v *txMemoryView) OrderExists(_ context.Context, orderNo string) (bool, error) {
	return v.st.orderExists(orderNo), nil
}

func (v *txMemoryView) ActiveGrants(_ context.Context, userUUID string, at time.Time) ([]ledger.Entry, error) {
	return v.st.activeGrants(userUUID, at), nil
}

func (v *txMemoryView) Balance(_ context.Context, userUUID string, at time.Time) (int64, error) {
	return v.st.balance(userUUID, at), nil
}

func (v *txMemoryView) DebitsByGeneration(_ context.Context, userUUID, generationUUID string, voided bool) ([]ledger.Entry, error) {
	return v.st.debitsByGeneration(userUUID, generationUUID, voided), nil
}

func (v *txMemoryView) SetVoided(_ context.Context, id int64, voided bool, at time.Time, reason string) error {
	v.st.setVoided(id, voided, at, reason)
	return nil
}

func (v *txMemoryView) Expiring(_ context.Context, userUUID string, at, until time.Time) (ledger.ExpiringAggregate, error) {
	return v.st.expiring(userUUID, at, until), nil
}

func (v *txMemoryView) Summary(_ context.Context, q ledger.Query, at, expiringUntil time.Time) (ledger.SummaryAggregate, error) {
	return v.st.summary(q, at, expiringUntil), nil
}

func (v *txMemoryView) Timeline(_ context.Context, q ledger.Query, at time.Time, limit, offset int) ([]ledger.Entry, error) {
	return v.st.timeline(q, at, limit, offset), nil
}

func (v *txMemoryView) GenerationDebits(_ context.Context, from, to time.Time) ([]ledger.Entry, error) {
	return v.st.generationDebits(from, to), nil
}

func (v *txMemoryView) SaveOrder(_ context.Context, o ledger.OrderRecord) error {
	v.st.saveOrder(o)
	return nil
}

func (v *txMemoryView) OrderIntervals(_ context.Context, orderNos []string) (map[string]ledger.Interval, error) {
	return v.st.orderIntervals(orderNos), nil
}

func (v *txMemoryView) InsertReward(_ context.Context, r *ledger.RewardRecord) error {
	return v.st.insertReward(r)
}

func (v *txMemoryView) RewardOn(_ context.Context, userUUID string, kind ledger.RewardKind, date string) (*ledger.RewardRecord, error) {
	return v.st.rewardOn(userUUID, kind, date), nil
}

func (v *txMemoryView) LastReward(_ context.Context, userUUID string, kind ledger.RewardKind) (*ledger.RewardRecord, error) {
	return v.st.lastReward(userUUID, kind), nil
}
