package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/sogeor/flow/domain"
)

// Memory is a thread-safe in-process Resource Store. Every record is copied
// on the way in and out so callers never share state with the store.
type Memory struct {
	mu        sync.RWMutex
	seq       uint64
	accounts  map[string]memRecord[domain.Account]
	emails    map[string]string
	boards    map[string]memRecord[domain.Board]
	workflows map[string]memRecord[domain.Workflow]
}

var _ domain.Store = (*Memory)(nil)

type memRecord[T any] struct {
	seq uint64
	val T
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[string]memRecord[domain.Account]),
		emails:    make(map[string]string),
		boards:    make(map[string]memRecord[domain.Board]),
		workflows: make(map[string]memRecord[domain.Workflow]),
	}
}

func (m *Memory) next() uint64 {
	m.seq++
	return m.seq
}

// --- accounts ---

func (m *Memory) CreateAccount(_ context.Context, a domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.emails[a.Email]; ok {
		return &domain.ConflictError{Kind: domain.KindAccount}
	}
	if _, ok := m.accounts[a.ID]; ok {
		return &domain.ConflictError{Kind: domain.KindAccount}
	}
	m.emails[a.Email] = a.ID
	m.accounts[a.ID] = memRecord[domain.Account]{seq: m.next(), val: a.Clone()}
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id string) (domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, domain.NotFound(domain.KindAccount, id)
	}
	return rec.val.Clone(), nil
}

func (m *Memory) FindAccountByEmail(_ context.Context, email string) (domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return domain.Account{}, domain.NotFound(domain.KindAccount, email)
	}
	rec, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, domain.NotFound(domain.KindAccount, id)
	}
	return rec.val.Clone(), nil
}

func (m *Memory) ReplaceAccountSettings(_ context.Context, id string, s domain.AccountSettings) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, domain.NotFound(domain.KindAccount, id)
	}
	rec.val.Settings = s.Clone()
	m.accounts[id] = rec
	return rec.val.Clone(), nil
}

func (m *Memory) DeleteAccount(_ context.Context, id string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, domain.NotFound(domain.KindAccount, id)
	}
	delete(m.accounts, id)
	if m.emails[rec.val.Email] == id {
		delete(m.emails, rec.val.Email)
	}
	return rec.val, nil
}

// --- boards ---

func (m *Memory) CreateBoard(_ context.Context, b domain.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[b.ID]; ok {
		return &domain.ConflictError{Kind: domain.KindBoard}
	}
	m.boards[b.ID] = memRecord[domain.Board]{seq: m.next(), val: b.Clone()}
	return nil
}

func (m *Memory) GetBoard(_ context.Context, id string) (domain.Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.boards[id]
	if !ok {
		return domain.Board{}, domain.NotFound(domain.KindBoard, id)
	}
	return rec.val.Clone(), nil
}

func (m *Memory) ListBoards(_ context.Context, ownerID string) ([]domain.Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := collect(m.boards, func(b domain.Board) bool { return b.OwnerID == ownerID })
	out := make([]domain.Board, len(recs))
	for i, rec := range recs {
		out[i] = rec.val.Clone()
	}
	return out, nil
}

func (m *Memory) BoardIDs(_ context.Context, ownerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := collect(m.boards, func(b domain.Board) bool { return b.OwnerID == ownerID })
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.val.ID
	}
	return ids, nil
}

func (m *Memory) ReplaceBoardSettings(_ context.Context, id string, s domain.BoardSettings) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.boards[id]
	if !ok {
		return domain.Board{}, domain.NotFound(domain.KindBoard, id)
	}
	rec.val.Settings = s.Clone()
	m.boards[id] = rec
	return rec.val.Clone(), nil
}

func (m *Memory) DeleteBoard(_ context.Context, id string) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.boards[id]
	if !ok {
		return domain.Board{}, domain.NotFound(domain.KindBoard, id)
	}
	delete(m.boards, id)
	return rec.val, nil
}

func (m *Memory) DeleteBoardsByOwner(_ context.Context, ownerID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := collect(m.boards, func(b domain.Board) bool { return b.OwnerID == ownerID })
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.val.ID
		delete(m.boards, rec.val.ID)
	}
	return ids, nil
}

// --- workflows ---

func (m *Memory) CreateWorkflow(_ context.Context, w domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[w.ID]; ok {
		return &domain.ConflictError{Kind: domain.KindWorkflow}
	}
	m.workflows[w.ID] = memRecord[domain.Workflow]{seq: m.next(), val: w.Clone()}
	return nil
}

func (m *Memory) GetWorkflow(_ context.Context, id string) (domain.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.workflows[id]
	if !ok {
		return domain.Workflow{}, domain.NotFound(domain.KindWorkflow, id)
	}
	return rec.val.Clone(), nil
}

func (m *Memory) ListWorkflows(_ context.Context, boardID string) ([]domain.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := collect(m.workflows, func(w domain.Workflow) bool { return w.BoardID == boardID })
	out := make([]domain.Workflow, len(recs))
	for i, rec := range recs {
		out[i] = rec.val.Clone()
	}
	return out, nil
}

func (m *Memory) DeleteWorkflow(_ context.Context, id string) (domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.workflows[id]
	if !ok {
		return domain.Workflow{}, domain.NotFound(domain.KindWorkflow, id)
	}
	delete(m.workflows, id)
	return rec.val, nil
}

func (m *Memory) DeleteWorkflowsByBoards(_ context.Context, boardIDs []string) (int, error) {
	if len(boardIDs) == 0 {
		return 0, nil
	}
	set := make(map[string]struct{}, len(boardIDs))
	for _, id := range boardIDs {
		set[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.workflows {
		if _, ok := set[rec.val.BoardID]; ok {
			delete(m.workflows, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) AppendCard(_ context.Context, workflowID string, card domain.Card) (domain.Workflow, error) {
	return m.mutateCards(workflowID, func(cards domain.Cards) domain.Cards {
		return cards.Append(card)
	})
}

func (m *Memory) RemoveCard(_ context.Context, workflowID, cardID string) (domain.Workflow, error) {
	return m.mutateCards(workflowID, func(cards domain.Cards) domain.Cards {
		out, _ := cards.Remove(cardID)
		return out
	})
}

func (m *Memory) mutateCards(workflowID string, fn func(domain.Cards) domain.Cards) (domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.workflows[workflowID]
	if !ok {
		return domain.Workflow{}, domain.NotFound(domain.KindWorkflow, workflowID)
	}
	rec.val.Cards = fn(rec.val.Cards)
	m.workflows[workflowID] = rec
	return rec.val.Clone(), nil
}

// collect returns matching records in insertion order.
func collect[T any](src map[string]memRecord[T], keep func(T) bool) []memRecord[T] {
	out := make([]memRecord[T], 0)
	for _, rec := range src {
		if keep(rec.val) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
