package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/sogeor/flow/domain"
)

// Cache wraps a Resource Store with Redis-backed caching of the board and
// workflow listings. Every mutation evicts the listing it touches; Redis
// failures fall back to the backing store.
type Cache struct {
	domain.Store
	redis *redis.Client
	ttl   time.Duration
}

var _ domain.Store = (*Cache)(nil)

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base domain.Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Store: base, redis: client, ttl: ttl}
}

func (c *Cache) ListBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	var boards []domain.Board
	if c.load(ctx, boardsCacheKey(ownerID), &boards) {
		return boards, nil
	}
	boards, err := c.Store.ListBoards(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, boardsCacheKey(ownerID), boards)
	return boards, nil
}

func (c *Cache) ListWorkflows(ctx context.Context, boardID string) ([]domain.Workflow, error) {
	var workflows []domain.Workflow
	if c.load(ctx, workflowsCacheKey(boardID), &workflows) {
		return workflows, nil
	}
	workflows, err := c.Store.ListWorkflows(ctx, boardID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, workflowsCacheKey(boardID), workflows)
	return workflows, nil
}

func (c *Cache) CreateBoard(ctx context.Context, b domain.Board) error {
	if err := c.Store.CreateBoard(ctx, b); err != nil {
		return err
	}
	c.evict(ctx, boardsCacheKey(b.OwnerID))
	return nil
}

func (c *Cache) ReplaceBoardSettings(ctx context.Context, id string, s domain.BoardSettings) (domain.Board, error) {
	b, err := c.Store.ReplaceBoardSettings(ctx, id, s)
	if err != nil {
		return domain.Board{}, err
	}
	c.evict(ctx, boardsCacheKey(b.OwnerID))
	return b, nil
}

func (c *Cache) DeleteBoard(ctx context.Context, id string) (domain.Board, error) {
	b, err := c.Store.DeleteBoard(ctx, id)
	if err != nil {
		return domain.Board{}, err
	}
	c.evict(ctx, boardsCacheKey(b.OwnerID), workflowsCacheKey(id))
	return b, nil
}

func (c *Cache) DeleteBoardsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	ids, err := c.Store.DeleteBoardsByOwner(ctx, ownerID)
	keys := []string{boardsCacheKey(ownerID)}
	for _, id := range ids {
		keys = append(keys, workflowsCacheKey(id))
	}
	c.evict(ctx, keys...)
	return ids, err
}

func (c *Cache) CreateWorkflow(ctx context.Context, w domain.Workflow) error {
	if err := c.Store.CreateWorkflow(ctx, w); err != nil {
		return err
	}
	c.evict(ctx, workflowsCacheKey(w.BoardID))
	return nil
}

func (c *Cache) DeleteWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	w, err := c.Store.DeleteWorkflow(ctx, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	c.evict(ctx, workflowsCacheKey(w.BoardID))
	return w, nil
}

func (c *Cache) DeleteWorkflowsByBoards(ctx context.Context, boardIDs []string) (int, error) {
	n, err := c.Store.DeleteWorkflowsByBoards(ctx, boardIDs)
	keys := make([]string, 0, len(boardIDs))
	for _, id := range boardIDs {
		keys = append(keys, workflowsCacheKey(id))
	}
	c.evict(ctx, keys...)
	return n, err
}

func (c *Cache) AppendCard(ctx context.Context, workflowID string, card domain.Card) (domain.Workflow, error) {
	w, err := c.Store.AppendCard(ctx, workflowID, card)
	if err != nil {
		return domain.Workflow{}, err
	}
	c.evict(ctx, workflowsCacheKey(w.BoardID))
	return w, nil
}

func (c *Cache) RemoveCard(ctx context.Context, workflowID, cardID string) (domain.Workflow, error) {
	w, err := c.Store.RemoveCard(ctx, workflowID, cardID)
	if err != nil {
		return domain.Workflow{}, err
	}
	c.evict(ctx, workflowsCacheKey(w.BoardID))
	return w, nil
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil || len(keys) == 0 {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func boardsCacheKey(ownerID string) string {
	return "boards:" + ownerID
}

func workflowsCacheKey(boardID string) string {
	return "workflows:" + boardID
}
