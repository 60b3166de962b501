package flowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/flowmesh/pkg/types"
)

const (
	workflowKeyPrefix = "workflow:"
	workflowListKey   = "workflows"
)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed workflow store and verifies
// connectivity. Password and db override whatever the URL carries.
func NewRedisStore(url, password string, db int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.DB = db
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store using an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) workflowKey(id string) string {
	return workflowKeyPrefix + id
}

// Create saves a new workflow.
func (s *RedisStore) Create(ctx context.Context, req *CreateRequest) (*types.Workflow, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	// Check if exists
	exists, err := s.client.Exists(ctx, s.workflowKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("check exists: %w", err)
	}
	if exists > 0 {
		return nil, ErrWorkflowExists
	}

	now := time.Now().UTC()
	wf := &types.Workflow{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Agents:      req.Agents,
		Edges:       req.Edges,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}

	// Use transaction to set workflow and add to list
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.workflowKey(id), data, 0)
	pipe.SAdd(ctx, workflowListKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("save workflow: %w", err)
	}

	return wf, nil
}

// Get retrieves a workflow by ID.
func (s *RedisStore) Get(ctx context.Context, id string) (*types.Workflow, error) {
	data, err := s.client.Get(ctx, s.workflowKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	var wf types.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}

	return &wf, nil
}

// Update modifies an existing workflow.
func (s *RedisStore) Update(ctx context.Context, id string, req *UpdateRequest) (*types.Workflow, error) {
	wf, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Apply updates
	if req.Name != nil {
		wf.Name = *req.Name
	}
	if req.Description != nil {
		wf.Description = *req.Description
	}
	if req.Agents != nil {
		wf.Agents = req.Agents
	}
	if req.Edges != nil {
		wf.Edges = req.Edges
	}
	wf.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}

	if err := s.client.Set(ctx, s.workflowKey(id), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("save workflow: %w", err)
	}

	return wf, nil
}

// Delete removes a workflow.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	// Check if exists
	exists, err := s.client.Exists(ctx, s.workflowKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists == 0 {
		return ErrWorkflowNotFound
	}

	// Use transaction to delete workflow and remove from list
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.workflowKey(id))
	pipe.SRem(ctx, workflowListKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}

	return nil
}

// List returns all workflows matching the options, newest first.
func (s *RedisStore) List(ctx context.Context, opts *ListOptions) ([]*types.Workflow, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	// Get all workflow IDs
	ids, err := s.client.SMembers(ctx, workflowListKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list workflow ids: %w", err)
	}

	var workflows []*types.Workflow
	for _, id := range ids {
		wf, err := s.Get(ctx, id)
		if err == ErrWorkflowNotFound {
			// Stale reference, clean up
			s.client.SRem(ctx, workflowListKey, id)
			continue
		}
		if err != nil {
			continue // Skip on error
		}

		// Filter by creator if specified
		if opts.CreatedBy != "" && wf.CreatedBy != opts.CreatedBy {
			continue
		}

		workflows = append(workflows, wf)
	}

	sort.Slice(workflows, func(i, j int) bool {
		if workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].ID > workflows[j].ID
		}
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	// Apply offset and limit
	if opts.Offset > 0 {
		if opts.Offset >= len(workflows) {
			return []*types.Workflow{}, nil
		}
		workflows = workflows[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(workflows) {
		workflows = workflows[:opts.Limit]
	}

	return workflows, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Verify interface compliance
var _ Store = (*RedisStore)(nil)
