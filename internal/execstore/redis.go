package execstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/flowmesh/pkg/types"
)

// RedisStore implements Store backed by Redis.
// Uses Redis Streams for event streaming, a hash for listing metadata and a
// plain key for the full execution record.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	maxLen int64
	mu     sync.Mutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Password for Redis authentication
	Password string

	// DB is the database number
	DB int

	// Prefix for all keys (default: "executions")
	Prefix string

	// TTL for execution data (default: 7 days)
	TTL time.Duration

	// EventMaxLen caps the event stream length per execution
	EventMaxLen int64

	// Connection pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "executions",
		TTL:          7 * 24 * time.Hour,
		EventMaxLen:  5000,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis-backed Store.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts := &redis.Options{
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Password:     cfg.Password,
		DB:           cfg.DB,
	}

	// Parse URL if provided
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if parsed.Password != "" && cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 && cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "executions"
	}
	maxLen := cfg.EventMaxLen
	if maxLen <= 0 {
		maxLen = 5000
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		maxLen: maxLen,
	}, nil
}

// Key helpers
func (s *RedisStore) keyRecord(executionID string) string {
	return fmt.Sprintf("%s:%s:record", s.prefix, executionID)
}
func (s *RedisStore) keyMeta(executionID string) string {
	return fmt.Sprintf("%s:%s:meta", s.prefix, executionID)
}
func (s *RedisStore) keyEvents(executionID string) string {
	return fmt.Sprintf("%s:%s:events", s.prefix, executionID)
}
func (s *RedisStore) keySeq(executionID string) string {
	return fmt.Sprintf("%s:%s:seq", s.prefix, executionID)
}

// setTTL refreshes TTL on all keys for an execution.
func (s *RedisStore) setTTL(ctx context.Context, executionID string) error {
	if s.ttl <= 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	pipe.Expire(ctx, s.keyRecord(executionID), s.ttl)
	pipe.Expire(ctx, s.keyMeta(executionID), s.ttl)
	pipe.Expire(ctx, s.keyEvents(executionID), s.ttl)
	pipe.Expire(ctx, s.keySeq(executionID), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// metaFields flattens a record to the listing hash.
func metaFields(exec *types.Execution) map[string]interface{} {
	meta := exec.Meta()
	fields := map[string]interface{}{
		"executionId": meta.ID,
		"workflowId":  meta.WorkflowID,
		"status":      string(meta.Status),
		"error":       meta.Error,
		"totalTokens": strconv.Itoa(meta.TotalTokens),
		"totalCost":   strconv.FormatFloat(meta.TotalCost, 'f', -1, 64),
		"startedAt":   meta.StartedAt.Format(time.RFC3339Nano),
		"createdAt":   meta.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":   meta.UpdatedAt.Format(time.RFC3339Nano),
		"completedAt": "",
	}
	if meta.CompletedAt != nil {
		fields["completedAt"] = meta.CompletedAt.Format(time.RFC3339Nano)
	}
	return fields
}

func parseMeta(executionID string, fields map[string]string) *types.ExecutionMeta {
	meta := &types.ExecutionMeta{
		ID:         executionID,
		WorkflowID: fields["workflowId"],
		Status:     types.ExecutionStatus(fields["status"]),
		Error:      fields["error"],
	}
	meta.TotalTokens, _ = strconv.Atoi(fields["totalTokens"])
	meta.TotalCost, _ = strconv.ParseFloat(fields["totalCost"], 64)
	if v := fields["startedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			meta.StartedAt = t
		}
	}
	if v := fields["completedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			meta.CompletedAt = &t
		}
	}
	if v := fields["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			meta.CreatedAt = t
		}
	}
	if v := fields["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			meta.UpdatedAt = t
		}
	}
	return meta
}

func (s *RedisStore) Create(ctx context.Context, exec *types.Execution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution record with ID is required")
	}

	exists, err := s.client.Exists(ctx, s.keyRecord(exec.ID)).Result()
	if err != nil {
		return fmt.Errorf("check execution exists: %w", err)
	}
	if exists > 0 {
		return ErrExecutionExists
	}

	recordJSON, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.keyRecord(exec.ID), string(recordJSON), 0)
	pipe.HSet(ctx, s.keyMeta(exec.ID), metaFields(exec))
	pipe.Set(ctx, s.keySeq(exec.ID), "0", 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create execution: %w", err)
	}

	if err := s.setTTL(ctx, exec.ID); err != nil {
		slog.Warn("failed to set TTL for execution", slog.String("execution_id", exec.ID), slog.Any("error", err))
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, executionID string) (*types.Execution, error) {
	recordJSON, err := s.client.Get(ctx, s.keyRecord(executionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}

	var exec types.Execution
	if err := json.Unmarshal([]byte(recordJSON), &exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}

	return &exec, nil
}

func (s *RedisStore) List(ctx context.Context, opts *ListOptions) ([]*types.ExecutionMeta, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	pattern := fmt.Sprintf("%s:*:meta", s.prefix)
	var metas []*types.ExecutionMeta
	var cursor uint64

	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan executions: %w", err)
		}

		for _, key := range keys {
			// Extract execution ID from key pattern: prefix:executionID:meta
			parts := strings.Split(key, ":")
			if len(parts) < 3 {
				continue
			}
			executionID := parts[len(parts)-2]

			fields, err := s.client.HGetAll(ctx, key).Result()
			if err != nil || len(fields) == 0 {
				continue
			}

			meta := parseMeta(executionID, fields)
			if opts.WorkflowID != "" && meta.WorkflowID != opts.WorkflowID {
				continue
			}
			if opts.Status != "" && meta.Status != opts.Status {
				continue
			}
			metas = append(metas, meta)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	// Newest first, ID as tie-break for a stable order
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].ID > metas[j].ID
		}
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(metas) {
			return []*types.ExecutionMeta{}, nil
		}
		metas = metas[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(metas) {
		metas = metas[:opts.Limit]
	}

	return metas, nil
}

func (s *RedisStore) UpdateStatus(ctx context.Context, executionID string, status types.ExecutionStatus, startedAt, completedAt *time.Time) error {
	exec, err := s.Get(ctx, executionID)
	if err != nil {
		return err
	}

	exec.Status = status
	exec.UpdatedAt = time.Now().UTC()
	if startedAt != nil {
		exec.StartedAt = *startedAt
	}
	if completedAt != nil {
		exec.CompletedAt = completedAt
	}

	return s.write(ctx, exec)
}

func (s *RedisStore) Update(ctx context.Context, record *types.Execution) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("execution record with ID is required")
	}

	exists, err := s.client.Exists(ctx, s.keyRecord(record.ID)).Result()
	if err != nil {
		return fmt.Errorf("check execution exists: %w", err)
	}
	if exists == 0 {
		return ErrExecutionNotFound
	}

	updated := *record
	updated.UpdatedAt = time.Now().UTC()
	return s.write(ctx, &updated)
}

// write persists the record JSON and listing hash in one pipeline.
func (s *RedisStore) write(ctx context.Context, exec *types.Execution) error {
	recordJSON, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.keyRecord(exec.ID), string(recordJSON), 0)
	pipe.HSet(ctx, s.keyMeta(exec.ID), metaFields(exec))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write execution: %w", err)
	}

	s.setTTL(ctx, exec.ID)
	return nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, executionID string, input *types.EventInput) (*types.Event, error) {
	exists, err := s.client.Exists(ctx, s.keyRecord(executionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("check execution exists: %w", err)
	}
	if exists == 0 {
		return nil, ErrExecutionNotFound
	}

	// Increment sequence atomically
	seq, err := s.client.Incr(ctx, s.keySeq(executionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("incr seq: %w", err)
	}

	now := time.Now().UTC()
	eventID := strconv.FormatInt(seq, 10)

	dataBytes, _ := json.Marshal(input.Data)

	event := &types.Event{
		ID:          eventID,
		ExecutionID: executionID,
		Type:        input.Type,
		NodeID:      input.NodeID,
		Timestamp:   now,
		Data:        dataBytes,
	}

	// Add to Redis Stream with MAXLEN
	streamFields := map[string]interface{}{
		"seq":    eventID,
		"ts":     now.Format(time.RFC3339Nano),
		"type":   string(input.Type),
		"data":   string(dataBytes),
		"nodeId": input.NodeID,
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.keyEvents(executionID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: streamFields,
	}).Err(); err != nil {
		return nil, fmt.Errorf("xadd: %w", err)
	}

	s.setTTL(ctx, executionID)

	return event, nil
}

func (s *RedisStore) EventsSince(ctx context.Context, executionID string, lastEventID string) ([]*types.Event, error) {
	entries, err := s.client.XRange(ctx, s.keyEvents(executionID), "-", "+").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*types.Event{}, nil
		}
		return nil, fmt.Errorf("xrange: %w", err)
	}

	var lastSeq int64
	if lastEventID != "" {
		lastSeq, _ = strconv.ParseInt(lastEventID, 10, 64)
	}

	var events []*types.Event
	for _, entry := range entries {
		event := eventFromStreamEntry(executionID, entry.Values)
		seq, _ := strconv.ParseInt(event.ID, 10, 64)
		if lastSeq > 0 && seq <= lastSeq {
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, executionID string) (<-chan *types.Event, func(), error) {
	exists, err := s.client.Exists(ctx, s.keyRecord(executionID)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("check execution exists: %w", err)
	}
	if exists == 0 {
		return nil, nil, ErrExecutionNotFound
	}

	ch := make(chan *types.Event, 100)

	// Already terminal, hand back a closed channel
	exec, err := s.Get(ctx, executionID)
	if err == nil && exec.Status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	// The stream reader is the channel's sole owner: it closes the channel
	// when the execution reaches a terminal status or the subscription is
	// cancelled.
	subCtx, cancel := context.WithCancel(ctx)
	go s.streamReader(subCtx, executionID, ch)

	return ch, cancel, nil
}

// streamReader reads from the Redis Stream and pushes to the channel.
func (s *RedisStore) streamReader(ctx context.Context, executionID string, ch chan *types.Event) {
	defer close(ch)

	lastID := "$" // Start from latest

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// XREAD with block timeout
		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.keyEvents(executionID), lastID},
			Count:   10,
			Block:   time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			// On error, wait briefly then retry
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				lastID = entry.ID

				event := eventFromStreamEntry(executionID, entry.Values)

				select {
				case ch <- event:
				case <-ctx.Done():
					return
				default:
					// Channel full, skip event
				}

				if isTerminalStatusEvent(event) {
					return
				}
			}
		}
	}
}

// eventFromStreamEntry rebuilds an event from its stream fields.
func eventFromStreamEntry(executionID string, values map[string]interface{}) *types.Event {
	seqStr, _ := values["seq"].(string)
	ts, _ := values["ts"].(string)
	timestamp, _ := time.Parse(time.RFC3339Nano, ts)
	eventType, _ := values["type"].(string)
	data, _ := values["data"].(string)
	nodeID, _ := values["nodeId"].(string)

	return &types.Event{
		ID:          seqStr,
		ExecutionID: executionID,
		Type:        types.EventType(eventType),
		NodeID:      nodeID,
		Timestamp:   timestamp,
		Data:        json.RawMessage(data),
	}
}

// isTerminalStatusEvent reports whether the event announces a terminal
// execution status.
func isTerminalStatusEvent(event *types.Event) bool {
	if event.Type != types.EventTypeExecutionStatus {
		return false
	}
	var payload types.ExecutionStatusEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return false
	}
	return payload.Status.Terminal()
}

func (s *RedisStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	pingStart := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return map[string]interface{}{
			"adapter": "redis",
			"healthy": false,
			"error":   err.Error(),
		}, nil
	}
	pingLatency := time.Since(pingStart)

	poolStats := s.client.PoolStats()

	return map[string]interface{}{
		"adapter": "redis",
		"healthy": true,
		"details": map[string]interface{}{
			"prefix":       s.prefix,
			"ttl_hours":    s.ttl.Hours(),
			"ping_latency": pingLatency.String(),
			"pool": map[string]interface{}{
				"hits":       poolStats.Hits,
				"misses":     poolStats.Misses,
				"timeouts":   poolStats.Timeouts,
				"total_conn": poolStats.TotalConns,
				"idle_conn":  poolStats.IdleConns,
				"stale_conn": poolStats.StaleConns,
			},
		},
	}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.client.Close()
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
