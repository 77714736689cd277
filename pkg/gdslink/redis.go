package gdslink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// wireMessage is what travels on the request list.
type wireMessage struct {
	ID      string `json:"id"`
	ReplyTo string `json:"replyTo"`
	Body    string `json:"body"`
}

// RedisTransport carries GDS-Link calls over Redis lists. Callers push
// requests onto <prefix>:requests and block on a per-call reply list; a
// kernel process drains the request list with Serve.
type RedisTransport struct {
	client   *redis.Client
	prefix   string
	timeout  time.Duration
	replyTTL time.Duration
	newID    func() string
	logger   *slog.Logger
}

// NewRedisTransport wraps an existing client.
func NewRedisTransport(client *redis.Client, prefix string) *RedisTransport {
	if prefix == "" {
		prefix = "organon:gds"
	}
	return &RedisTransport{
		client:   client,
		prefix:   prefix,
		timeout:  30 * time.Second,
		replyTTL: time.Minute,
		newID:    uuid.NewString,
		logger:   slog.Default().With("component", "gdslink.redis"),
	}
}

// DialRedis creates a transport with its own client.
func DialRedis(addr, password string, db int, prefix string) *RedisTransport {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisTransport(rdb, prefix)
}

// WithTimeout bounds how long Invoke waits for a reply.
func (t *RedisTransport) WithTimeout(d time.Duration) *RedisTransport {
	t.timeout = d
	return t
}

// WithLogger sets the transport logger.
func (t *RedisTransport) WithLogger(l *slog.Logger) *RedisTransport {
	t.logger = l.With("component", "gdslink.redis")
	return t
}

// RequestKey is the list requests are pushed to.
func (t *RedisTransport) RequestKey() string {
	return t.prefix + ":requests"
}

func (t *RedisTransport) replyKey(id string) string {
	return t.prefix + ":reply:" + id
}

// Ping checks the connection.
func (t *RedisTransport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close releases the client.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}

// ErrReplyTimeout is returned when no reply arrives in time.
var ErrReplyTimeout = errors.New("gdslink: timed out waiting for kernel reply")

// Invoke sends request and waits for the reply. It satisfies InvokeFunc.
func (t *RedisTransport) Invoke(ctx context.Context, request string) (string, error) {
	msg := wireMessage{ID: t.newID(), Body: request}
	msg.ReplyTo = t.replyKey(msg.ID)

	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	if err := t.client.RPush(ctx, t.RequestKey(), raw).Err(); err != nil {
		return "", fmt.Errorf("redis push: %w", err)
	}

	res, err := t.client.BLPop(ctx, t.timeout, msg.ReplyTo).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w (request %s after %s)", ErrReplyTimeout, msg.ID, t.timeout)
	}
	if err != nil {
		return "", fmt.Errorf("redis wait reply: %w", err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("redis reply: unexpected shape %v", res)
	}
	return res[1], nil
}

// Serve answers requests with handler until ctx ends. Handler errors are
// sent back as ok=false envelopes so callers never hang on them.
func (t *RedisTransport) Serve(ctx context.Context, handler InvokeFunc) error {
	t.logger.Info("serving gds requests", "key", t.RequestKey())
	for {
		res, err := t.client.BLPop(ctx, time.Second, t.RequestKey()).Result()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis serve: %w", err)
		}
		if len(res) != 2 {
			continue
		}

		var msg wireMessage
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil || msg.ReplyTo == "" {
			t.logger.Warn("dropping malformed request", "error", err)
			continue
		}
		reply := t.handle(ctx, handler, msg)
		pipe := t.client.TxPipeline()
		pipe.RPush(ctx, msg.ReplyTo, reply)
		pipe.Expire(ctx, msg.ReplyTo, t.replyTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			t.logger.Error("reply failed", "request_id", msg.ID, "error", err)
		}
	}
}

func (t *RedisTransport) handle(ctx context.Context, handler InvokeFunc, msg wireMessage) string {
	out, err := handler(ctx, msg.Body)
	if err == nil {
		return out
	}
	var probe struct {
		Op string `json:"op"`
	}
	_ = json.Unmarshal([]byte(msg.Body), &probe)
	t.logger.Warn("handler failed", "request_id", msg.ID, "op", probe.Op, "error", err)

	raw, _ := json.Marshal(ErrorResponse(probe.Op, "INTERNAL", err.Error()))
	return string(raw)
}
