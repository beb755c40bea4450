// Package publish pushes analysis results to Redis for low-latency lookups by
// other services.
//
// Keys, all expiring after the configured TTL:
//
//	<prefix>:run:<id>           run metadata (JSON)
//	<prefix>:run:<id>:reviewers sorted set, member = reviewer, score = anomalous score
//	<prefix>:run:<id>:products  hash, field = product, value = summary
//	<prefix>:latest             ID of the most recently published run
//
// A message with the run ID is also sent on channel <prefix>:events.
//
// Reviewer and product names need not be unique. A repeated name is
// published as "<name>#2", "<name>#3" and so on, in result order.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rgmining/fraudeagle/internal/analysis"
)

// ErrNotPublished is returned when a key the caller asked for does not exist.
var ErrNotPublished = errors.New("not published")

// DefaultTTL applies when New is given a non-positive TTL.
const DefaultTTL = 7 * 24 * time.Hour

// Publisher writes results to Redis.
type Publisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New returns a Publisher using client.
func New(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "fraudeagle"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (p *Publisher) runKey(id string) string       { return p.prefix + ":run:" + id }
func (p *Publisher) reviewersKey(id string) string { return p.runKey(id) + ":reviewers" }
func (p *Publisher) productsKey(id string) string  { return p.runKey(id) + ":products" }
func (p *Publisher) latestKey() string             { return p.prefix + ":latest" }
func (p *Publisher) eventsChannel() string         { return p.prefix + ":events" }

type runMeta struct {
	ID         string    `json:"id"`
	Dataset    string    `json:"dataset,omitempty"`
	Epsilon    float64   `json:"epsilon"`
	Iterations int       `json:"iterations"`
	Delta      float64   `json:"delta"`
	Converged  bool      `json:"converged"`
	StartedAt  time.Time `json:"started_at"`
}

// Publish writes res in one pipeline.
func (p *Publisher) Publish(ctx context.Context, res *analysis.Result) error {
	meta, err := json.Marshal(runMeta{
		ID:         res.ID,
		Dataset:    res.Dataset,
		Epsilon:    res.Epsilon,
		Iterations: res.Iterations,
		Delta:      res.Delta,
		Converged:  res.Converged,
		StartedAt:  res.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.runKey(res.ID), meta, p.ttl)

	if len(res.Reviewers) > 0 {
		members := make([]redis.Z, 0, len(res.Reviewers))
		used := make(map[string]bool, len(res.Reviewers))
		for _, rs := range res.Reviewers {
			members = append(members, redis.Z{Score: rs.Score, Member: uniqueName(used, rs.Name)})
		}
		key := p.reviewersKey(res.ID)
		pipe.Del(ctx, key)
		pipe.ZAdd(ctx, key, members...)
		pipe.Expire(ctx, key, p.ttl)
	}
	if len(res.Products) > 0 {
		fields := make(map[string]any, len(res.Products))
		used := make(map[string]bool, len(res.Products))
		for _, ps := range res.Products {
			fields[uniqueName(used, ps.Name)] = strconv.FormatFloat(ps.Summary, 'g', -1, 64)
		}
		key := p.productsKey(res.ID)
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, p.ttl)
	}
	pipe.Set(ctx, p.latestKey(), res.ID, p.ttl)
	pipe.Publish(ctx, p.eventsChannel(), res.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish run %s: %w", res.ID, err)
	}
	p.logger.Debug("run published", "run", res.ID, "prefix", p.prefix)
	return nil
}

// uniqueName returns name, or name with the first free "#n" suffix when used
// already holds it, and marks the result used.
func uniqueName(used map[string]bool, name string) string {
	key := name
	for n := 2; used[key]; n++ {
		key = name + "#" + strconv.Itoa(n)
	}
	used[key] = true
	return key
}

// Latest returns the ID of the most recently published run.
func (p *Publisher) Latest(ctx context.Context) (string, error) {
	id, err := p.client.Get(ctx, p.latestKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("latest run: %w", ErrNotPublished)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read latest run: %w", err)
	}
	return id, nil
}

// TopReviewers returns up to limit reviewers of a run by descending score.
// Review counts are not published, so Reviews is zero.
func (p *Publisher) TopReviewers(ctx context.Context, runID string, limit int) ([]analysis.ReviewerScore, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	zs, err := p.client.ZRevRangeWithScores(ctx, p.reviewersKey(runID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read reviewers of %s: %w", runID, err)
	}
	if len(zs) == 0 {
		return nil, fmt.Errorf("reviewers of %s: %w", runID, ErrNotPublished)
	}
	out := make([]analysis.ReviewerScore, 0, len(zs))
	for _, z := range zs {
		name, _ := z.Member.(string)
		out = append(out, analysis.ReviewerScore{Name: name, Score: z.Score})
	}
	return out, nil
}

// Summary returns the published summary of one product.
func (p *Publisher) Summary(ctx context.Context, runID, product string) (float64, error) {
	v, err := p.client.HGet(ctx, p.productsKey(runID), product).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("summary of %s in %s: %w", product, runID, ErrNotPublished)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read summary: %w", err)
	}
	return strconv.ParseFloat(v, 64)
}
