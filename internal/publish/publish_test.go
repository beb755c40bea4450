package publish

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgmining/fraudeagle/internal/analysis"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func sampleResult() *analysis.Result {
	return &analysis.Result{
		ID:         "run-1",
		Epsilon:    0.1,
		Iterations: 7,
		Converged:  true,
		StartedAt:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Reviewers: []analysis.ReviewerScore{
			{Name: "alice", Score: 0.1, Reviews: 2},
			{Name: "bob", Score: 0.8, Reviews: 1},
			{Name: "carol", Score: 0.4, Reviews: 1},
		},
		Products: []analysis.ProductSummary{
			{Name: "p1", Summary: 0.75, Reviews: 3},
		},
	}
}

func TestPublish(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	p := New(client, "fe", time.Hour, nil)

	require.NoError(t, p.Publish(ctx, sampleResult()))

	latest, err := p.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest)

	top, err := p.TopReviewers(ctx, "run-1", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "bob", top[0].Name)
	assert.Equal(t, 0.8, top[0].Score)
	assert.Equal(t, "carol", top[1].Name)

	all, err := p.TopReviewers(ctx, "run-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	s, err := p.Summary(ctx, "run-1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 0.75, s)

	assert.True(t, mr.Exists("fe:run:run-1"))
	assert.Equal(t, time.Hour, mr.TTL("fe:run:run-1:reviewers"))
	assert.Equal(t, time.Hour, mr.TTL("fe:latest"))

	mr.FastForward(2 * time.Hour)
	_, err = p.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotPublished)
}

func TestNotPublished(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	p := New(client, "", 0, nil)

	_, err := p.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotPublished)
	_, err = p.TopReviewers(ctx, "nope", 5)
	assert.ErrorIs(t, err, ErrNotPublished)
	_, err = p.Summary(ctx, "nope", "p")
	assert.ErrorIs(t, err, ErrNotPublished)
}

func TestPublishEvent(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	p := New(client, "fe", time.Minute, nil)

	sub := client.Subscribe(ctx, "fe:events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, sampleResult()))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "run-1", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestPublishDuplicateNames(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	p := New(client, "fe", time.Hour, nil)

	res := sampleResult()
	res.Reviewers = []analysis.ReviewerScore{
		{Name: "same", Score: 0.9},
		{Name: "same#2", Score: 0.5},
		{Name: "same", Score: 0.2},
	}
	res.Products = []analysis.ProductSummary{
		{Name: "p", Summary: 0.3},
		{Name: "p", Summary: 0.6},
	}
	require.NoError(t, p.Publish(ctx, res))

	top, err := p.TopReviewers(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "same", top[0].Name)
	assert.Equal(t, "same#2", top[1].Name)
	assert.Equal(t, "same#3", top[2].Name)
	assert.Equal(t, 0.2, top[2].Score)

	s, err := p.Summary(ctx, "run-1", "p")
	require.NoError(t, err)
	assert.Equal(t, 0.3, s)
	s, err = p.Summary(ctx, "run-1", "p#2")
	require.NoError(t, err)
	assert.Equal(t, 0.6, s)
}

func TestDial(t *testing.T) {
	_, mr := setupTestRedis(t)
	addr := mr.Addr()
	client, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	_ = client.Close()

	mr.Close()
	_, err = Dial(context.Background(), addr)
	assert.Error(t, err)
}
