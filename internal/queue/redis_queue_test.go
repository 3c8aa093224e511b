package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"enforcement-engine/internal/models"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueueWithClient(client, 30*time.Second), mr
}

func TestPushRejectsUnknownKind(t *testing.T) {
	q, _ := newTestQueue(t)
	if err := q.Push(context.Background(), "job-1", "mystery"); !errors.Is(err, models.ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
	if _, err := q.Dequeue(context.Background(), "mystery"); !errors.Is(err, models.ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind on dequeue, got %v", err)
	}
}

func TestPushIdempotentPerJobID(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Push(ctx, "job-1", models.KindEnrich); err != nil {
		t.Fatalf("push: %v", err)
	}
	// A resubmission after a partial failure re-pushes the same ID; it
	// must not land on the ready list twice.
	if err := q.Push(ctx, "job-1", models.KindEnrich); err != nil {
		t.Fatalf("second push: %v", err)
	}

	depth, err := q.ReadyDepth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("expected depth 1, got %d err=%v", depth, err)
	}
	if id, err := q.Dequeue(ctx, models.KindEnrich); err != nil || id != "job-1" {
		t.Fatalf("expected job-1, got %q err=%v", id, err)
	}
	if id, err := q.Dequeue(ctx, models.KindEnrich); err != nil || id != "" {
		t.Fatalf("duplicate delivery of job-1: %q err=%v", id, err)
	}

	// Once acked, the ID is untracked and a fresh push works again.
	if err := q.Ack(ctx, "job-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Push(ctx, "job-1", models.KindEnrich); err != nil {
		t.Fatalf("push after ack: %v", err)
	}
	if id, err := q.Dequeue(ctx, models.KindEnrich); err != nil || id != "job-1" {
		t.Fatalf("expected job-1 after ack, got %q err=%v", id, err)
	}
}

func TestDequeueLeasesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Push(ctx, "job-1", models.KindEnforce); err != nil {
		t.Fatalf("push: %v", err)
	}

	id, err := q.Dequeue(ctx, models.KindEnforce)
	if err != nil || id != "job-1" {
		t.Fatalf("expected job-1, got %q err=%v", id, err)
	}

	// The lease hides the job from a second consumer.
	id2, err := q.Dequeue(ctx, models.KindEnforce)
	if err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if id2 != "" {
		t.Fatalf("leased job redelivered immediately: %q", id2)
	}

	inflight, err := q.InFlightCount(ctx)
	if err != nil || inflight != 1 {
		t.Fatalf("expected 1 in-flight, got %d err=%v", inflight, err)
	}
}

func TestDequeueIsKindScoped(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Push(ctx, "job-o", models.KindOutreach); err != nil {
		t.Fatalf("push: %v", err)
	}

	id, err := q.Dequeue(ctx, models.KindEnforce)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if id != "" {
		t.Fatalf("enforce dequeue returned an outreach job: %q", id)
	}

	id, err = q.Dequeue(ctx, models.KindOutreach)
	if err != nil || id != "job-o" {
		t.Fatalf("expected job-o, got %q err=%v", id, err)
	}
}

func TestAckStopsRedelivery(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Push(ctx, "job-1", models.KindCollectability); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := q.Dequeue(ctx, models.KindCollectability); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Ack(ctx, "job-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}

	// Even far in the future nothing comes back.
	requeued, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(requeued) != 0 {
		t.Fatalf("acked job reclaimed: %v", requeued)
	}
}

func TestExpiredLeaseIsRedelivered(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Push(ctx, "job-1", models.KindEnforce); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := q.Dequeue(ctx, models.KindEnforce); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// Before the deadline nothing is reclaimed.
	requeued, err := q.RequeueExpired(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(requeued) != 0 {
		t.Fatalf("lease reclaimed too early: %v", requeued)
	}

	// Past the deadline the job returns to its own kind's list.
	requeued, err = q.RequeueExpired(ctx, time.Now().Add(time.Minute), 100)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(requeued) != 1 || requeued[0] != "job-1" {
		t.Fatalf("expected job-1 reclaimed, got %v", requeued)
	}

	id, err := q.Dequeue(ctx, models.KindEnforce)
	if err != nil || id != "job-1" {
		t.Fatalf("expected redelivery of job-1, got %q err=%v", id, err)
	}
}

func TestExtendLeaseDefersReclaim(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Push(ctx, "job-1", models.KindEnforce); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := q.Dequeue(ctx, models.KindEnforce); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.ExtendLease(ctx, "job-1", 2*time.Hour); err != nil {
		t.Fatalf("extend lease: %v", err)
	}

	requeued, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(requeued) != 0 {
		t.Fatalf("extended lease reclaimed: %v", requeued)
	}
}

func TestDLQRoundTrip(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.DLQPush(ctx, "job-dead"); err != nil {
		t.Fatalf("dlq push: %v", err)
	}
	items, err := q.DLQPeek(ctx, 10)
	if err != nil {
		t.Fatalf("dlq peek: %v", err)
	}
	if len(items) != 1 || items[0] != "job-dead" {
		t.Fatalf("unexpected dlq contents: %v", items)
	}
}
