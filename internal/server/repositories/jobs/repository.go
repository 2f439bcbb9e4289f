// Package jobs persists the release-processing work queue. The queue lives
// in Postgres so that enqueueing can share the transaction that flips a
// request to APPROVED.
package jobs

import (
	"context"
	"time"

	"github.com/floodyc/AfterLiving/internal/server/models"
)

type Repository interface {
	// Enqueue inserts the unit of work for a request. A second enqueue for
	// the same request is a no-op (unique request_id).
	Enqueue(ctx context.Context, requestID, planID string) error
	// ClaimNext locks and returns the oldest runnable job, marking it
	// running. Must be called inside a transaction; returns
	// common.ErrorNotFound when nothing is runnable.
	ClaimNext(ctx context.Context) (*models.ReleaseJob, error)
	// RequeueStale flips running jobs not touched since the cutoff back to
	// queued, recovering claims from workers that died mid-job.
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
	MarkDone(ctx context.Context, id string) error
	// Reschedule requeues a failed job for a later attempt.
	Reschedule(ctx context.Context, id string, lastError string, nextRunAt time.Time) error
	// MarkDead parks the job for operator attention.
	MarkDead(ctx context.Context, id string, lastError string) error
}
