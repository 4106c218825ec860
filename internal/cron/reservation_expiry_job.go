package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pallet-works/stockroom-backend/pkg/logger"
)

const defaultExpiryBatchSize = 100

type reservationSweeper interface {
	CleanupExpiredReservations(ctx context.Context, tenantID *uuid.UUID, batchSize int) (int, error)
}

// ReservationExpiryJob expires overdue pending holds and credits their
// quantity back, draining in batches until a cycle comes back short.
type ReservationExpiryJob struct {
	sweeper   reservationSweeper
	logg      *logger.Logger
	batchSize int
}

// NewReservationExpiryJob builds the expiry job.
func NewReservationExpiryJob(sweeper reservationSweeper, logg *logger.Logger, batchSize int) (*ReservationExpiryJob, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("reservation sweeper required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if batchSize <= 0 {
		batchSize = defaultExpiryBatchSize
	}
	return &ReservationExpiryJob{sweeper: sweeper, logg: logg, batchSize: batchSize}, nil
}

func (j *ReservationExpiryJob) Name() string { return "reservation_expiry" }

func (j *ReservationExpiryJob) Run(ctx context.Context) error {
	total := 0
	for {
		expired, err := j.sweeper.CleanupExpiredReservations(ctx, nil, j.batchSize)
		total += expired
		if err != nil {
			if total > 0 {
				logCtx := j.logg.WithField(ctx, "expired", total)
				j.logg.Warn(logCtx, "expiry sweep stopped early after partial progress")
			}
			return err
		}
		if expired < j.batchSize {
			break
		}
	}
	if total > 0 {
		logCtx := j.logg.WithField(ctx, "expired", total)
		j.logg.Info(logCtx, "expired reservations swept")
	}
	return nil
}
