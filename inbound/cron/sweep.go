package cron

import (
	"context"
	"log/slog"
	"ticketbox/common"
	"ticketbox/common/constant"
	"ticketbox/outbound/store"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/spf13/viper"
)

// IntentSweepCron marks stale pending payment intents as expired so that a
// very late provider callback cannot issue against since-reallocated
// inventory. The issuance worker re-checks expiry regardless; the sweep
// keeps the table honest.
type IntentSweepCron struct {
	Cfg     *viper.Viper
	Querier *store.Queries

	TimeNow func() time.Time
}

func (in IntentSweepCron) Start(ctx context.Context) {
	sweepTicker := time.NewTicker(in.Cfg.GetDuration("cron.sweep.interval"))
	defer sweepTicker.Stop()

	slog.Info("intent sweep cron started")

	for {
		select {
		case <-sweepTicker.C:
			in.sweep(ctx)
		case <-ctx.Done():
			slog.Info("intent sweep cron stopped")
			return
		}
	}
}

func (in IntentSweepCron) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, in.Cfg.GetDuration("cron.sweep.timeout"))
	defer cancel()

	traceIdAttr := common.ExtractTraceIDFromCtx(ctx)

	cmd, err := in.Querier.ExpireStalePaymentIntents(ctx, store.ExpireStalePaymentIntentsParams{
		Now:   pgtype.Timestamptz{Time: in.TimeNow(), Valid: true},
		Limit: in.Cfg.GetInt32("cron.sweep.batch_size"),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to expire stale payment intents", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		return
	}

	if cmd.RowsAffected() > 0 {
		slog.InfoContext(ctx, "expired stale payment intents", traceIdAttr, slog.Int64("count", cmd.RowsAffected()))
	}
}
