package cron

import (
	"context"
	"fmt"
	"log/slog"
	"ticketbox/common"
	"ticketbox/common/constant"
	"ticketbox/common/vars"
	"ticketbox/model"
	"ticketbox/outbound/store"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

type CatalogCron struct {
	Cfg     *viper.Viper
	Cache   *redis.Client
	Querier *store.Queries
}

func (in CatalogCron) Start(ctx context.Context) {
	refreshTicker := time.NewTicker(in.Cfg.GetDuration("cron.catalog.refresh.interval"))
	defer refreshTicker.Stop()

	// Run initial refresh
	in.refresh(ctx)

	slog.Info("catalog cron started")

	for {
		select {
		case <-refreshTicker.C:
			in.refresh(ctx)
		case <-ctx.Done():
			slog.Info("catalog cron stopped")
			return
		}
	}
}

// refresh rereads the authoritative issued counts, repairs the advisory
// Redis counters and swaps the lock-free catalog snapshot.
func (in CatalogCron) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, in.Cfg.GetDuration("cron.catalog.refresh.timeout"))
	defer cancel()

	traceIdAttr := common.ExtractTraceIDFromCtx(ctx)

	slog.DebugContext(ctx, "refreshing catalog", traceIdAttr)

	ticketTypes, err := in.Querier.FindAllTicketTypes(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to find ticket types", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		return
	}

	counts, err := in.Querier.CountIssuedByTicketType(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count issued tickets", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		return
	}

	issuedById := make(map[int64]int64, len(counts))
	for _, c := range counts {
		issuedById[c.TicketTypeID] = c.IssuedCount
	}

	snapshot := make([]model.TicketTypeResponse, 0, len(ticketTypes))
	pipe := in.Cache.TxPipeline()
	for _, tt := range ticketTypes {
		issued := issuedById[tt.ID]
		pipe.Set(ctx, fmt.Sprintf(constant.TicketTypeIssuedKey, tt.ID), issued, 0)

		if !tt.IsActive {
			continue
		}

		available := tt.Capacity - int32(issued)
		if available < 0 {
			available = 0
		}

		item := model.TicketTypeResponse{
			Id:          tt.ID,
			EventId:     tt.EventID,
			Name:        tt.Name,
			PriceCents:  tt.PriceCents,
			Currency:    tt.Currency,
			Capacity:    tt.Capacity,
			Available:   available,
			MinPerOrder: tt.MinPerOrder,
			MaxPerOrder: tt.MaxPerOrder,
		}
		if tt.SalesStart.Valid {
			start := tt.SalesStart.Time
			item.SalesStart = &start
		}
		if tt.SalesEnd.Valid {
			end := tt.SalesEnd.Time
			item.SalesEnd = &end
		}

		snapshot = append(snapshot, item)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to refresh issued counters in cache", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		return
	}

	vars.SetCatalog(snapshot)

	slog.DebugContext(ctx, "catalog refreshed successfully", traceIdAttr)
}

func (in CatalogCron) InitIssuedCache(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ticketTypes, err := in.Querier.FindAllTicketTypes(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to find ticket types", slog.Any(constant.LogFieldErr, err))
		return fmt.Errorf("find ticket types: %w", err)
	}

	if len(ticketTypes) == 0 {
		slog.InfoContext(ctx, "no ticket types found to initialize")
		return nil
	}

	counts, err := in.Querier.CountIssuedByTicketType(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count issued tickets", slog.Any(constant.LogFieldErr, err))
		return fmt.Errorf("count issued tickets: %w", err)
	}

	issuedById := make(map[int64]int64, len(counts))
	for _, c := range counts {
		issuedById[c.TicketTypeID] = c.IssuedCount
	}

	pipe := in.Cache.TxPipeline()
	for _, tt := range ticketTypes {
		pipe.SetNX(ctx, fmt.Sprintf(constant.TicketTypeIssuedKey, tt.ID), issuedById[tt.ID], 0)
	}

	if _, err = pipe.Exec(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to initialize issued counters in cache", slog.Any(constant.LogFieldErr, err))
		return fmt.Errorf("execute pipeline: %w", err)
	}

	slog.InfoContext(ctx, "issued counters initialized successfully")
	return nil
}
