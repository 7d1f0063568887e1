package http

import (
	"errors"
	"log/slog"
	"net/http"
	"ticketbox/common"
	"ticketbox/common/constant"
	"ticketbox/common/otel"
	"ticketbox/model"
	"ticketbox/outbound/store"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type ScanHttp struct {
	Querier *store.Queries

	TimeNow func() time.Time
}

func RegisterScanHttp(mux *http.ServeMux, querier *store.Queries) *ScanHttp {
	in := &ScanHttp{
		Querier: querier,
		TimeNow: time.Now,
	}

	mux.HandleFunc("GET /api/tickets/{number}", in.validate)
	mux.HandleFunc("POST /api/tickets/{number}/scan", in.markScanned)

	return in
}

// validate reports one of exactly three outcomes without changing state.
// Void tickets read as not_found: the credential is no longer honored.
func (in ScanHttp) validate(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")

	ctx, span := otel.Tracer.Start(r.Context(), "ScanHttp.validate")
	defer span.End()

	ticket, err := in.Querier.FindTicketByNumber(ctx, number)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSONResponse(w, http.StatusNotFound, model.ScanResponse{Status: constant.ScanResultNotFound})
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to find ticket", common.ExtractTraceIDFromCtx(ctx), slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, scanResponse(ticket))
}

// markScanned transitions issued → scanned exactly once. The conditional
// update is the whole mechanism: zero rows affected means the ticket was
// either already scanned, void, or never existed, and the follow-up read
// disambiguates without ever reverting state.
func (in ScanHttp) markScanned(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")

	ctx, span := otel.Tracer.Start(r.Context(), "ScanHttp.markScanned")
	defer span.End()

	traceIdAttr := common.ExtractTraceIDFromCtx(ctx)
	scannedAt := in.TimeNow()

	cmd, err := in.Querier.MarkTicketScanned(ctx, store.MarkTicketScannedParams{
		TicketNumber: number,
		ScannedAt:    pgtype.Timestamptz{Time: scannedAt, Valid: true},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to mark ticket scanned", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	if cmd.RowsAffected() > 0 {
		slog.InfoContext(ctx, "ticket scanned", traceIdAttr, slog.String("ticket_number", number))
		writeJSONResponse(w, http.StatusOK, model.ScanResponse{
			Status:       constant.ScanResultValid,
			TicketNumber: number,
			ScannedAt:    &scannedAt,
		})
		return
	}

	ticket, err := in.Querier.FindTicketByNumber(ctx, number)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSONResponse(w, http.StatusNotFound, model.ScanResponse{Status: constant.ScanResultNotFound})
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to find ticket", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	if ticket.Status == constant.TicketStatusScanned {
		writeJSONResponse(w, http.StatusOK, scanResponse(ticket))
		return
	}

	// void, or a racing administrative update
	writeJSONResponse(w, http.StatusNotFound, model.ScanResponse{Status: constant.ScanResultNotFound})
}

func scanResponse(ticket store.Ticket) model.ScanResponse {
	resp := model.ScanResponse{TicketNumber: ticket.TicketNumber}

	switch ticket.Status {
	case constant.TicketStatusIssued:
		resp.Status = constant.ScanResultValid
	case constant.TicketStatusScanned:
		resp.Status = constant.ScanResultAlreadyScanned
		if ticket.ScannedAt.Valid {
			scannedAt := ticket.ScannedAt.Time
			resp.ScannedAt = &scannedAt
		}
	default:
		resp.Status = constant.ScanResultNotFound
		resp.TicketNumber = ""
	}

	return resp
}
