package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"ticketbox/common"
	"ticketbox/common/constant"
	"ticketbox/common/contract"
	"ticketbox/common/errs"
	"ticketbox/common/otel"
	"ticketbox/model"
	"ticketbox/outbound/store"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type AdminHttp struct {
	Db       contract.DbConn
	Querier  *store.Queries
	Validate *validator.Validate

	TimeNow func() time.Time
}

func RegisterAdminHttp(mux *http.ServeMux, db contract.DbConn, querier *store.Queries, validate *validator.Validate) *AdminHttp {
	in := &AdminHttp{
		Db:       db,
		Querier:  querier,
		Validate: validate,
		TimeNow:  time.Now,
	}

	mux.HandleFunc("POST /api/admin/ticket-types", in.createTicketType)
	mux.HandleFunc("PATCH /api/admin/ticket-types/{id}", in.updateTicketType)
	mux.HandleFunc("POST /api/admin/tickets/{number}/void", in.voidTicket)

	return in
}

func (in AdminHttp) createTicketType(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTicketTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusBadRequest, Message: "Invalid request"})
		return
	}

	if err := in.Validate.Struct(req); err != nil {
		writeErrorResponse(w, err)
		return
	}

	ctx, span := otel.Tracer.Start(r.Context(), "AdminHttp.createTicketType")
	defer span.End()

	traceIdAttr := common.ExtractTraceIDFromCtx(ctx)

	params := store.InsertTicketTypeParams{
		EventID:     req.EventId,
		Name:        req.Name,
		PriceCents:  req.PriceCents,
		Currency:    req.Currency,
		Capacity:    req.Capacity,
		MinPerOrder: req.MinPerOrder,
		MaxPerOrder: req.MaxPerOrder,
		IsActive:    req.IsActive,
	}
	if req.SalesStart != nil {
		params.SalesStart = pgtype.Timestamptz{Time: *req.SalesStart, Valid: true}
	}
	if req.SalesEnd != nil {
		params.SalesEnd = pgtype.Timestamptz{Time: *req.SalesEnd, Valid: true}
	}

	id, err := in.Querier.InsertTicketType(ctx, params)
	if err != nil {
		slog.ErrorContext(ctx, "failed to insert ticket type", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	slog.InfoContext(ctx, "ticket type created", traceIdAttr, slog.Any(constant.LogFieldResponse, id))

	writeJSONResponse(w, http.StatusCreated, map[string]int64{"id": id})
}

// updateTicketType guards the capacity invariant: capacity can never drop
// below the already-issued count, with or without force. The issued count
// is read under the same row lock the issuance engine takes, so a
// concurrent issuance cannot slip under a shrinking capacity.
func (in AdminHttp) updateTicketType(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusBadRequest, Message: "Invalid ticket type id"})
		return
	}

	var req model.UpdateTicketTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusBadRequest, Message: "Invalid request"})
		return
	}

	if err := in.Validate.Struct(req); err != nil {
		writeErrorResponse(w, err)
		return
	}

	ctx, span := otel.Tracer.Start(r.Context(), "AdminHttp.updateTicketType")
	defer span.End()

	traceIdAttr := common.ExtractTraceIDFromCtx(ctx)

	tx, err := in.Db.Begin(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to begin transaction", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.ErrorContext(ctx, "failed to rollback transaction", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		}
	}()

	withTx := in.Querier.WithTx(tx)

	lock, err := withTx.LockTicketTypeForIssuance(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusNotFound, Message: "Ticket type not found"})
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to lock ticket type", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	if req.Capacity != nil {
		if int64(*req.Capacity) < lock.IssuedCount {
			writeErrorResponse(w, &errs.HttpError{
				Code:    http.StatusConflict,
				Message: "Capacity below issued count",
				Data:    map[string]any{"issued": lock.IssuedCount},
			})
			return
		}

		if *req.Capacity < lock.Capacity && !req.Force {
			writeErrorResponse(w, &errs.HttpError{
				Code:    http.StatusConflict,
				Message: "Capacity reduction requires force",
			})
			return
		}
	}

	params := store.UpdateTicketTypeParams{
		ID:        id,
		UpdatedAt: pgtype.Timestamptz{Time: in.TimeNow(), Valid: true},
	}
	if req.Name != nil {
		params.Name = pgtype.Text{String: *req.Name, Valid: true}
	}
	if req.Capacity != nil {
		params.Capacity = pgtype.Int4{Int32: *req.Capacity, Valid: true}
	}
	if req.SalesStart != nil {
		params.SalesStart = pgtype.Timestamptz{Time: *req.SalesStart, Valid: true}
	}
	if req.SalesEnd != nil {
		params.SalesEnd = pgtype.Timestamptz{Time: *req.SalesEnd, Valid: true}
	}
	if req.IsActive != nil {
		params.IsActive = pgtype.Bool{Bool: *req.IsActive, Valid: true}
	}

	if _, err := withTx.UpdateTicketType(ctx, params); err != nil {
		slog.ErrorContext(ctx, "failed to update ticket type", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to commit transaction", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	slog.InfoContext(ctx, "ticket type updated", traceIdAttr, slog.Int64("ticket_type_id", id))

	writeJSONResponse(w, http.StatusOK, nil)
}

// voidTicket is idempotent: voiding an already-void ticket succeeds.
func (in AdminHttp) voidTicket(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")

	ctx, span := otel.Tracer.Start(r.Context(), "AdminHttp.voidTicket")
	defer span.End()

	traceIdAttr := common.ExtractTraceIDFromCtx(ctx)

	cmd, err := in.Querier.VoidTicketByNumber(ctx, number)
	if err != nil {
		slog.ErrorContext(ctx, "failed to void ticket", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	if cmd.RowsAffected() == 0 {
		_, err := in.Querier.FindTicketByNumber(ctx, number)
		if errors.Is(err, pgx.ErrNoRows) {
			writeErrorResponse(w, &errs.HttpError{Code: http.StatusNotFound, Message: "Ticket not found"})
			return
		}
		if err != nil {
			slog.ErrorContext(ctx, "failed to find ticket", traceIdAttr, slog.Any(constant.LogFieldErr, err))
			writeErrorResponse(w, err)
			return
		}
	}

	slog.InfoContext(ctx, "ticket voided", traceIdAttr, slog.String("ticket_number", number))

	writeJSONResponse(w, http.StatusOK, nil)
}
