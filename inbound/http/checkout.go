package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"ticketbox/common"
	"ticketbox/common/constant"
	"ticketbox/common/errs"
	"ticketbox/common/metrics"
	"ticketbox/common/otel"
	"ticketbox/model"
	"ticketbox/outbound/payment"
	"ticketbox/outbound/store"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

type CheckoutHttp struct {
	Querier  *store.Queries
	Cache    *redis.Client
	Payment  payment.Provider
	Validate *validator.Validate

	TimeNow func() time.Time

	expiredAfter time.Duration
}

func RegisterCheckoutHttp(
	mux *http.ServeMux,
	cfg *viper.Viper,
	querier *store.Queries,
	cache *redis.Client,
	provider payment.Provider,
	validate *validator.Validate,
) *CheckoutHttp {
	in := &CheckoutHttp{
		Querier:  querier,
		Cache:    cache,
		Payment:  provider,
		Validate: validate,
		TimeNow:  time.Now,

		expiredAfter: cfg.GetDuration("checkout.expired_after"),
	}

	mux.HandleFunc("POST /api/checkout", in.create)

	return in
}

// create is beginCheckout: everything here is synchronous validation plus
// the provider call. Inventory is never mutated on this path; the advisory
// availability check only short-circuits obviously sold-out requests.
func (in CheckoutHttp) create(w http.ResponseWriter, r *http.Request) {
	var req model.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusBadRequest, Message: "Invalid request"})
		return
	}

	if err := in.Validate.Struct(req); err != nil {
		metrics.CheckoutsTotal.WithLabelValues("rejected").Inc()
		writeErrorResponse(w, err)
		return
	}

	ctx, span := otel.Tracer.Start(r.Context(), "CheckoutHttp.create")
	defer span.End()

	traceIdAttr := common.ExtractTraceIDFromCtx(ctx)
	slog.InfoContext(ctx, "checkout receive request", slog.Any(constant.LogFieldPayload, req), traceIdAttr)

	ticketType, err := in.Querier.FindTicketTypeByID(ctx, req.TicketTypeId)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.CheckoutsTotal.WithLabelValues("rejected").Inc()
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusNotFound, Message: "Ticket type not found"})
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to find ticket type", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	if err := in.validateAgainstTicketType(req, ticketType); err != nil {
		metrics.CheckoutsTotal.WithLabelValues("rejected").Inc()
		writeErrorResponse(w, err)
		return
	}

	available, err := in.advisoryAvailable(ctx, ticketType)
	if err != nil {
		slog.ErrorContext(ctx, "failed to compute advisory availability", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	if available < int64(req.Quantity) {
		slog.DebugContext(ctx, "ticket type sold out", traceIdAttr)
		metrics.CheckoutsTotal.WithLabelValues("sold_out").Inc()
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusConflict, Message: "Sold out"})
		return
	}

	amountCents := ticketType.PriceCents * int64(req.Quantity)
	reference, err := in.Payment.Initiate(ctx, payment.InitiateRequest{
		AmountCents: amountCents,
		Currency:    ticketType.Currency,
		Metadata: map[string]string{
			"ticket_type_id": strconv.FormatInt(ticketType.ID, 10),
			"quantity":       strconv.FormatInt(int64(req.Quantity), 10),
			"buyer_email":    req.Email,
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to initiate payment", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		metrics.CheckoutsTotal.WithLabelValues("provider_error").Inc()
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusBadGateway, Message: "Payment failed"})
		return
	}

	expiresAt := in.TimeNow().Add(in.expiredAfter)
	_, err = in.Querier.InsertPaymentIntent(ctx, store.InsertPaymentIntentParams{
		PaymentReference: reference,
		TicketTypeID:     ticketType.ID,
		Quantity:         req.Quantity,
		BuyerName:        req.Name,
		BuyerEmail:       req.Email,
		BuyerPhone:       req.Phone,
		AmountCents:      amountCents,
		Currency:         ticketType.Currency,
		ExpiresAt:        pgtype.Timestamptz{Time: expiresAt, Valid: true},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to insert payment intent", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	slog.InfoContext(ctx, "checkout success", traceIdAttr, slog.Any(constant.LogFieldResponse, reference))
	metrics.CheckoutsTotal.WithLabelValues("accepted").Inc()

	writeJSONResponse(w, http.StatusOK, model.CheckoutResponse{
		PaymentReference: reference,
		AmountCents:      amountCents,
		Currency:         ticketType.Currency,
		ExpiresAt:        expiresAt,
	})
}

func (in CheckoutHttp) validateAgainstTicketType(req model.CheckoutRequest, ticketType store.TicketType) error {
	if req.Quantity < ticketType.MinPerOrder || req.Quantity > ticketType.MaxPerOrder {
		return &errs.HttpError{
			Code:    http.StatusBadRequest,
			Message: "Validation failed",
			Data: map[string]any{
				"Quantity": fmt.Sprintf("must be between %d and %d", ticketType.MinPerOrder, ticketType.MaxPerOrder),
			},
		}
	}

	if !ticketType.OnSale(in.TimeNow()) {
		return &errs.HttpError{Code: http.StatusUnprocessableEntity, Message: "Ticket type is not on sale"}
	}

	return nil
}

// advisoryAvailable reads the cached issued count, falling back to the
// store when the cache is cold. This is explicitly not the correctness
// boundary; the issuance transaction re-checks under the row lock.
func (in CheckoutHttp) advisoryAvailable(ctx context.Context, ticketType store.TicketType) (int64, error) {
	issued, err := in.Cache.Get(ctx, fmt.Sprintf(constant.TicketTypeIssuedKey, ticketType.ID)).Int64()
	if errors.Is(err, redis.Nil) {
		issued, err = in.Querier.CountIssuedTickets(ctx, ticketType.ID)
	}
	if err != nil {
		return 0, err
	}

	return int64(ticketType.Capacity) - issued, nil
}
