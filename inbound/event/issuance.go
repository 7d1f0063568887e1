package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"ticketbox/common"
	"ticketbox/common/constant"
	"ticketbox/common/contract"
	"ticketbox/common/credential"
	"ticketbox/common/errs"
	"ticketbox/common/metrics"
	"ticketbox/common/otel"
	"ticketbox/model"
	"ticketbox/outbound/store"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// maxIssueAttempts bounds whole-transaction retries on a ticket number
// collision. With a 32^12 number space, a single retry firing at all is
// already noteworthy.
const maxIssueAttempts = 3

const ticketNumberConstraint = "tickets_ticket_number_key"
const batchConstraint = "tickets_payment_reference_batch_seq_key"

type IssuanceEvent struct {
	Db        contract.DbConn
	Querier   *store.Queries
	Cache     *redis.Client
	Publisher jetstream.Publisher

	QRSecret []byte
	Timeout  time.Duration
	TimeNow  func() time.Time
}

// OutcomeHandler is the payment callback's landing place and the only path
// that mutates inventory. It is safe under at-least-once delivery: every
// branch is either a no-op on replay or funnels into the idempotent
// issuance transaction.
func (in IssuanceEvent) OutcomeHandler(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, in.Timeout)
	defer cancel()

	var req model.PaymentOutcomeEventMessage
	err := json.Unmarshal(msg, &req)
	if err != nil {
		slog.WarnContext(ctx, "payment outcome event unmarshal error", slog.Any(constant.LogFieldErr, err))
		return nil
	}

	ctx, span := otel.Tracer.Start(ctx, "IssuanceEvent.OutcomeHandler")
	defer span.End()

	traceIdAttr := common.ExtractTraceIDFromCtx(ctx)

	slog.InfoContext(ctx, "payment outcome event receive request", slog.Any(constant.LogFieldPayload, req), traceIdAttr)

	lockKey := fmt.Sprintf(constant.PaymentCallbackLock, req.PaymentReference)
	acquired, err := in.Cache.SetNX(ctx, lockKey, true, constant.PaymentCallbackLockDefaultTTL).Result()
	if err != nil {
		slog.ErrorContext(ctx, "failed to set callback lock", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		return err
	}

	if !acquired {
		slog.DebugContext(ctx, "callback already in flight", traceIdAttr)
		return fmt.Errorf("callback for %s already in flight", req.PaymentReference)
	}

	defer func() {
		if err := in.Cache.Del(context.WithoutCancel(ctx), lockKey).Err(); err != nil {
			slog.WarnContext(ctx, "failed to release callback lock", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		}
	}()

	intent, err := in.Querier.FindPaymentIntentByReference(ctx, req.PaymentReference)
	if errors.Is(err, pgx.ErrNoRows) {
		// Unknown reference: never fabricate tickets for it.
		slog.WarnContext(ctx, "payment intent not found", traceIdAttr, slog.String("payment_reference", req.PaymentReference))
		return nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to find payment intent", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		return err
	}

	switch req.Outcome {
	case constant.PaymentOutcomeFailed:
		return in.handleFailed(ctx, intent, traceIdAttr)
	case constant.PaymentOutcomeConfirmed:
		return in.handleConfirmed(ctx, intent, traceIdAttr)
	default:
		slog.WarnContext(ctx, "unknown payment outcome", traceIdAttr, slog.String("outcome", req.Outcome))
		return nil
	}
}

func (in IssuanceEvent) handleFailed(ctx context.Context, intent store.PaymentIntent, traceIdAttr slog.Attr) error {
	cmd, err := in.Querier.UpdatePaymentIntentStatus(ctx, store.UpdatePaymentIntentStatusParams{
		PaymentReference: intent.PaymentReference,
		Status:           constant.IntentStatusFailed,
		UpdatedAt:        pgtype.Timestamptz{Time: in.TimeNow(), Valid: true},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to update payment intent status", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		return err
	}

	if cmd.RowsAffected() == 0 {
		slog.DebugContext(ctx, "payment intent already terminal", traceIdAttr)
		return nil
	}

	slog.InfoContext(ctx, "payment intent marked failed", traceIdAttr)
	return nil
}

func (in IssuanceEvent) handleConfirmed(ctx context.Context, intent store.PaymentIntent, traceIdAttr slog.Attr) error {
	now := in.TimeNow()

	if intent.Status == constant.IntentStatusFailed {
		// The provider reported both outcomes for one reference. Money may
		// have been captured; flag for manual reconciliation.
		slog.ErrorContext(ctx, "confirmed callback for failed payment intent, flagging reconciliation",
			traceIdAttr, slog.String("payment_reference", intent.PaymentReference))
		return in.flagReconciliation(ctx, intent, traceIdAttr)
	}

	expired := intent.Status == constant.IntentStatusExpired ||
		(intent.Status == constant.IntentStatusPending && intent.ExpiresAt.Valid && now.After(intent.ExpiresAt.Time))
	if expired {
		// A very late callback must not issue against since-reallocated
		// inventory. The captured money still needs a human.
		slog.ErrorContext(ctx, "confirmation rejected for expired payment intent, flagging reconciliation",
			traceIdAttr, slog.String("payment_reference", intent.PaymentReference))

		if _, err := in.Querier.UpdatePaymentIntentStatus(ctx, store.UpdatePaymentIntentStatusParams{
			PaymentReference: intent.PaymentReference,
			Status:           constant.IntentStatusExpired,
			UpdatedAt:        pgtype.Timestamptz{Time: now, Valid: true},
		}); err != nil {
			slog.ErrorContext(ctx, "failed to expire payment intent", traceIdAttr, slog.Any(constant.LogFieldErr, err))
			return err
		}

		return in.flagReconciliation(ctx, intent, traceIdAttr)
	}

	tickets, replayed, err := in.issue(ctx, intent)
	if errors.Is(err, errs.ErrCapacityExceeded) {
		// Payment succeeded but inventory could not accommodate it: the
		// advisory check missed a race, or capacity was reduced mid-sale.
		slog.ErrorContext(ctx, "capacity exceeded for confirmed payment, flagging reconciliation",
			traceIdAttr,
			slog.String("payment_reference", intent.PaymentReference),
			slog.Int64("ticket_type_id", intent.TicketTypeID),
			slog.Int("quantity", int(intent.Quantity)),
		)
		metrics.CapacityAbortsTotal.Inc()

		if _, err := in.Querier.UpdatePaymentIntentStatus(ctx, store.UpdatePaymentIntentStatusParams{
			PaymentReference: intent.PaymentReference,
			Status:           constant.IntentStatusConfirmed,
			UpdatedAt:        pgtype.Timestamptz{Time: now, Valid: true},
		}); err != nil {
			slog.ErrorContext(ctx, "failed to confirm payment intent", traceIdAttr, slog.Any(constant.LogFieldErr, err))
			return err
		}

		return in.flagReconciliation(ctx, intent, traceIdAttr)
	}
	if err != nil {
		slog.ErrorContext(ctx, "issuance failed", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		return err
	}

	if _, err := in.Querier.UpdatePaymentIntentStatus(ctx, store.UpdatePaymentIntentStatusParams{
		PaymentReference: intent.PaymentReference,
		Status:           constant.IntentStatusConfirmed,
		UpdatedAt:        pgtype.Timestamptz{Time: now, Valid: true},
	}); err != nil {
		slog.ErrorContext(ctx, "failed to confirm payment intent", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		return err
	}

	if !replayed {
		metrics.TicketsIssuedTotal.Add(float64(len(tickets)))

		issuedKey := fmt.Sprintf(constant.TicketTypeIssuedKey, intent.TicketTypeID)
		if err := in.Cache.IncrBy(ctx, issuedKey, int64(len(tickets))).Err(); err != nil {
			// Advisory counter only; the cron resynchronizes it.
			slog.WarnContext(ctx, "failed to bump issued counter", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		}
	}

	ticketType, err := in.Querier.FindTicketTypeByID(ctx, intent.TicketTypeID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to find ticket type", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		return err
	}

	credentials := make([]model.TicketCredential, 0, len(tickets))
	for _, t := range tickets {
		credentials = append(credentials, model.TicketCredential{
			TicketNumber: t.TicketNumber,
			QRPayload:    credential.QRPayload(t.TicketNumber, in.QRSecret),
		})
	}

	err = common.PublishMessage(ctx, in.Publisher, constant.SubjectSendCredential, model.SendCredentialEventMessage{
		PaymentReference: intent.PaymentReference,
		TicketTypeName:   ticketType.Name,
		Name:             intent.BuyerName,
		Email:            intent.BuyerEmail,
		AmountCents:      intent.AmountCents,
		Currency:         intent.Currency,
		Tickets:          credentials,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to publish credential message", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		return err
	}

	slog.InfoContext(ctx, "issuance success", traceIdAttr,
		slog.String("payment_reference", intent.PaymentReference),
		slog.Int("tickets", len(tickets)),
		slog.Bool("replayed", replayed),
	)

	return nil
}

func (in IssuanceEvent) flagReconciliation(ctx context.Context, intent store.PaymentIntent, traceIdAttr slog.Attr) error {
	err := in.Querier.MarkPaymentIntentReconciliation(ctx, intent.PaymentReference, pgtype.Timestamptz{Time: in.TimeNow(), Valid: true})
	if err != nil {
		slog.ErrorContext(ctx, "failed to flag reconciliation", traceIdAttr, slog.Any(constant.LogFieldErr, err))
		return err
	}
	return nil
}

// issue converts a confirmed payment into ticket rows exactly once. The
// replayed result means the batch already existed and the prior tickets
// are returned unchanged.
//
// A collision on the ticket number constraint aborts the transaction, so
// the retry re-runs the whole locked section with fresh numbers rather
// than continuing inside an aborted transaction.
func (in IssuanceEvent) issue(ctx context.Context, intent store.PaymentIntent) ([]store.Ticket, bool, error) {
	existing, err := in.Querier.FindTicketsByPaymentReference(ctx, intent.PaymentReference)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return existing, true, nil
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		tickets, replayed, err := in.issueOnce(ctx, intent)
		if store.IsUniqueViolation(err, ticketNumberConstraint) {
			slog.WarnContext(ctx, "ticket number collision, retrying issuance", slog.Int("attempt", attempt))
			continue
		}
		if store.IsUniqueViolation(err, batchConstraint) {
			// Another worker issued this reference between our pre-check
			// and insert. The constraint is the final arbiter.
			existing, err := in.Querier.FindTicketsByPaymentReference(ctx, intent.PaymentReference)
			if err != nil {
				return nil, false, err
			}
			return existing, true, nil
		}
		return tickets, replayed, err
	}

	return nil, false, fmt.Errorf("ticket number collision retries exhausted for %s", intent.PaymentReference)
}

func (in IssuanceEvent) issueOnce(ctx context.Context, intent store.PaymentIntent) ([]store.Ticket, bool, error) {
	timer := prometheus.NewTimer(metrics.IssuanceTxDuration)
	defer timer.ObserveDuration()

	tx, err := in.Db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}

	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.ErrorContext(ctx, "failed to rollback transaction", slog.Any(constant.LogFieldErr, err))
		}
	}()

	withTx := in.Querier.WithTx(tx)

	// The row lock serializes issuance per ticket type; the capacity check
	// and the inserts below happen inside the same locked transaction.
	lock, err := withTx.LockTicketTypeForIssuance(ctx, intent.TicketTypeID)
	if err != nil {
		return nil, false, err
	}

	// Re-check the batch under the lock: a concurrent worker for the same
	// reference necessarily contends on the same ticket type row.
	existing, err := withTx.FindTicketsByPaymentReference(ctx, intent.PaymentReference)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return existing, true, nil
	}

	if lock.IssuedCount+int64(intent.Quantity) > int64(lock.Capacity) {
		return nil, false, errs.ErrCapacityExceeded
	}

	issuedAt := in.TimeNow()
	tickets := make([]store.Ticket, 0, intent.Quantity)

	for seq := int32(1); seq <= intent.Quantity; seq++ {
		number, err := credential.NewTicketNumber()
		if err != nil {
			return nil, false, err
		}

		params := store.InsertTicketParams{
			TicketTypeID:     intent.TicketTypeID,
			PaymentReference: intent.PaymentReference,
			BatchSeq:         seq,
			TicketNumber:     number,
			BuyerName:        intent.BuyerName,
			BuyerEmail:       intent.BuyerEmail,
			BuyerPhone:       intent.BuyerPhone,
			IssuedAt:         pgtype.Timestamptz{Time: issuedAt, Valid: true},
		}

		id, err := withTx.InsertTicket(ctx, params)
		if err != nil {
			return nil, false, err
		}

		tickets = append(tickets, store.Ticket{
			ID:               id,
			TicketTypeID:     intent.TicketTypeID,
			PaymentReference: intent.PaymentReference,
			BatchSeq:         seq,
			TicketNumber:     number,
			BuyerName:        intent.BuyerName,
			BuyerEmail:       intent.BuyerEmail,
			BuyerPhone:       intent.BuyerPhone,
			Status:           constant.TicketStatusIssued,
			IssuedAt:         pgtype.Timestamptz{Time: issuedAt, Valid: true},
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	return tickets, false, nil
}
