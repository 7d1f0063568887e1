package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"ticketbox/common/constant"
	"ticketbox/common/metrics"
	"ticketbox/model"
	emailOutbound "ticketbox/outbound/email"
	"ticketbox/outbound/store"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/message"
)

type NotificationEvent struct {
	Email           emailOutbound.Sender
	Querier         *store.Queries
	AmountFormatter *message.Printer

	Timeout time.Duration

	// MaxDeliver mirrors the consumer's redelivery bound; on the final
	// delivery a failed send marks the batch instead of retrying forever.
	MaxDeliver uint64
}

// SendCredentialHandler delivers the issued credentials. A failure here
// never touches issuance: the tickets already exist and are valid. The
// delivered argument is the consumer's delivery count for this message.
func (in NotificationEvent) SendCredentialHandler(ctx context.Context, msg []byte, delivered uint64) error {
	ctx, cancel := context.WithTimeout(ctx, in.Timeout)
	defer cancel()

	var req model.SendCredentialEventMessage
	err := json.Unmarshal(msg, &req)
	if err != nil {
		slog.WarnContext(ctx, "send credential event unmarshal error", slog.Any(constant.LogFieldErr, err))
		return nil
	}

	traceIdAttr := slog.String(constant.LogFieldTraceId, ulid.Make().String())
	reqAttr := slog.Any(constant.LogFieldPayload, string(msg))

	err = in.Email.Send([]string{req.Email}, "Your tickets are ready", in.buildCredentialEmailBody(req))
	if err != nil {
		slog.ErrorContext(ctx, "send credential email error", slog.Any(constant.LogFieldErr, err), reqAttr, traceIdAttr)

		if delivered >= in.MaxDeliver {
			slog.ErrorContext(ctx, "credential delivery retries exhausted, marking batch for follow-up",
				traceIdAttr, slog.String("payment_reference", req.PaymentReference))

			if err := in.Querier.MarkBatchDeliveryFailed(ctx, req.PaymentReference); err != nil {
				slog.ErrorContext(ctx, "failed to mark batch delivery failed", traceIdAttr, slog.Any(constant.LogFieldErr, err))
				return err
			}

			metrics.CredentialEmailsTotal.WithLabelValues("exhausted").Inc()
			return nil
		}

		metrics.CredentialEmailsTotal.WithLabelValues("error").Inc()
		return err
	}

	metrics.CredentialEmailsTotal.WithLabelValues("sent").Inc()
	slog.DebugContext(ctx, "credential email sent", traceIdAttr)

	return nil
}

func (in NotificationEvent) buildCredentialEmailBody(req model.SendCredentialEventMessage) string {
	var lines strings.Builder
	for _, t := range req.Tickets {
		lines.WriteString(fmt.Sprintf(constant.EmailCredentialTicketLineTemplate, t.TicketNumber, t.QRPayload))
	}

	amountFormatted := in.AmountFormatter.Sprintf("%s %d.%02d", req.Currency, req.AmountCents/100, req.AmountCents%100)

	return fmt.Sprintf(constant.EmailCredentialDeliveryTemplate,
		req.Name,
		req.PaymentReference,
		req.TicketTypeName,
		amountFormatted,
		lines.String(),
	)
}
