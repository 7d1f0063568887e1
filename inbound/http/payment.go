package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"ticketbox/common"
	"ticketbox/common/constant"
	"ticketbox/common/errs"
	"ticketbox/common/metrics"
	"ticketbox/model"
	"ticketbox/outbound/payment"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/viper"
)

type PaymentHttp struct {
	Publisher jetstream.Publisher
	Validate  *validator.Validate

	webhookSecret []byte
}

func RegisterPaymentHttp(
	mux *http.ServeMux,
	cfg *viper.Viper,
	publisher jetstream.Publisher,
	validate *validator.Validate,
) *PaymentHttp {
	in := &PaymentHttp{
		Publisher: publisher,
		Validate:  validate,

		webhookSecret: []byte(cfg.GetString("payment.webhook_secret")),
	}

	mux.HandleFunc("POST /api/payments/callback", in.callback)

	return in
}

// callback is the only path that can lead to inventory mutation. The
// provider delivers it at least once; all it does here is authenticate the
// message and hand it to the work queue. Returning non-2xx makes the
// provider retry, which is the transient-failure retry mechanism.
func (in PaymentHttp) callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusBadRequest, Message: "Invalid request"})
		return
	}

	ctx := r.Context()

	if !payment.VerifySignature(body, r.Header.Get(payment.HeaderSignature), in.webhookSecret) {
		slog.ErrorContext(ctx, "payment callback signature verification failed",
			common.ExtractTraceIDFromCtx(ctx),
			slog.String("remote_addr", r.RemoteAddr),
		)
		metrics.CallbackSignatureFailuresTotal.Inc()
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusUnauthorized, Message: "Invalid signature"})
		return
	}

	var req model.PaymentCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorResponse(w, &errs.HttpError{Code: http.StatusBadRequest, Message: "Invalid request"})
		return
	}

	if err := in.Validate.Struct(req); err != nil {
		writeErrorResponse(w, err)
		return
	}

	err = common.PublishMessage(ctx, in.Publisher, constant.SubjectPaymentOutcome, model.PaymentOutcomeEventMessage{
		PaymentReference: req.PaymentReference,
		Outcome:          req.Outcome,
	})
	if err != nil {
		slog.ErrorContext(ctx, "error publish message when callback payment", slog.Any(constant.LogFieldErr, err))
		writeErrorResponse(w, err)
		return
	}

	metrics.PaymentCallbacksTotal.WithLabelValues(req.Outcome).Inc()

	w.WriteHeader(http.StatusOK)
}
