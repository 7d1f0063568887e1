package cmd

import (
	"context"
	"log"
	"log/slog"
	"ticketbox/common/constant"
	"ticketbox/inbound/event"
	emailOutbound "ticketbox/outbound/email"
	"ticketbox/outbound/store"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func runQueueNotificationCmd(ctx context.Context) {
	cfg := newCfg("env")

	db := newDb(cfg)
	defer db.Close()

	querier := store.New(db)

	natsConn := newNats(cfg)
	defer natsConn.Close()

	js := newJs(natsConn)
	createStreamWorkQueue(ctx, js)

	st, err := js.Stream(ctx, constant.QueueStreamName)
	if err != nil {
		log.Fatalln("failed to get stream", err)
	}

	sender := &emailOutbound.EmailOutbound{Cfg: cfg}
	sender.Init()

	maxDeliver := cfg.GetInt("queue.notification.max_deliver")

	notificationEvent := event.NotificationEvent{
		Email:           sender,
		Querier:         querier,
		AmountFormatter: message.NewPrinter(language.English),
		Timeout:         cfg.GetDuration("queue.notification.timeout"),
		MaxDeliver:      uint64(maxDeliver),
	}

	cons, err := st.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "consumer:notification",
		FilterSubject: constant.NotificationWildcard,
		MaxDeliver:    maxDeliver,
		AckWait:       cfg.GetDuration("queue.notification.ack_wait"),
	})
	if err != nil {
		log.Fatalln("failed to create consumer", err)
	}

	iter, err := cons.Messages()
	if err != nil {
		panic(err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				msg, err := iter.Next()
				if err != nil && err != jetstream.ErrMsgIteratorClosed {
					slog.ErrorContext(ctx, "Error fetching message", slog.Any(constant.LogFieldErr, err))
					continue
				}

				if msg == nil {
					continue
				}

				delivered := uint64(1)
				if meta, metaErr := msg.Metadata(); metaErr == nil {
					delivered = meta.NumDelivered
				}

				var eventErr error
				switch msg.Subject() {
				case constant.SubjectSendCredential:
					eventErr = notificationEvent.SendCredentialHandler(ctx, msg.Data(), delivered)
				}

				if eventErr != nil {
					msg.NakWithDelay(5 * time.Second)
					continue
				}

				if err := msg.Ack(); err != nil {
					slog.ErrorContext(ctx, "Error acknowledging message",
						slog.Any(constant.LogFieldErr, err),
						slog.Any(constant.LogFieldPayload, string(msg.Data())),
						slog.String("subject", msg.Subject()),
					)
					continue
				}
			}
		}
	}()

	slog.InfoContext(ctx, "notification queue consumer started")

	<-ctx.Done()

	iter.Stop()

	slog.InfoContext(ctx, "notification queue consumer stopped")
}
