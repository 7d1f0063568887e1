package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"runtime/pprof"
	"ticketbox/common/constant"
	"ticketbox/inbound/event"
	"ticketbox/outbound/store"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

func runQueueIssuanceCmd(ctx context.Context) {
	cfg := newCfg("env")

	if cfg.GetString("env") == "dev" {
		cpu, err := os.Create("issuance-cpu.prof")
		if err != nil {
			log.Fatalf("could not create CPU profile: %v", err)
		}
		defer cpu.Close()

		err = pprof.StartCPUProfile(cpu)
		if err != nil {
			log.Fatalf("could not start CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()

		mem, err := os.Create("issuance-mem.prof")
		if err != nil {
			log.Fatalf("could not create memory profile: %v", err)
		}
		defer mem.Close()

		err = pprof.WriteHeapProfile(mem)
		if err != nil {
			log.Fatalf("could not write memory profile: %v", err)
		}
	}

	shutdownTracer := newTracer(ctx, cfg)
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Warn("unable to shutdown tracer", slog.Any("error", err))
		}
	}()

	db := newDb(cfg)
	defer db.Close()

	querier := store.New(db)

	cacheClient := newRedis(cfg)
	defer cacheClient.Close()

	natsConn := newNats(cfg)
	defer natsConn.Close()

	js := newJs(natsConn)
	createStreamWorkQueue(ctx, js)

	st, err := js.Stream(ctx, constant.QueueStreamName)
	if err != nil {
		log.Fatalln("failed to get stream", err)
	}

	issuanceEvent := event.IssuanceEvent{
		Db:        db,
		Querier:   querier,
		Cache:     cacheClient,
		Publisher: js,
		QRSecret:  []byte(cfg.GetString("qr.secret")),
		Timeout:   cfg.GetDuration("queue.issuance.timeout"),
		TimeNow:   time.Now,
	}

	cons, err := st.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "consumer:issuance",
		FilterSubject: constant.PaymentWildcard,
		MaxDeliver:    cfg.GetInt("queue.issuance.max_deliver"),
		AckWait:       cfg.GetDuration("queue.issuance.ack_wait"),
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

				var eventErr error
				switch msg.Subject() {
				case constant.SubjectPaymentOutcome:
					eventErr = issuanceEvent.OutcomeHandler(ctx, msg.Data())
				}

				if eventErr != nil {
					msg.NakWithDelay(1 * time.Second)
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

	slog.InfoContext(ctx, "issuance queue consumer started")

	<-ctx.Done()

	iter.Stop()

	slog.InfoContext(ctx, "issuance queue consumer stopped")
}
