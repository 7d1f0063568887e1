package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"runtime/pprof"
	inboundCron "ticketbox/inbound/cron"
	inboundHttp "ticketbox/inbound/http"
	"ticketbox/outbound/payment"
	"ticketbox/outbound/store"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func runHttpServerCmd(ctx context.Context) {
	cfg := newCfg("env")

	if cfg.GetString("env") == "dev" {
		cpu, err := os.Create("http-cpu.prof")
		if err != nil {
			log.Fatalf("could not create CPU profile: %v", err)
		}
		defer cpu.Close()

		err = pprof.StartCPUProfile(cpu)
		if err != nil {
			log.Fatalf("could not start CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()

		mem, err := os.Create("http-mem.prof")
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

	validate := validator.New()

	db := newDb(cfg)
	defer db.Close()

	cacheClient := newRedis(cfg)
	defer cacheClient.Close()

	natsConn := newNats(cfg)
	defer natsConn.Close()

	js := newJs(natsConn)
	createStreamWorkQueue(ctx, js)

	querier := store.New(db)
	provider := payment.NewClient(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		slog.DebugContext(r.Context(), "health check")
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	timeoutMiddleware := inboundHttp.TimeoutMiddleware(20 * time.Second)

	inboundHttp.RegisterTicketTypeHttp(mux, querier)
	inboundHttp.RegisterCheckoutHttp(mux, cfg, querier, cacheClient, provider, validate)
	inboundHttp.RegisterPaymentHttp(mux, cfg, js, validate)
	inboundHttp.RegisterScanHttp(mux, querier)
	inboundHttp.RegisterAdminHttp(mux, db, querier, validate)

	catalogCron := &inboundCron.CatalogCron{
		Cfg:     cfg,
		Cache:   cacheClient,
		Querier: querier,
	}

	err := catalogCron.InitIssuedCache(ctx)
	if err != nil {
		log.Fatalln("unable to init issued counters", err)
	}

	sweepCron := &inboundCron.IntentSweepCron{
		Cfg:     cfg,
		Querier: querier,
		TimeNow: time.Now,
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.GetInt("server.port")),
		Handler:           timeoutMiddleware(inboundHttp.CorsMiddleware(inboundHttp.MetricsMiddleware(mux))),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalln("unable to start server", err)
		}
	}()

	slog.Info("http server started")

	go func() {
		catalogCron.Start(ctx)
	}()

	go func() {
		sweepCron.Start(ctx)
	}()

	<-ctx.Done()

	ctxShutDown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutDown); err != nil {
		log.Fatalln("unable to shutdown server", err)
	}

	slog.Info("http server stopped")
}
