package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	commonJetstream "ticketbox/common/jetstream"
	"ticketbox/common/otel"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

func newCfg(name string) *viper.Viper {
	config := viper.New()

	config.SetConfigName(name)
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	err := config.ReadInConfig()
	if err != nil {
		log.Fatalln(err)
	}

	err = os.Setenv("TZ", config.GetString("server.timezone"))
	if err != nil {
		log.Fatalln(err)
	}

	return config
}

func newDb(cfg *viper.Viper) *pgxpool.Pool {
	username := cfg.GetString("db.user")
	password := cfg.GetString("db.password")
	host := cfg.GetString("db.host")
	port := cfg.GetInt("db.port")
	database := cfg.GetString("db.name")
	maxConn := cfg.GetInt("db.pool.max")
	minConn := cfg.GetInt("db.pool.min")
	timezone := cfg.GetString("server.timezone")
	stmtTimeout := cfg.GetInt("db.statement_timeout_ms")

	// The statement timeout bounds the issuance lock window: a wedged
	// transaction aborts with a retryable error instead of hanging.
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?timezone=%s&options=-c%%20statement_timeout%%3D%d",
		username, password, host, port, database, timezone, stmtTimeout)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		log.Fatalln(err)
	}

	config.MaxConns = int32(maxConn)
	config.MinConns = int32(minConn)
	config.ConnConfig.Tracer = &otel.PgxTracer{}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		log.Fatalln(err)
	}

	err = pool.Ping(context.Background())
	if err != nil {
		log.Fatalln(err)
	}

	return pool
}

func newRedis(cfg *viper.Viper) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.GetString("redis.addr"),
		Password: cfg.GetString("redis.password"),
		DB:       0,
	})

	err := rdb.Ping(context.Background()).Err()
	if err != nil {
		log.Fatalln(err)
	}

	return rdb
}

func newNats(viper *viper.Viper) *nats.Conn {
	conn, err := nats.Connect(viper.GetString("nats.addr"))
	if err != nil {
		log.Fatalln(err)
	}

	return conn
}

func newJs(conn *nats.Conn) jetstream.JetStream {
	js, err := jetstream.New(conn)
	if err != nil {
		log.Fatalln(err)
	}

	return js
}

func createStreamWorkQueue(ctx context.Context, js jetstream.JetStream) jetstream.Stream {
	return commonJetstream.CreateQueueStream(ctx, js)
}

func newTracer(ctx context.Context, cfg *viper.Viper) func(context.Context) error {
	if !cfg.GetBool("otel.enabled") {
		return func(context.Context) error { return nil }
	}

	shutdown, err := otel.InitTracer(ctx, cfg)
	if err != nil {
		log.Fatalln("unable to init tracer", err)
	}

	return shutdown
}
