package jetstream

import (
	"context"
	"ticketbox/common/constant"

	"github.com/nats-io/nats.go/jetstream"
)

func CreateQueueStream(ctx context.Context, js jetstream.JetStream) jetstream.Stream {
	cfg := jetstream.StreamConfig{
		Name:      constant.QueueStreamName,
		Retention: jetstream.WorkQueuePolicy,
		Subjects:  []string{constant.AllWildcard},
		MaxBytes:  -1,
	}

	st, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		panic(err)
	}

	return st
}
