package devserver

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

const relayChannel = "chat-rooms"

// RoomMessage is an encoded frame addressed to every client in Room.
type RoomMessage struct {
	Room string `json:"room"`
	Data []byte `json:"data"`
}

// Relay fans room frames out across hub instances. Every published message,
// including this instance's own, comes back through Subscribe.
type Relay interface {
	Publish(ctx context.Context, msg RoomMessage) error
	Subscribe(ctx context.Context) <-chan RoomMessage
}

type RedisRelay struct {
	client *redis.Client
	logger *log.Logger
}

func NewRedisRelay(client *redis.Client, logger *log.Logger) *RedisRelay {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisRelay{client: client, logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, msg RoomMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, relayChannel, data).Err()
}

// Subscribe listens until ctx ends.
func (r *RedisRelay) Subscribe(ctx context.Context) <-chan RoomMessage {
	pubsub := r.client.Subscribe(ctx, relayChannel)
	out := make(chan RoomMessage)

	go func() {
		<-ctx.Done()
		pubsub.Close()
	}()

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var rm RoomMessage
			if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
				r.logger.Printf("❌ Bad relay message: %v", err)
				continue
			}
			select {
			case out <- rm:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
