package redis

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Feed implements app.ChangeFeed over Redis pub/sub so every service instance
// sees every room's change signals. Payloads carry no data; subscribers
// re-fetch full state on any signal.
type Feed struct {
	client *redis.Client
}

func NewFeed(client *redis.Client) *Feed {
	return &Feed{client: client}
}

func (f *Feed) Publish(ctx context.Context, roomID string) error {
	return f.client.Publish(ctx, f.channel(roomID), "1").Err()
}

func (f *Feed) Subscribe(ctx context.Context, roomID string) (<-chan struct{}, func(), error) {
	sub := f.client.Subscribe(ctx, f.channel(roomID))
	// Confirm the subscription before handing out the channel, so a publish
	// right after Subscribe returns is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	signals := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(signals)
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case signals <- struct{}{}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return signals, cancel, nil
}

func (f *Feed) channel(roomID string) string {
	return "battle:room:" + roomID + ":changed"
}
