package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/logging"
)

// RedisFeed - лента поверх Redis pub/sub, канал на каждый fine_id.
// Нужна, когда серверов несколько. Обрывы соединения go-redis переживает сам
// переподключением, события за время обрыва теряются.
type RedisFeed struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// NewRedisFeed подключается по URL и проверяет соединение.
func NewRedisFeed(redisURL string, log *zap.Logger) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisFeedWithClient(client, log), nil
}

// NewRedisFeedWithClient создаёт ленту из готового клиента.
func NewRedisFeedWithClient(client *redis.Client, log *zap.Logger) *RedisFeed {
	return &RedisFeed{
		client: client,
		prefix: "comments:",
		log:    logging.OrNop(log),
	}
}

func (f *RedisFeed) channel(fineID string) string {
	return f.prefix + fineID
}

// Publish отправляет событие в канал треда.
func (f *RedisFeed) Publish(ctx context.Context, fineID string, ev domain.Event) error {
	payload, err := json.Marshal(stripAuthor(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(fineID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe подписывается на канал треда и ждёт подтверждения от сервера.
func (f *RedisFeed) Subscribe(ctx context.Context, fineID string, onEvent func(domain.Event), onError func(error)) (Subscription, error) {
	if onEvent == nil {
		return nil, fmt.Errorf("subscribe %s: nil event handler", fineID)
	}
	if onError == nil {
		onError = func(error) {}
	}

	pubsub := f.client.Subscribe(ctx, f.channel(fineID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}

	s := &redisSub{pubsub: pubsub, done: make(chan struct{})}
	messages := pubsub.Channel()

	go func() {
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					if !s.closed() {
						onError(fmt.Errorf("%w: redis subscription closed", ErrChannel))
					}
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					f.log.Warn("malformed comment event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				onEvent(ev)
			case <-s.done:
				return
			case <-ctx.Done():
				_ = s.Unsubscribe()
				return
			}
		}
	}()

	return s, nil
}

// Close закрывает клиент.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}

type redisSub struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *redisSub) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.pubsub.Close()
	})
	return s.err
}

func (s *redisSub) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
