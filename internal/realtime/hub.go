package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/logging"
)

const defaultHubBuffer = 64

// Hub - лента в памяти процесса. Годится, когда сервер один.
type Hub struct {
	mu sync.RWMutex
	//          map[fineID] map[subscriberID] subscriber
	subs   map[string]map[string]*hubSub
	buffer int
	log    *zap.Logger
}

// NewHub создаёт пустой хаб. buffer <= 0 - размер очереди по умолчанию.
func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}
	return &Hub{
		subs:   make(map[string]map[string]*hubSub),
		buffer: buffer,
		log:    logging.OrNop(log),
	}
}

type hubSub struct {
	hub     *Hub
	fineID  string
	id      string
	events  chan domain.Event
	done    chan struct{}
	onError func(error)
	once    sync.Once
}

// Subscribe регистрирует подписчика. Подписка закрывается через Unsubscribe
// или по отмене ctx.
func (h *Hub) Subscribe(ctx context.Context, fineID string, onEvent func(domain.Event), onError func(error)) (Subscription, error) {
	if onEvent == nil {
		return nil, fmt.Errorf("subscribe %s: nil event handler", fineID)
	}
	if onError == nil {
		onError = func(error) {}
	}

	s := &hubSub{
		hub:     h,
		fineID:  fineID,
		id:      uuid.NewString(),
		events:  make(chan domain.Event, h.buffer),
		done:    make(chan struct{}),
		onError: onError,
	}

	h.mu.Lock()
	if h.subs[fineID] == nil {
		h.subs[fineID] = make(map[string]*hubSub)
	}
	h.subs[fineID][s.id] = s
	h.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-s.events:
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

// Publish раздаёт событие подписчикам треда. Подписчик с переполненной
// очередью отключается с ErrChannel: пропуск события рассинхронизировал бы дерево.
func (h *Hub) Publish(ctx context.Context, fineID string, ev domain.Event) error {
	ev = stripAuthor(ev)

	h.mu.RLock()
	subs := make([]*hubSub, 0, len(h.subs[fineID]))
	for _, s := range h.subs[fineID] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.events <- ev:
		case <-s.done:
		default:
			h.log.Warn("realtime subscriber lagging, dropping subscription",
				zap.String("fine_id", fineID), zap.String("subscriber", s.id))
			_ = s.Unsubscribe()
			s.onError(fmt.Errorf("%w: subscriber queue overflow", ErrChannel))
		}
	}
	return nil
}

// Subscribers возвращает число подписчиков треда.
func (h *Hub) Subscribers(fineID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[fineID])
}

func (s *hubSub) Unsubscribe() error {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if fineSubs, ok := h.subs[s.fineID]; ok {
			delete(fineSubs, s.id)
			if len(fineSubs) == 0 {
				delete(h.subs, s.fineID)
			}
		}
		h.mu.Unlock()
		close(s.done)
	})
	return nil
}
