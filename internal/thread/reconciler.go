package thread

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/logging"
	"github.com/UkralStul/fine-comments-service/internal/metrics"
	"github.com/UkralStul/fine-comments-service/internal/realtime"
)

// AuthorJoiner дописывает автора в комментарий из ленты. authors.Resolver
// ему удовлетворяет.
type AuthorJoiner interface {
	Attach(ctx context.Context, c *domain.Comment) error
}

// ReconcilerOption настраивает Reconciler.
type ReconcilerOption func(*Reconciler)

// WithDispatcher задаёт, как событие попадает к владельцу дерева.
// По умолчанию применяется прямо в горутине ленты.
func WithDispatcher(fn func(func()) bool) ReconcilerOption {
	return func(r *Reconciler) { r.dispatch = fn }
}

// WithEventHook вызывается владельцем после применения каждого события.
func WithEventHook(fn func(domain.Event)) ReconcilerOption {
	return func(r *Reconciler) { r.applied = fn }
}

// WithChannelError задаёт колбэк на обрыв подписки.
func WithChannelError(fn func(error)) ReconcilerOption {
	return func(r *Reconciler) { r.onChannelError = fn }
}

// WithReconcilerLogger задаёт логгер.
func WithReconcilerLogger(l *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.log = logging.OrNop(l) }
}

// WithReconcilerMetrics задаёт метрики.
func WithReconcilerMetrics(m *metrics.Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// Reconciler применяет события ленты к дереву Manager. Подписка одна на
// fine_id и принадлежит ему.
type Reconciler struct {
	manager *Manager
	feed    realtime.Feed
	authors AuthorJoiner

	sub    realtime.Subscription
	fineID string
	gen    uint64 // растёт при каждой смене подписки, старые события отбрасываются
	cancel context.CancelFunc

	dispatch       func(func()) bool
	applied        func(domain.Event)
	onChannelError func(error)
	log            *zap.Logger
	metrics        *metrics.Metrics
}

// NewReconciler связывает ленту и менеджер.
func NewReconciler(m *Manager, feed realtime.Feed, authors AuthorJoiner, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		manager:        m,
		feed:           feed,
		authors:        authors,
		dispatch:       func(f func()) bool { f(); return true },
		applied:        func(domain.Event) {},
		onChannelError: func(error) {},
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Watch подписывается на тред. Предыдущая подписка закрывается до открытия новой.
// Вызывается владельцем дерева.
func (r *Reconciler) Watch(ctx context.Context, fineID string) error {
	r.Close()

	subCtx, cancel := context.WithCancel(ctx)
	gen := r.gen
	sub, err := r.feed.Subscribe(subCtx, fineID,
		func(ev domain.Event) { r.receive(subCtx, gen, fineID, ev) },
		func(err error) { r.fail(gen, fineID, err) },
	)
	if err != nil {
		cancel()
		return fmt.Errorf("watch %s: %w", fineID, err)
	}

	r.sub = sub
	r.fineID = fineID
	r.cancel = cancel
	r.metrics.SubscriptionOpened()
	r.log.Debug("realtime subscription opened", zap.String("fine_id", fineID))
	return nil
}

// FineID - тред текущей подписки, пусто если её нет.
func (r *Reconciler) FineID() string {
	return r.fineID
}

// Close закрывает подписку ровно один раз.
func (r *Reconciler) Close() {
	r.gen++
	if r.sub == nil {
		return
	}
	if err := r.sub.Unsubscribe(); err != nil {
		r.log.Warn("realtime unsubscribe failed", zap.String("fine_id", r.fineID), zap.Error(err))
	}
	r.cancel()
	r.metrics.SubscriptionClosed()
	r.log.Debug("realtime subscription closed", zap.String("fine_id", r.fineID))
	r.sub = nil
	r.cancel = nil
	r.fineID = ""
}

// ApplyEvent применяет событие с уже подтянутым автором.
func (r *Reconciler) ApplyEvent(ev domain.Event) {
	if r.manager.closed {
		return
	}
	f := r.manager.arena()
	c := ev.Comment
	c.Sync = nil

	switch ev.Type {
	case domain.EventInsert:
		if c.IsDeleted && !f.HasReplies(c.ID) {
			return
		}
		f.Put(c)
	case domain.EventUpdate:
		existing, ok := f.Get(c.ID)
		if !ok {
			r.log.Debug("update for unknown comment ignored", zap.String("comment_id", c.ID))
			return
		}
		if c.IsDeleted {
			r.applyDelete(c)
			return
		}
		// Ответы живут в индексе арены и не трогаются. Локальная пометка остаётся:
		// подтверждение или откат придут позже.
		c.Sync = existing.Sync
		f.Put(c)
	case domain.EventDelete:
		r.applyDelete(c)
	default:
		r.log.Warn("unknown realtime event type", zap.String("type", string(ev.Type)))
	}
}

func (r *Reconciler) applyDelete(c domain.Comment) {
	f := r.manager.arena()
	existing, ok := f.Get(c.ID)
	if !ok {
		return
	}
	if !f.HasReplies(c.ID) {
		f.Remove(c.ID)
		return
	}
	c.ParentCommentID = existing.ParentCommentID
	c.Sync = existing.Sync
	if c.Author == nil {
		c.Author = existing.Author
	}
	tombstone(&c)
	f.Put(c)
}

// receive выполняется в горутине ленты: join автора, затем передача владельцу.
func (r *Reconciler) receive(ctx context.Context, gen uint64, fineID string, ev domain.Event) {
	eventType := string(ev.Type)
	if ev.Comment.FineID != "" && ev.Comment.FineID != fineID {
		r.metrics.RealtimeEvent(eventType, "dropped")
		return
	}
	if r.authors != nil {
		if err := r.authors.Attach(ctx, &ev.Comment); err != nil {
			if !errors.Is(err, context.Canceled) {
				r.log.Error("author join failed, dropping realtime event",
					zap.String("fine_id", fineID),
					zap.String("type", eventType),
					zap.String("comment_id", ev.Comment.ID),
					zap.Error(err))
			}
			r.metrics.RealtimeEvent(eventType, "dropped")
			return
		}
	}

	ok := r.dispatch(func() {
		if r.gen != gen {
			r.metrics.RealtimeEvent(eventType, "stale")
			return
		}
		r.ApplyEvent(ev)
		r.applied(ev)
		r.metrics.RealtimeEvent(eventType, "applied")
	})
	if !ok {
		r.metrics.RealtimeEvent(eventType, "dropped")
	}
}

func (r *Reconciler) fail(gen uint64, fineID string, err error) {
	if !errors.Is(err, realtime.ErrChannel) {
		err = fmt.Errorf("%w: %v", realtime.ErrChannel, err)
	}
	r.log.Warn("realtime channel error", zap.String("fine_id", fineID), zap.Error(err))
	r.dispatch(func() {
		if r.gen != gen {
			return
		}
		r.onChannelError(err)
	})
}
