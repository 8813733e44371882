package thread

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/UkralStul/fine-comments-service/internal/apperr"
	"github.com/UkralStul/fine-comments-service/internal/commentstore"
	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/logging"
	"github.com/UkralStul/fine-comments-service/internal/metrics"
	"github.com/UkralStul/fine-comments-service/internal/realtime"
	"github.com/UkralStul/fine-comments-service/internal/retry"
	"github.com/UkralStul/fine-comments-service/internal/tree"
	"github.com/UkralStul/fine-comments-service/internal/validation"
)

// ErrClosed - View уже закрыт.
var ErrClosed = errors.New("thread view closed")

const commandBuffer = 256

// Store - операции хранилища, нужные View. commentstore.Client и
// commentstore.Remote ему удовлетворяют.
type Store interface {
	FetchThread(ctx context.Context, fineID string) (commentstore.Thread, error)
	Create(ctx context.Context, in commentstore.CreateInput) (*domain.Comment, error)
	Update(ctx context.Context, id, content string) (*domain.Comment, error)
	SoftDelete(ctx context.Context, id string) (*domain.Comment, error)
}

// ViewOption настраивает View.
type ViewOption func(*viewConfig)

type viewConfig struct {
	grace          time.Duration
	onError        func(err error, optimisticID string)
	onChannelError func(error)
	onEvent        func(domain.Event)
	retry          *retry.Config
	log            *zap.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
}

// WithViewGrace задаёт окно показа отклонённой мутации.
func WithViewGrace(d time.Duration) ViewOption {
	return func(c *viewConfig) { c.grace = d }
}

// WithRejectHandler вызывается в горутине View при каждом reject.
func WithRejectHandler(fn func(err error, optimisticID string)) ViewOption {
	return func(c *viewConfig) { c.onError = fn }
}

// WithDisconnectHandler вызывается в горутине View при обрыве ленты.
func WithDisconnectHandler(fn func(error)) ViewOption {
	return func(c *viewConfig) { c.onChannelError = fn }
}

// WithEventHandler вызывается в горутине View после применения каждого
// события ленты. Handler не должен обращаться к View синхронно.
func WithEventHandler(fn func(domain.Event)) ViewOption {
	return func(c *viewConfig) { c.onEvent = fn }
}

// WithMutationRetry включает повторы вызовов хранилища для мутаций.
func WithMutationRetry(cfg retry.Config) ViewOption {
	return func(c *viewConfig) { c.retry = &cfg }
}

// WithViewLogger задаёт логгер.
func WithViewLogger(l *zap.Logger) ViewOption {
	return func(c *viewConfig) { c.log = logging.OrNop(l) }
}

// WithViewMetrics задаёт метрики.
func WithViewMetrics(m *metrics.Metrics) ViewOption {
	return func(c *viewConfig) { c.metrics = m }
}

// View - единственный владелец дерева одного треда. Все изменения дерева
// проходят через очередь команд и выполняются одной горутиной по порядку.
type View struct {
	fineID  string
	store   Store
	log     *zap.Logger
	retry   *retry.Config
	newID   func() string
	onEvent func(domain.Event)

	manager    *Manager
	reconciler *Reconciler

	cmds      chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Поля ниже трогает только горутина View.
	connected bool
	lastErr   error
	recording bool
	replay    []domain.Event
}

// NewView запускает горутину View. feed и authors могут быть nil: тогда
// дерево живёт без ленты изменений.
func NewView(fineID string, store Store, feed realtime.Feed, authors AuthorJoiner, opts ...ViewOption) *View {
	cfg := viewConfig{grace: DefaultGrace, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	v := &View{
		fineID:  fineID,
		store:   store,
		log:     cfg.log.With(zap.String("fine_id", fineID)),
		retry:   cfg.retry,
		newID:   func() string { return domain.TentativePrefix + uuid.NewString() },
		onEvent: cfg.onEvent,
		cmds:    make(chan func(), commandBuffer),
		done:    make(chan struct{}),
	}

	onError := cfg.onError
	v.manager = NewManager(
		WithGrace(cfg.grace),
		WithClock(cfg.now),
		WithScheduler(func(f func()) { v.enqueue(f) }),
		WithOnError(func(err error, optimisticID string) {
			v.lastErr = err
			if onError != nil {
				onError(err, optimisticID)
			}
		}),
		WithManagerLogger(v.log),
		WithManagerMetrics(cfg.metrics),
	)

	if feed != nil {
		onChannelError := cfg.onChannelError
		v.reconciler = NewReconciler(v.manager, feed, authors,
			WithDispatcher(v.enqueue),
			WithEventHook(v.applied),
			WithChannelError(func(err error) {
				v.connected = false
				v.lastErr = err
				if onChannelError != nil {
					onChannelError(err)
				}
			}),
			WithReconcilerLogger(v.log),
			WithReconcilerMetrics(cfg.metrics),
		)
	}

	go v.run()
	return v
}

func (v *View) run() {
	for {
		select {
		case f := <-v.cmds:
			f()
		case <-v.done:
			return
		}
	}
}

// enqueue ставит команду в очередь. false - View закрыт.
func (v *View) enqueue(f func()) bool {
	select {
	case <-v.done:
		return false
	default:
	}
	select {
	case v.cmds <- f:
		return true
	case <-v.done:
		return false
	}
}

// do выполняет f в горутине View и ждёт завершения.
func (v *View) do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	if !v.enqueue(func() {
		defer close(finished)
		f()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-v.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open подписывается на ленту и загружает тред. Подписка открывается
// первой, чтобы не потерять изменения между чтением и подпиской.
func (v *View) Open(ctx context.Context) error {
	if v.reconciler != nil {
		var watchErr error
		if err := v.do(ctx, func() {
			watchErr = v.reconciler.Watch(context.WithoutCancel(ctx), v.fineID)
			v.connected = watchErr == nil
			if watchErr != nil {
				v.lastErr = watchErr
			}
		}); err != nil {
			return err
		}
		if watchErr != nil {
			// Без ленты View работает дальше, только без realtime.
			v.log.Warn("realtime unavailable, continuing without it", zap.Error(watchErr))
		}
	}
	return v.Load(ctx)
}

// Load перечитывает тред и заменяет дерево. События, пришедшие во время
// чтения, повторно применяются поверх результата.
func (v *View) Load(ctx context.Context) error {
	if err := v.do(ctx, func() {
		v.recording = true
		v.replay = v.replay[:0]
	}); err != nil {
		return err
	}

	thread, err := v.fetch(ctx)
	if err != nil {
		_ = v.do(context.WithoutCancel(ctx), func() {
			v.recording = false
			v.replay = nil
			v.lastErr = err
		})
		return err
	}

	flat := tree.Flatten(thread.Comments)
	return v.do(ctx, func() {
		v.manager.SetComments(flat)
		if v.reconciler != nil {
			for _, ev := range v.replay {
				v.reconciler.ApplyEvent(ev)
			}
		}
		v.recording = false
		v.replay = nil
	})
}

// Resync - повторная загрузка после рассинхронизации.
func (v *View) Resync(ctx context.Context) error {
	return v.Load(ctx)
}

// Add валидирует, вставляет комментарий оптимистично и отправляет его в
// хранилище. Ошибка хранилища откатывает вставку после окна показа.
func (v *View) Add(ctx context.Context, content string, parentID *string, author domain.Author) (*domain.Comment, error) {
	form := validation.FormData{Content: content, FineID: v.fineID, ParentCommentID: parentID}
	if err := validation.ValidateFormData(form).Err(); err != nil {
		return nil, apperr.Parse(err)
	}

	tempID := v.newID()
	var permErr error
	if err := v.do(ctx, func() {
		if parentID != nil {
			parent, ok := v.manager.Comment(*parentID)
			if ok && !validation.CanReply(&parent) {
				permErr = apperr.New(apperr.KindAuthorization, "reply_to_deleted", "cannot reply to a deleted comment")
				return
			}
		}
		v.manager.AddOptimistic(NewComment{FineID: v.fineID, Content: content, ParentCommentID: parentID}, tempID, author)
	}); err != nil {
		return nil, err
	}
	if permErr != nil {
		return nil, permErr
	}

	created, err := v.mutate(ctx, func(ctx context.Context) (*domain.Comment, error) {
		return v.store.Create(ctx, commentstore.CreateInput{
			Content:         content,
			FineID:          v.fineID,
			AuthorID:        author.ID,
			ParentCommentID: parentID,
		})
	})
	v.settle(tempID, created, err)
	return created, err
}

// Edit меняет текст своего комментария.
func (v *View) Edit(ctx context.Context, commentID, content, userID string) (*domain.Comment, error) {
	if err := validation.ValidateContent(content).Err(); err != nil {
		return nil, apperr.Parse(err)
	}

	tempID := v.newID()
	var opErr error
	if err := v.do(ctx, func() {
		current, ok := v.manager.Comment(commentID)
		if !ok {
			opErr = apperr.New(apperr.KindNotFound, "not_found", ErrCommentNotFound.Error())
			return
		}
		if !validation.CanEdit(&current, userID) {
			opErr = apperr.New(apperr.KindAuthorization, "not_author", "only the author can edit an active comment")
			return
		}
		opErr = v.manager.UpdateOptimistic(commentID, Patch{Content: &content}, tempID)
	}); err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}

	updated, err := v.mutate(ctx, func(ctx context.Context) (*domain.Comment, error) {
		return v.store.Update(ctx, commentID, content)
	})
	v.settle(tempID, updated, err)
	return updated, err
}

// Delete мягко удаляет свой комментарий.
func (v *View) Delete(ctx context.Context, commentID, userID string) error {
	tempID := v.newID()
	var opErr error
	if err := v.do(ctx, func() {
		current, ok := v.manager.Comment(commentID)
		if !ok {
			opErr = apperr.New(apperr.KindNotFound, "not_found", ErrCommentNotFound.Error())
			return
		}
		if !validation.CanDelete(&current, userID) {
			opErr = apperr.New(apperr.KindAuthorization, "not_author", "only the author can delete an active comment")
			return
		}
		opErr = v.manager.DeleteOptimistic(commentID, tempID)
	}); err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}

	_, err := v.mutate(ctx, func(ctx context.Context) (*domain.Comment, error) {
		return v.store.SoftDelete(ctx, commentID)
	})
	v.settle(tempID, nil, err)
	return err
}

// ClearOptimistic сбрасывает все неподтверждённые локальные изменения.
func (v *View) ClearOptimistic(ctx context.Context) error {
	return v.do(ctx, v.manager.ClearOptimisticUpdates)
}

// Snapshot возвращает собранное дерево.
func (v *View) Snapshot(ctx context.Context) ([]*domain.CommentNode, error) {
	var nodes []*domain.CommentNode
	err := v.do(ctx, func() { nodes = v.manager.Tree() })
	return nodes, err
}

// Status - состояние ленты и последняя ошибка.
type Status struct {
	FineID    string
	Connected bool
	Pending   int
	LastError error
}

// Status возвращает состояние View.
func (v *View) Status(ctx context.Context) (Status, error) {
	var st Status
	err := v.do(ctx, func() {
		st = Status{FineID: v.fineID, Connected: v.connected, Pending: v.manager.Pending(), LastError: v.lastErr}
	})
	return st, err
}

// Close закрывает подписку и таймеры. Поздние confirm/reject после него
// ничего не делают.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		finished := make(chan struct{})
		if v.enqueue(func() {
			defer close(finished)
			if v.reconciler != nil {
				v.reconciler.Close()
			}
			v.manager.Close()
		}) {
			<-finished
		}
		close(v.done)
	})
}

func (v *View) fetch(ctx context.Context) (commentstore.Thread, error) {
	if v.retry == nil {
		return v.store.FetchThread(ctx, v.fineID)
	}
	return retry.Do(ctx, *v.retry, func(ctx context.Context) (commentstore.Thread, error) {
		return v.store.FetchThread(ctx, v.fineID)
	})
}

func (v *View) mutate(ctx context.Context, fn func(ctx context.Context) (*domain.Comment, error)) (*domain.Comment, error) {
	if v.retry == nil {
		return fn(ctx)
	}
	return retry.Do(ctx, *v.retry, fn)
}

// settle доставляет исход вызова хранилища в очередь. После Close ничего не делает.
func (v *View) settle(tempID string, actual *domain.Comment, err error) {
	if err == nil {
		v.enqueue(func() { v.manager.Confirm(tempID, actual) })
		return
	}
	msg := apperr.Parse(err).UserMessage
	v.enqueue(func() { v.manager.Reject(tempID, msg) })
}

// applied запоминает событие, пока идёт Load, и сообщает о нём подписчику.
func (v *View) applied(ev domain.Event) {
	if v.recording {
		v.replay = append(v.replay, ev)
	}
	if v.onEvent != nil {
		v.onEvent(ev)
	}
}
