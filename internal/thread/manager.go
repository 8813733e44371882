// Package thread держит дерево комментариев одного треда: оптимистичные
// мутации, события ленты и единственного владельца, который их сериализует.
package thread

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/logging"
	"github.com/UkralStul/fine-comments-service/internal/metrics"
	"github.com/UkralStul/fine-comments-service/internal/tree"
)

// ErrCommentNotFound - узла с таким id в дереве нет.
var ErrCommentNotFound = errors.New("comment not found in thread")

// DefaultGrace - сколько отклонённая мутация остаётся видимой.
const DefaultGrace = 5 * time.Second

// NewComment - данные для addOptimistic.
type NewComment struct {
	FineID          string
	Content         string
	ParentCommentID *string
}

// Patch - изменяемые поля для updateOptimistic.
type Patch struct {
	Content *string
}

// timer - то, что возвращает time.AfterFunc. В тестах подменяется.
type timer interface {
	Stop() bool
}

type pendingMutation struct {
	kind     domain.MutationKind
	targetID string
	snapshot *domain.Comment // состояние до мутации, для update и delete
	removed  bool            // delete убрал узел целиком
}

// ManagerOption настраивает Manager.
type ManagerOption func(*Manager)

// WithGrace задаёт окно показа ошибки перед откатом.
func WithGrace(d time.Duration) ManagerOption {
	return func(m *Manager) { m.grace = d }
}

// WithOnError задаёт колбэк reject.
func WithOnError(fn func(err error, optimisticID string)) ManagerOption {
	return func(m *Manager) { m.onError = fn }
}

// WithScheduler задаёт, как откат по таймеру попадает к владельцу дерева.
// Без него сработавший откат ждёт в очереди и выполняется при следующем
// вызове любого метода Manager.
func WithScheduler(fn func(func())) ManagerOption {
	return func(m *Manager) { m.schedule = fn }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithManagerLogger задаёт логгер.
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = logging.OrNop(l) }
}

// WithManagerMetrics задаёт метрики.
func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// Manager - дерево треда плюс таблица ожидающих мутаций. Не потокобезопасен:
// все вызовы делает один владелец (View). Таймеры отката владельца не
// обходят, см. NewManager.
type Manager struct {
	forest  *tree.Forest
	pending map[string]*pendingMutation
	timers  map[string]timer
	closed  bool

	grace     time.Duration
	onError   func(err error, optimisticID string)
	schedule  func(func())
	afterFunc func(d time.Duration, f func()) timer
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.Metrics

	dueMu sync.Mutex
	due   []func() // откаты, сработавшие без планировщика
}

// NewManager создаёт пустой менеджер. Таймеры отката срабатывают в своих
// горутинах и к дереву сами не прикасаются: откат доходит до него через
// WithScheduler или через очередь, которую разбирает следующий вызов.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		forest:  tree.NewForest(nil),
		pending: make(map[string]*pendingMutation),
		timers:  make(map[string]timer),
		grace:   DefaultGrace,
		onError: func(error, string) {},
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		now: time.Now,
		log: zap.NewNop(),
	}
	m.schedule = m.postpone
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddOptimistic вставляет локальный комментарий с id = tempID.
func (m *Manager) AddOptimistic(in NewComment, tempID string, author domain.Author) domain.Comment {
	m.drain()
	now := m.now()
	c := domain.Comment{
		ID:              tempID,
		FineID:          in.FineID,
		AuthorID:        author.ID,
		ParentCommentID: in.ParentCommentID,
		Content:         in.Content,
		CreatedAt:       now,
		UpdatedAt:       now,
		Author:          &author,
		Sync:            domain.Pending{Kind: domain.MutationInsert, TargetID: tempID, OptimisticID: tempID},
	}
	if m.closed {
		return c
	}
	m.forest.Put(c)
	m.pending[tempID] = &pendingMutation{kind: domain.MutationInsert, targetID: tempID}
	return c
}

// UpdateOptimistic применяет patch к узлу и помечает его ожидающим.
func (m *Manager) UpdateOptimistic(commentID string, patch Patch, tempID string) error {
	m.drain()
	if m.closed {
		return nil
	}
	node, ok := m.forest.Get(commentID)
	if !ok {
		return fmt.Errorf("update %s: %w", commentID, ErrCommentNotFound)
	}

	snap := m.clone(node)
	if patch.Content != nil {
		node.Content = *patch.Content
	}
	node.UpdatedAt = m.now()
	node.Sync = domain.Pending{Kind: domain.MutationUpdate, TargetID: commentID, OptimisticID: tempID}
	m.pending[tempID] = &pendingMutation{kind: domain.MutationUpdate, targetID: commentID, snapshot: snap}
	return nil
}

// DeleteOptimistic: узел с ответами становится плейсхолдером, без ответов - исчезает.
func (m *Manager) DeleteOptimistic(commentID, tempID string) error {
	m.drain()
	if m.closed {
		return nil
	}
	node, ok := m.forest.Get(commentID)
	if !ok {
		return fmt.Errorf("delete %s: %w", commentID, ErrCommentNotFound)
	}

	p := &pendingMutation{kind: domain.MutationDelete, targetID: commentID, snapshot: m.clone(node)}
	if m.forest.HasReplies(commentID) {
		tombstone(node)
		node.UpdatedAt = m.now()
		node.Sync = domain.Pending{Kind: domain.MutationDelete, TargetID: commentID, OptimisticID: tempID}
	} else {
		m.forest.Remove(commentID)
		p.removed = true
	}
	m.pending[tempID] = p
	return nil
}

// Confirm снимает оптимистичные пометки. actual, если есть, заменяет узел
// целиком (для вставки - вместе с заменой tempID на серверный id).
// После Close и для неизвестного optimisticID ничего не делает.
func (m *Manager) Confirm(optimisticID string, actual *domain.Comment) bool {
	m.drain()
	if m.closed {
		return false
	}
	p, ok := m.pending[optimisticID]
	if !ok {
		return false
	}
	m.forget(optimisticID)

	switch {
	case p.kind == domain.MutationInsert && actual != nil:
		m.replaceTentative(p.targetID, *actual)
	case p.kind == domain.MutationDelete && p.removed:
		// Узла уже нет.
	case actual != nil:
		c := *actual
		c.Sync = nil
		if c.IsDeleted {
			if !m.forest.HasReplies(c.ID) {
				m.forest.Remove(c.ID)
				break
			}
			tombstone(&c)
		}
		m.forest.Put(c)
	default:
		if node, ok := m.forest.Get(p.targetID); ok && node.OptimisticID() == optimisticID {
			node.Sync = nil
		}
	}

	m.metrics.Optimistic(p.kind.String(), "confirmed")
	return true
}

// Reject показывает ошибку на узле, зовёт onError и по истечении окна
// откатывает мутацию.
func (m *Manager) Reject(optimisticID, message string) bool {
	m.drain()
	if m.closed {
		return false
	}
	p, ok := m.pending[optimisticID]
	if !ok {
		return false
	}

	rejected := domain.Rejected{OptimisticID: optimisticID, Message: message}
	if p.removed {
		// Возвращаем удалённый узел, чтобы ошибку было где показать.
		c := m.clone(p.snapshot)
		c.Sync = rejected
		m.forest.Put(*c)
	} else if node, ok := m.forest.Get(p.targetID); ok {
		node.Sync = rejected
	}

	m.metrics.Optimistic(p.kind.String(), "rejected")
	m.log.Debug("optimistic mutation rejected",
		zap.String("optimistic_id", optimisticID),
		zap.String("kind", p.kind.String()),
		zap.String("error", message))
	m.onError(errors.New(message), optimisticID)

	if m.grace <= 0 {
		m.rollback(optimisticID)
		return true
	}
	if t, ok := m.timers[optimisticID]; ok {
		t.Stop()
	}
	m.timers[optimisticID] = m.afterFunc(m.grace, func() {
		m.schedule(func() { m.rollback(optimisticID) })
	})
	return true
}

// SetComments заменяет дерево целиком, выбрасывая все локальные пометки.
func (m *Manager) SetComments(comments []domain.Comment) {
	m.drain()
	if m.closed {
		return
	}
	m.stopTimers()
	m.pending = make(map[string]*pendingMutation)
	clean := make([]domain.Comment, len(comments))
	for i, c := range comments {
		c.Sync = nil
		clean[i] = c
	}
	m.forest.Reset(clean)
}

// ClearOptimisticUpdates убирает неподтверждённые вставки и снимает пометки
// с остальных узлов.
func (m *Manager) ClearOptimisticUpdates() {
	m.drain()
	if m.closed {
		return
	}
	m.stopTimers()
	for id, p := range m.pending {
		delete(m.pending, id)
		if p.kind == domain.MutationInsert {
			m.forest.Remove(p.targetID)
		}
	}
	m.forest.Each(func(c *domain.Comment) bool {
		c.Sync = nil
		return true
	})
}

// Tree собирает текущее дерево.
func (m *Manager) Tree() []*domain.CommentNode {
	m.drain()
	return m.forest.Tree()
}

// Comment возвращает копию узла.
func (m *Manager) Comment(id string) (domain.Comment, bool) {
	m.drain()
	c, ok := m.forest.Get(id)
	if !ok {
		return domain.Comment{}, false
	}
	return *m.clone(c), true
}

// Pending - число мутаций, ждущих ответа сервера или отката.
func (m *Manager) Pending() int {
	m.drain()
	return len(m.pending)
}

// Close останавливает таймеры. Дальнейшие мутации ничего не делают.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.stopTimers()
}

// arena отдаёт арену реконсилеру.
func (m *Manager) arena() *tree.Forest {
	m.drain()
	return m.forest
}

func (m *Manager) rollback(optimisticID string) {
	if m.closed {
		return
	}
	p, ok := m.pending[optimisticID]
	if !ok {
		return
	}
	m.forget(optimisticID)

	switch p.kind {
	case domain.MutationInsert:
		m.forest.Remove(p.targetID)
	default:
		m.forest.Put(*m.clone(p.snapshot))
	}
}

// replaceTentative меняет временный узел на серверный и переносит к нему ответы.
func (m *Manager) replaceTentative(tempID string, actual domain.Comment) {
	children := m.forest.Children(tempID)
	m.forest.Remove(tempID)

	actual.Sync = nil
	m.forest.Put(actual)

	for _, childID := range children {
		child, ok := m.forest.Get(childID)
		if !ok {
			continue
		}
		moved := *child
		parent := actual.ID
		moved.ParentCommentID = &parent
		m.forest.Put(moved)
	}
	for _, p := range m.pending {
		if p.snapshot != nil && p.snapshot.ParentID() == tempID {
			parent := actual.ID
			p.snapshot.ParentCommentID = &parent
		}
	}
}

func (m *Manager) forget(optimisticID string) {
	delete(m.pending, optimisticID)
	if t, ok := m.timers[optimisticID]; ok {
		t.Stop()
		delete(m.timers, optimisticID)
	}
}

func (m *Manager) postpone(f func()) {
	m.dueMu.Lock()
	m.due = append(m.due, f)
	m.dueMu.Unlock()
}

// drain выполняет отложенные откаты в горутине вызывающего.
func (m *Manager) drain() {
	m.dueMu.Lock()
	due := m.due
	m.due = nil
	m.dueMu.Unlock()
	for _, f := range due {
		f()
	}
}

func (m *Manager) stopTimers() {
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// deepCopy копирует time.Time целиком: поля у него неэкспортируемые.
var deepCopy = copier.Option{
	DeepCopy: true,
	Converters: []copier.TypeConverter{{
		SrcType: time.Time{},
		DstType: time.Time{},
		Fn:      func(src interface{}) (interface{}, error) { return src, nil },
	}},
}

// clone делает глубокую копию комментария. Sync копируется отдельно:
// его значения неизменяемы.
func (m *Manager) clone(c *domain.Comment) *domain.Comment {
	var out domain.Comment
	if err := copier.CopyWithOption(&out, c, deepCopy); err != nil {
		m.log.Warn("deep copy failed, falling back to shallow copy", zap.String("comment_id", c.ID), zap.Error(err))
		out = *c
	}
	out.Sync = c.Sync
	return &out
}

// tombstone очищает текст: у удалённого комментария его не показывают.
func tombstone(c *domain.Comment) {
	c.IsDeleted = true
	c.Content = ""
}
