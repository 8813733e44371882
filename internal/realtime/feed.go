// Package realtime - лента изменений таблицы comments: подписка по fine_id
// и публикация событий после записи в хранилище.
package realtime

import (
	"context"
	"errors"

	"github.com/UkralStul/fine-comments-service/internal/domain"
)

// ErrChannel - подписка сломалась (CHANNEL_ERROR). Приходит через onError,
// после неё события по этой подписке больше не доставляются.
var ErrChannel = errors.New("realtime channel error")

// Subscription - открытая подписка. Unsubscribe идемпотентен.
type Subscription interface {
	Unsubscribe() error
}

// Feed доставляет события одного треда. onEvent вызывается последовательно,
// в порядке публикации. Колбэки не должны блокироваться надолго.
type Feed interface {
	Subscribe(ctx context.Context, fineID string, onEvent func(domain.Event), onError func(error)) (Subscription, error)
}

// Publisher рассылает событие подписчикам треда.
type Publisher interface {
	Publish(ctx context.Context, fineID string, ev domain.Event) error
}

// Bus - лента, в которую можно и писать, и читать.
type Bus interface {
	Feed
	Publisher
}

// stripAuthor оставляет в событии только внешние ключи, как в настоящей ленте.
// Текст удалённого комментария в ленту не попадает.
func stripAuthor(ev domain.Event) domain.Event {
	ev.Comment.Author = nil
	ev.Comment.Sync = nil
	ev.Comment.Redact()
	if ev.OldComment != nil {
		old := *ev.OldComment
		old.Author = nil
		old.Sync = nil
		ev.OldComment = &old
	}
	return ev
}
