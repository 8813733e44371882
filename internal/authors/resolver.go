// Package authors подтягивает профили авторов для комментариев, пришедших
// из ленты изменений без join.
package authors

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/thoas/go-funk"

	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/storage"
)

// Source - источник авторов. storage.Storage ему удовлетворяет.
type Source interface {
	GetAuthorsByIDs(ctx context.Context, ids []string) (map[string]*domain.Author, error)
}

// cacheItem - автор и момент, после которого запись протухает.
type cacheItem struct {
	author    domain.Author
	expiresAt time.Time
}

// Resolver склеивает одновременные запросы в один батч и держит LRU с TTL.
type Resolver struct {
	loader *dataloader.Loader
	cache  *lru.Cache[string, cacheItem]
	ttl    time.Duration
	now    func() time.Time
}

// New создаёт резолвер. size <= 0 или ttl <= 0 отключают кэш.
func New(src Source, size int, ttl time.Duration) (*Resolver, error) {
	r := &Resolver{ttl: ttl, now: time.Now}
	if size > 0 && ttl > 0 {
		c, err := lru.New[string, cacheItem](size)
		if err != nil {
			return nil, fmt.Errorf("author cache: %w", err)
		}
		r.cache = c
	}

	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := keys.Keys()
		found, err := src.GetAuthorsByIDs(ctx, ids)

		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			switch a, ok := found[id]; {
			case err != nil:
				results[i] = &dataloader.Result{Error: err}
			case !ok || a == nil:
				results[i] = &dataloader.Result{Error: fmt.Errorf("author %s: %w", id, storage.ErrNotFound)}
			default:
				results[i] = &dataloader.Result{Data: a}
			}
		}
		return results
	}

	// Собственный кэш лоадера бессрочный, поэтому кэширование только в LRU.
	r.loader = dataloader.NewBatchedLoader(batchFn,
		dataloader.WithWait(time.Millisecond),
		dataloader.WithCache(&dataloader.NoCache{}),
	)
	return r, nil
}

// Load возвращает копию автора.
func (r *Resolver) Load(ctx context.Context, id string) (*domain.Author, error) {
	if a, ok := r.cached(id); ok {
		return a, nil
	}
	v, err := r.loader.Load(ctx, dataloader.StringKey(id))()
	if err != nil {
		return nil, err
	}
	a := v.(*domain.Author)
	r.remember(a)
	cp := *a
	return &cp, nil
}

// LoadMany возвращает авторов по id. Отсутствующий автор - ошибка для всего вызова.
func (r *Resolver) LoadMany(ctx context.Context, ids []string) (map[string]*domain.Author, error) {
	ids = funk.UniqString(ids)
	out := make(map[string]*domain.Author, len(ids))

	var missing []string
	for _, id := range ids {
		if a, ok := r.cached(id); ok {
			out[id] = a
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	values, errs := r.loader.LoadMany(ctx, dataloader.NewKeysFromStrings(missing))()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	for i, v := range values {
		a := v.(*domain.Author)
		r.remember(a)
		cp := *a
		out[missing[i]] = &cp
	}
	return out, nil
}

// Attach проставляет Author в комментарий.
func (r *Resolver) Attach(ctx context.Context, c *domain.Comment) error {
	if c == nil {
		return nil
	}
	a, err := r.Load(ctx, c.AuthorID)
	if err != nil {
		return err
	}
	c.Author = a
	return nil
}

// Forget выкидывает автора из кэша.
func (r *Resolver) Forget(id string) {
	if r.cache != nil {
		r.cache.Remove(id)
	}
}

func (r *Resolver) cached(id string) (*domain.Author, bool) {
	if r.cache == nil {
		return nil, false
	}
	item, ok := r.cache.Get(id)
	if !ok {
		return nil, false
	}
	if r.now().After(item.expiresAt) {
		r.cache.Remove(id)
		return nil, false
	}
	a := item.author
	return &a, true
}

func (r *Resolver) remember(a *domain.Author) {
	if r.cache == nil || a == nil {
		return
	}
	r.cache.Add(a.ID, cacheItem{author: *a, expiresAt: r.now().Add(r.ttl)})
}
