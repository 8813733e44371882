package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/storage"
)

// Store реализует интерфейс Storage в памяти.
type Store struct {
	mu             sync.RWMutex
	authors        map[string]*domain.Author
	fines          map[string]*domain.Fine
	comments       map[string]*domain.Comment
	commentsByFine map[string][]string // map[fineID][]commentID
	now            func() time.Time
}

// New создает новый экземпляр in-memory хранилища.
func New() *Store {
	return &Store{
		authors:        make(map[string]*domain.Author),
		fines:          make(map[string]*domain.Fine),
		comments:       make(map[string]*domain.Comment),
		commentsByFine: make(map[string][]string),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет часы, используется в тестах.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// === Author Methods ===

func (s *Store) CreateAuthor(ctx context.Context, author *domain.Author) (*domain.Author, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.authors {
		if a.Username == author.Username {
			return nil, fmt.Errorf("username %q already exists", author.Username)
		}
	}
	if author.ID == "" {
		author.ID = uuid.NewString()
	}
	stored := *author
	s.authors[author.ID] = &stored
	return author, nil
}

func (s *Store) GetAuthorsByIDs(ctx context.Context, ids []string) (map[string]*domain.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*domain.Author, len(ids))
	for _, id := range ids {
		if a, ok := s.authors[id]; ok {
			cp := *a
			result[id] = &cp
		}
	}
	return result, nil
}

// === Fine Methods ===

func (s *Store) CreateFine(ctx context.Context, fine *domain.Fine) (*domain.Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fine.ID = uuid.NewString()
	fine.CreatedAt = s.now()
	if fine.Kind == "" {
		fine.Kind = domain.FineKindFine
	}
	s.fines[fine.ID] = fine
	return fine, nil
}

func (s *Store) GetFineByID(ctx context.Context, id string) (*domain.Fine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fine, ok := s.fines[id]
	if !ok {
		return nil, fmt.Errorf("fine with id %s: %w", id, storage.ErrNotFound)
	}
	return fine, nil
}

func (s *Store) ListFines(ctx context.Context, filter domain.FineFilter) ([]*domain.Fine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.Fine, 0, len(s.fines))
	for _, f := range s.fines {
		if filter.OffenderID != "" && f.OffenderID != filter.OffenderID {
			continue
		}
		if filter.Kind != "" && f.Kind != filter.Kind {
			continue
		}
		all = append(all, f)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	start := filter.Offset
	if start >= len(all) {
		return []*domain.Fine{}, nil
	}
	end := len(all)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return all[start:end], nil
}

func (s *Store) ToggleComments(ctx context.Context, fineID string, enable bool) (*domain.Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fine, ok := s.fines[fineID]
	if !ok {
		return nil, fmt.Errorf("fine with id %s: %w", fineID, storage.ErrNotFound)
	}
	fine.CommentsEnabled = enable
	return fine, nil
}

// === Comment Methods ===

func (s *Store) CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Проверка штрафа
	fine, ok := s.fines[comment.FineID]
	if !ok {
		return nil, fmt.Errorf("fine with id %s: %w", comment.FineID, storage.ErrNotFound)
	}
	if !fine.CommentsEnabled {
		return nil, storage.ErrCommentsDisabled
	}

	// Проверка родительского комментария
	if comment.ParentCommentID != nil {
		parent, ok := s.comments[*comment.ParentCommentID]
		if !ok || parent.FineID != comment.FineID {
			return nil, storage.ErrParentNotFound
		}
	}

	now := s.now()
	comment.ID = uuid.NewString()
	comment.CreatedAt = now
	comment.UpdatedAt = now
	comment.IsDeleted = false
	comment.Author = nil
	comment.Sync = nil

	stored := *comment
	s.comments[comment.ID] = &stored
	s.commentsByFine[comment.FineID] = append(s.commentsByFine[comment.FineID], comment.ID)

	return s.withAuthor(stored), nil
}

func (s *Store) GetCommentByID(ctx context.Context, id string) (*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	comment, ok := s.comments[id]
	if !ok {
		return nil, fmt.Errorf("comment %s: %w", id, storage.ErrNotFound)
	}
	return s.withAuthor(*comment), nil
}

func (s *Store) UpdateComment(ctx context.Context, id string, patch storage.CommentPatch) (*domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comment, ok := s.comments[id]
	if !ok || comment.IsDeleted {
		return nil, fmt.Errorf("comment %s: %w", id, storage.ErrNotFound)
	}
	if patch.Content != nil {
		comment.Content = *patch.Content
	}
	comment.UpdatedAt = s.now()
	return s.withAuthor(*comment), nil
}

func (s *Store) SoftDeleteComment(ctx context.Context, id string) (*domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comment, ok := s.comments[id]
	if !ok {
		return nil, fmt.Errorf("comment %s: %w", id, storage.ErrNotFound)
	}
	// Текст остаётся на месте, читатели обязаны его игнорировать.
	comment.IsDeleted = true
	comment.UpdatedAt = s.now()
	return s.withAuthor(*comment), nil
}

func (s *Store) ListThread(ctx context.Context, fineID string) ([]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.commentsByFine[fineID]
	result := make([]*domain.Comment, 0, len(ids))
	kept := make(map[string]bool)
	for _, id := range ids {
		c := s.comments[id]
		if c.IsDeleted {
			continue
		}
		result = append(result, s.withAuthor(*c))
		kept[c.ID] = true
	}
	// Удалённые предки живых комментариев остаются плейсхолдерами.
	for _, id := range ids {
		c := s.comments[id]
		if c.IsDeleted {
			continue
		}
		for p := c.ParentCommentID; p != nil; {
			parent, ok := s.comments[*p]
			if !ok || kept[parent.ID] {
				break
			}
			kept[parent.ID] = true
			result = append(result, s.withAuthor(*parent))
			p = parent.ParentCommentID
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// withAuthor возвращает копию с подгруженным автором. Вызывать под s.mu.
func (s *Store) withAuthor(c domain.Comment) *domain.Comment {
	if a, ok := s.authors[c.AuthorID]; ok {
		cp := *a
		c.Author = &cp
	}
	return &c
}
