package domain

import "time"

// FineKind - тип записи: штраф, кредит или предупреждение.
type FineKind string

const (
	FineKindFine    FineKind = "fine"
	FineKindCredit  FineKind = "credit"
	FineKindWarning FineKind = "warning"
)

// Author - участник группы. Принадлежит внешнему хранилищу пользователей,
// к комментариям прикрепляется копией при чтении.
type Author struct {
	ID          string `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Username    string `json:"username" gorm:"type:varchar(64);uniqueIndex;not null"`
	DisplayName string `json:"display_name" gorm:"type:varchar(255);not null"`
}

// TableName возвращает имя таблицы пользователей.
func (Author) TableName() string { return "users" }

// Fine представляет штраф (или кредит/предупреждение), к которому привязан тред.
type Fine struct {
	ID              string     `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Kind            FineKind   `json:"kind" gorm:"type:varchar(16);not null;default:'fine'"`
	OffenderID      string     `json:"offender_id" gorm:"type:uuid;not null;index"`
	IssuerID        string     `json:"issuer_id" gorm:"type:uuid;not null"`
	Description     string     `json:"description" gorm:"type:text;not null"`
	Amount          int        `json:"amount" gorm:"not null;default:1"`
	CommentsEnabled bool       `json:"comments_enabled" gorm:"not null;default:true"`
	CreatedAt       time.Time  `json:"created_at" gorm:"not null;default:now()"`
	Comments        []*Comment `json:"-" gorm:"foreignKey:FineID"` // gorm only
}

// Comment - строка таблицы comments в том виде, в каком её отдаёт хранилище.
type Comment struct {
	ID              string    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	FineID          string    `json:"fine_id" gorm:"type:uuid;not null;index"`
	AuthorID        string    `json:"author_id" gorm:"type:uuid;not null"`
	ParentCommentID *string   `json:"parent_comment_id" gorm:"type:uuid;index"`
	Content         string    `json:"content" gorm:"type:varchar(2000);not null"`
	CreatedAt       time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"not null;default:now()"`
	IsDeleted       bool      `json:"is_deleted" gorm:"not null;default:false;index"`
	Author          *Author   `json:"author,omitempty" gorm:"foreignKey:AuthorID"`

	// Состояние синхронизации существует только на клиенте.
	Sync SyncState `json:"-" gorm:"-" copier:"-"`
}

// IsRoot сообщает, что у комментария нет родителя.
func (c *Comment) IsRoot() bool {
	return c.ParentCommentID == nil
}

// ParentID возвращает id родителя или пустую строку для корня.
func (c *Comment) ParentID() string {
	if c.ParentCommentID == nil {
		return ""
	}
	return *c.ParentCommentID
}

// IsEdited: равенство created_at и updated_at означает, что правок не было.
func (c *Comment) IsEdited() bool {
	return !c.CreatedAt.Equal(c.UpdatedAt)
}

// VisibleContent возвращает текст, пригодный для показа. У удалённого - пусто.
func (c *Comment) VisibleContent() string {
	if c.IsDeleted {
		return ""
	}
	return c.Content
}

// Redact стирает текст удалённого комментария: читателям он не показывается.
func (c *Comment) Redact() {
	if c.IsDeleted {
		c.Content = ""
	}
}

// IsOptimistic сообщает, что узел ещё не подтверждён сервером.
func (c *Comment) IsOptimistic() bool {
	switch c.Sync.(type) {
	case Pending, Rejected:
		return true
	}
	return false
}

// OptimisticID возвращает id корреляции ожидающей или отклонённой мутации.
func (c *Comment) OptimisticID() string {
	switch s := c.Sync.(type) {
	case Pending:
		return s.OptimisticID
	case Rejected:
		return s.OptimisticID
	}
	return ""
}

// SyncError возвращает текст последней ошибки мутации.
func (c *Comment) SyncError() string {
	if s, ok := c.Sync.(Rejected); ok {
		return s.Message
	}
	return ""
}

// CommentNode - комментарий вместе с прямыми ответами.
type CommentNode struct {
	Comment
	Replies    []*CommentNode `json:"replies"`
	ReplyCount int            `json:"reply_count"`
}

// FineFilter - параметры выборки штрафов.
type FineFilter struct {
	OffenderID string
	Kind       FineKind
	Limit      int
	Offset     int
}
