package domain

import "strings"

// TentativePrefix отличает локальные id от серверных uuid.
const TentativePrefix = "optimistic-"

// IsTentativeID сообщает, что id выдан клиентом и ещё не подтверждён.
func IsTentativeID(id string) bool {
	return strings.HasPrefix(id, TentativePrefix)
}

// MutationKind - вид локальной мутации.
type MutationKind int

const (
	MutationInsert MutationKind = iota + 1
	MutationUpdate
	MutationDelete
)

func (k MutationKind) String() string {
	switch k {
	case MutationInsert:
		return "insert"
	case MutationUpdate:
		return "update"
	case MutationDelete:
		return "delete"
	}
	return "unknown"
}

// SyncState описывает, в каком отношении узел дерева находится к серверу.
// Реализации: Pending, Confirmed, Rejected. nil - обычная серверная строка.
type SyncState interface {
	syncState()
}

// Pending - мутация применена локально и ждёт ответа сервера.
type Pending struct {
	Kind         MutationKind
	TargetID     string
	OptimisticID string
}

// Confirmed - сервер подтвердил мутацию.
type Confirmed struct{}

// Rejected - сервер отклонил мутацию, узел будет откачен по таймеру.
type Rejected struct {
	OptimisticID string
	Message      string
}

func (Pending) syncState()   {}
func (Confirmed) syncState() {}
func (Rejected) syncState()  {}

// EventType - тип события из ленты изменений.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event - одно изменение строки comments. В ленте приходят только внешние
// ключи, Author заполняется при слиянии.
type Event struct {
	Type       EventType `json:"type"`
	Comment    Comment   `json:"comment"`
	OldComment *Comment  `json:"old_comment,omitempty"`
}
