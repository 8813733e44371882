package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/UkralStul/fine-comments-service/internal/apperr"
	"github.com/UkralStul/fine-comments-service/internal/commentstore"
	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/realtime"
	"github.com/UkralStul/fine-comments-service/internal/validation"
)

const defaultFinesLimit = 10

// === Users ===

type newUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var in newUser
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		h.writeError(w, r, apperr.New(apperr.KindValidation, "username_required", "username is required"))
		return
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		in.DisplayName = in.Username
	}

	author, err := h.storage.CreateAuthor(r.Context(), &domain.Author{Username: in.Username, DisplayName: in.DisplayName})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, author)
}

// listUsers отдаёт авторов по списку ?ids=a,b как map[id]author.
func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		h.writeError(w, r, apperr.New(apperr.KindValidation, "ids_required", "ids query parameter is required"))
		return
	}

	found, err := h.storage.GetAuthorsByIDs(r.Context(), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// === Fines ===

type newFine struct {
	Kind            domain.FineKind `json:"kind"`
	OffenderID      string          `json:"offender_id"`
	Description     string          `json:"description"`
	Amount          int             `json:"amount"`
	CommentsEnabled *bool           `json:"comments_enabled"`
}

func (h *Handler) createFine(w http.ResponseWriter, r *http.Request) {
	issuer, err := caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in newFine
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(in.OffenderID) == "" || strings.TrimSpace(in.Description) == "" {
		h.writeError(w, r, apperr.New(apperr.KindValidation, "fine_invalid", "offender_id and description are required"))
		return
	}

	fine := &domain.Fine{
		Kind:            in.Kind,
		OffenderID:      in.OffenderID,
		IssuerID:        issuer,
		Description:     strings.TrimSpace(in.Description),
		Amount:          in.Amount,
		CommentsEnabled: true,
	}
	if fine.Kind == "" {
		fine.Kind = domain.FineKindFine
	}
	if fine.Amount <= 0 {
		fine.Amount = 1
	}
	if in.CommentsEnabled != nil {
		fine.CommentsEnabled = *in.CommentsEnabled
	}

	created, err := h.storage.CreateFine(r.Context(), fine)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listFines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.FineFilter{
		OffenderID: q.Get("offender_id"),
		Kind:       domain.FineKind(q.Get("kind")),
		Limit:      defaultFinesLimit,
	}
	if v := q.Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			h.writeError(w, r, apperr.New(apperr.KindValidation, "bad_limit", "limit must be a positive integer"))
			return
		}
		filter.Limit = l
	}
	if v := q.Get("offset"); v != "" {
		o, err := strconv.Atoi(v)
		if err != nil || o < 0 {
			h.writeError(w, r, apperr.New(apperr.KindValidation, "bad_offset", "offset must be a non-negative integer"))
			return
		}
		filter.Offset = o
	}

	fines, err := h.storage.ListFines(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if fines == nil {
		fines = []*domain.Fine{}
	}
	writeJSON(w, http.StatusOK, fines)
}

func (h *Handler) getFine(w http.ResponseWriter, r *http.Request) {
	fine, err := h.storage.GetFineByID(r.Context(), chi.URLParam(r, "fineID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fine)
}

type toggleInput struct {
	Enable bool `json:"enable"`
}

func (h *Handler) toggleComments(w http.ResponseWriter, r *http.Request) {
	fineID := chi.URLParam(r, "fineID")
	var in toggleInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	// Проверка на существование штрафа
	if _, err := h.storage.GetFineByID(r.Context(), fineID); err != nil {
		h.writeError(w, r, err)
		return
	}
	fine, err := h.storage.ToggleComments(r.Context(), fineID, in.Enable)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fine)
}

// === Comments ===

func (h *Handler) listComments(w http.ResponseWriter, r *http.Request) {
	thread, err := h.comments.FetchThread(r.Context(), chi.URLParam(r, "fineID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if thread.Comments == nil {
		thread.Comments = []*domain.CommentNode{}
	}
	writeJSON(w, http.StatusOK, thread)
}

type newComment struct {
	Content         string  `json:"content"`
	ParentCommentID *string `json:"parent_comment_id"`
}

func (h *Handler) createComment(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in newComment
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	input := commentstore.CreateInput{
		Content:         in.Content,
		FineID:          chi.URLParam(r, "fineID"),
		AuthorID:        userID,
		ParentCommentID: in.ParentCommentID,
	}
	if err := validation.ValidateFormData(input.Form()).Err(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if in.ParentCommentID != nil {
		parent, err := h.comments.Get(r.Context(), *in.ParentCommentID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				err = apperr.New(apperr.KindValidation, "parent_missing", "parent comment not found")
			}
			h.writeError(w, r, err)
			return
		}
		if parent.FineID != input.FineID {
			h.writeError(w, r, apperr.New(apperr.KindValidation, "parent_missing", "parent comment belongs to another fine"))
			return
		}
		if !validation.CanReply(parent) {
			h.writeError(w, r, apperr.New(apperr.KindAuthorization, "reply_to_deleted", "cannot reply to a deleted comment"))
			return
		}
	}

	created, err := h.comments.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getComment(w http.ResponseWriter, r *http.Request) {
	c, err := h.comments.Get(r.Context(), chi.URLParam(r, "commentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type commentPatch struct {
	Content string `json:"content"`
}

func (h *Handler) updateComment(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in commentPatch
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	id := chi.URLParam(r, "commentID")
	current, err := h.comments.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !validation.CanEdit(current, userID) {
		h.writeError(w, r, apperr.New(apperr.KindAuthorization, "not_author", "only the author can edit an active comment"))
		return
	}

	updated, err := h.comments.Update(r.Context(), id, in.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteComment(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	id := chi.URLParam(r, "commentID")
	current, err := h.comments.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !validation.CanDelete(current, userID) {
		h.writeError(w, r, apperr.New(apperr.KindAuthorization, "not_author", "only the author can delete an active comment"))
		return
	}

	deleted, err := h.comments.SoftDelete(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

// === Subscriptions ===

func (h *Handler) watchComments(w http.ResponseWriter, r *http.Request) {
	fineID := chi.URLParam(r, "fineID")
	// Проверяем, существует ли штраф, прежде чем подписываться
	if _, err := h.storage.GetFineByID(r.Context(), fineID); err != nil {
		h.writeError(w, r, err)
		return
	}
	realtime.ServeWS(w, r, h.feed, fineID, h.log)
}
