package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/UkralStul/fine-comments-service/internal/apperr"
)

const maxBody = 1 << 20

type errorBody struct {
	Error *apperr.Error `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку в таксономию и отдаёт её с нужным статусом.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.Parse(err)
	if e.Status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, e.Status, errorBody{Error: e})
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.KindValidation, "empty_body", "request body is empty")
		}
		return apperr.New(apperr.KindValidation, "bad_json", err.Error())
	}
	return nil
}

// caller возвращает id вызывающего из заголовка.
func caller(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		return "", apperr.New(apperr.KindAuthentication, "no_user", UserHeader+" header is required")
	}
	return id, nil
}
