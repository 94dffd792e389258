package httputil

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cwrk-planet/consult-service/pkg/errs"
	"github.com/cwrk-planet/consult-service/pkg/logger"
)

type envelope map[string]any

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Error("write json response failed", "err", err)
	}
}

// OK: «успешный» ответ с обёрткой.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, envelope{"data": data})
}

func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, envelope{"data": data})
}

// Error: унифицированная ошибка (message + meta).
func Error(w http.ResponseWriter, status int, msg string, meta map[string]any) {
	body := envelope{"message": msg}
	if len(meta) > 0 {
		body["meta"] = meta
	}
	JSON(w, status, envelope{"error": body})
}

// Fail отвечает ошибкой по доменному err. 5xx пишутся в лог запроса.
func Fail(ctx context.Context, w http.ResponseWriter, err error) {
	status := errs.ToHTTP(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(ctx).Error("request failed", "status", status, "err", err)
	}
	Error(w, status, errs.Public(err), map[string]any{"code": errs.Code(err)})
}
