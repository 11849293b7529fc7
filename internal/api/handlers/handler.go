// handler.go — общие помощники обработчиков HTTP API обоих сервисов:
// разбор и проверка тела запроса, JSON-ответы, пагинация, идентификаторы.
package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/govote/internal/api/errors"
	"github.com/bigkaa/govote/internal/api/schema"
)

// maxBodyBytes — предел размера тела запроса.
const maxBodyBytes = 1 << 20

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// bodyDecoder читает тело запроса, проверяет его по схеме контракта
// и декодирует в dst. При ошибке ответ уже записан.
type bodyDecoder struct {
	validator *schema.Validator
	logger    *slog.Logger
}

func (d bodyDecoder) decode(w http.ResponseWriter, r *http.Request, schemaName string, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		apierrors.ValidationError(w, "Не удалось прочитать тело запроса: "+err.Error())
		return false
	}
	if len(body) == 0 {
		apierrors.ValidationError(w, "Пустое тело запроса")
		return false
	}
	if err := d.validator.Validate(schemaName, body); err != nil {
		d.logger.Debug("Тело запроса не прошло проверку",
			slog.String("schema", schemaName),
			slog.String("error", err.Error()),
		)
		apierrors.ValidationError(w, err.Error())
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// electionID извлекает {id} из пути и проверяет формат UUID.
func electionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		apierrors.ValidationError(w, "Идентификатор выборов должен быть UUID")
		return "", false
	}
	return id, true
}
