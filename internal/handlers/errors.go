package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/service-template/internal/repository"
	"github.com/tjfontaine/service-template/internal/schemas"
	"github.com/tjfontaine/service-template/internal/server"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// writeError maps service errors onto HTTP statuses. Internal details are
// logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *schemas.ValidationError
	var rerr *repository.Error
	switch {
	case errors.As(err, &verr):
		server.WriteDetail(w, http.StatusUnprocessableEntity, verr.Errors)
	case errors.Is(err, repository.ErrUnknownColumn):
		server.WriteDetail(w, http.StatusUnprocessableEntity, []schemas.FieldError{{
			Loc:  []string{"query", "order_by"},
			Msg:  "Unknown column",
			Type: "value_error",
		}})
	case errors.Is(err, repository.ErrNotFound):
		server.WriteDetail(w, http.StatusNotFound, err.Error())
	case errors.As(err, &rerr) && rerr.Kind == repository.KindDuplicate:
		server.WriteDetail(w, http.StatusConflict, fmt.Sprintf("%s already exists", rerr.Entity))
	default:
		server.AddError(r.Context(), err)
		logger.LogAttrs(r.Context(), slog.LevelError, "request failed", slog.String("error", err.Error()))
		server.WriteDetail(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// decodeJSON reads a JSON object body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		loc := []string{"body"}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			loc = append(loc, typeErr.Field)
			return schemas.NewValidationError(loc, "type_error", fmt.Sprintf("Input should be a valid %s", typeErr.Type.Kind()))
		}
		if errors.Is(err, io.EOF) {
			return schemas.NewValidationError(loc, "missing", "Field required")
		}
		return schemas.NewValidationError(loc, "json_invalid", "JSON decode error")
	}
	return nil
}
