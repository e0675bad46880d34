package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/service-template/internal/schemas"
	"github.com/tjfontaine/service-template/internal/server"
	"github.com/tjfontaine/service-template/internal/service"
)

// crud serves the five REST operations of one resource. C and U are the
// create and update request bodies.
type crud[T any, C, U service.Payload] struct {
	resource *service.Resource[T]
	module   string
	entity   string
	logger   *slog.Logger
}

func (h *crud[T, C, U]) routes() server.RouteGroup {
	return server.RouteGroup{
		Prefix: "/" + h.module,
		Module: h.module,
		Routes: []server.Route{
			{Method: http.MethodPost, Pattern: "/", Summary: "Create a new " + h.module, Handler: h.create},
			{Method: http.MethodGet, Pattern: "/", Summary: "Get " + h.module + " list", Handler: h.list},
			{Method: http.MethodGet, Pattern: "/{id}", Summary: "Get " + h.module + " by ID", Handler: h.get},
			{Method: http.MethodPut, Pattern: "/{id}", Summary: "Update " + h.module, Handler: h.update},
			{Method: http.MethodDelete, Pattern: "/{id}", Summary: "Delete " + h.module, Handler: h.delete},
		},
	}
}

func (h *crud[T, C, U]) create(w http.ResponseWriter, r *http.Request) {
	var req C
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	row, err := h.resource.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, schemas.APIResponse{
		Success: true,
		Data:    row,
		Message: h.entity + " created successfully",
		Code:    http.StatusCreated,
	})
}

func (h *crud[T, C, U]) get(w http.ResponseWriter, r *http.Request) {
	id, err := schemas.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	row, err := h.resource.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, row)
}

func (h *crud[T, C, U]) update(w http.ResponseWriter, r *http.Request) {
	id, err := schemas.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req U
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	row, err := h.resource.Update(r.Context(), id, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, row)
}

func (h *crud[T, C, U]) delete(w http.ResponseWriter, r *http.Request) {
	id, err := schemas.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.resource.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, schemas.MessageResponse{
		Message: fmt.Sprintf("%s %d deleted successfully", h.entity, id),
		Code:    http.StatusOK,
	})
}

func (h *crud[T, C, U]) list(w http.ResponseWriter, r *http.Request) {
	q, err := schemas.ParseListQuery(r.URL.Query(), h.resource.Filters()...)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	page, err := h.resource.List(r.Context(), q)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	server.AddLogField(r.Context(), "result_count", len(page.Items))
	server.WriteJSON(w, http.StatusOK, page)
}
