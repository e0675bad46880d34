package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tjfontaine/service-template/internal/models"
	"github.com/tjfontaine/service-template/internal/repository"
	"github.com/tjfontaine/service-template/internal/schemas"
	"github.com/tjfontaine/service-template/internal/server"
	"github.com/tjfontaine/service-template/internal/storage/sqldb"
)

// AuditLogs persists audit entries and lists them for the dashboard.
type AuditLogs struct {
	repo   *repository.Repository[models.AuditLog]
	logger *slog.Logger
}

func NewAuditLogs(db *sqldb.DB, logger *slog.Logger) *AuditLogs {
	return &AuditLogs{
		repo:   repository.New[models.AuditLog](db, models.AuditLogTable, logger),
		logger: logger,
	}
}

// Record implements server.AuditSink.
func (a *AuditLogs) Record(ctx context.Context, e server.AuditEntry) error {
	args, err := json.Marshal(e.RequestArgs)
	if err != nil {
		return err
	}
	_, err = a.repo.CreateFields(ctx, repository.Fields{
		"request_id":    optional(e.RequestID),
		"method":        e.Method,
		"path":          e.Path,
		"status":        e.Status,
		"module":        optional(e.Module),
		"summary":       optional(e.Summary),
		"user_id":       e.UserID,
		"username":      optional(e.Username),
		"client_ip":     optional(e.ClientIP),
		"request_args":  string(args),
		"response_body": string(e.ResponseBody),
		"response_time": e.ResponseTime.Milliseconds(),
	})
	return err
}

func (a *AuditLogs) List(ctx context.Context, q schemas.ListQuery) (*repository.Page[models.AuditLog], error) {
	orderBy, desc := q.OrderBy, q.Desc
	if orderBy == "" {
		orderBy, desc = "id", true
	}
	return a.repo.Paginate(ctx, q.Page, q.PageSize, repository.PageOptions{
		OrderBy: orderBy,
		Desc:    desc,
		Filters: repository.Filters(q.Filters),
	})
}

func (a *AuditLogs) Repository() *repository.Repository[models.AuditLog] { return a.repo }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
