// Package models defines the persisted entities.
package models

import (
	"time"

	"github.com/tjfontaine/service-template/internal/repository"
)

// Timestamps are maintained by the repository on create and update.
type Timestamps struct {
	CreateTime time.Time `db:"create_time" json:"create_time"`
	UpdateTime time.Time `db:"update_time" json:"update_time"`
}

type User struct {
	ID       int64   `db:"id" json:"id"`
	Name     string  `db:"name" json:"name"`
	NickName string  `db:"nick_name" json:"nick_name"`
	Email    *string `db:"email" json:"email"`
	Timestamps
}

var UserTable = repository.Table{
	Name:    "users",
	Entity:  "User",
	Columns: []string{"name", "nick_name", "email"},
}

type Product struct {
	ID          int64   `db:"id" json:"id"`
	Name        string  `db:"name" json:"name"`
	Description *string `db:"description" json:"description"`
	Price       float64 `db:"price" json:"price"`
	Stock       int     `db:"stock" json:"stock"`
	Category    *string `db:"category" json:"category"`
	Timestamps
}

var ProductTable = repository.Table{
	Name:    "products",
	Entity:  "Product",
	Columns: []string{"name", "description", "price", "stock", "category"},
}

// AuditLog is one audited request, stored in the analytics database.
type AuditLog struct {
	ID           int64   `db:"id" json:"id"`
	RequestID    *string `db:"request_id" json:"request_id"`
	Method       string  `db:"method" json:"method"`
	Path         string  `db:"path" json:"path"`
	Status       int     `db:"status" json:"status"`
	Module       *string `db:"module" json:"module"`
	Summary      *string `db:"summary" json:"summary"`
	UserID       int64   `db:"user_id" json:"user_id"`
	Username     *string `db:"username" json:"username"`
	ClientIP     *string `db:"client_ip" json:"client_ip"`
	RequestArgs  *string `db:"request_args" json:"request_args"`
	ResponseBody *string `db:"response_body" json:"response_body"`
	ResponseTime int64   `db:"response_time" json:"response_time"`
	Timestamps
}

var AuditLogTable = repository.Table{
	Name:   "audit_logs",
	Entity: "AuditLog",
	Columns: []string{
		"request_id", "method", "path", "status", "module", "summary",
		"user_id", "username", "client_ip", "request_args", "response_body", "response_time",
	},
}
