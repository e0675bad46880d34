// Package admin serves the HTML dashboard: a login form guarding list,
// search, create and delete pages for each registered view.
package admin

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/service-template/internal/config"
	"github.com/tjfontaine/service-template/internal/repository"
	"github.com/tjfontaine/service-template/internal/schemas"
	"github.com/tjfontaine/service-template/internal/server"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	DefaultPath  = "/admin"
	listPageSize = 20
)

type Server struct {
	cfg       config.AdminConfig
	router    chi.Router
	views     []*View
	bySlug    map[string]*View
	sessions  sessions
	pages     map[string]*template.Template
	logger    *slog.Logger
	startTime time.Time
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func withClock(now func() time.Time) Option {
	return func(s *Server) { s.sessions.now = now }
}

func New(cfg config.AdminConfig, views []View, opts ...Option) (*Server, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	cfg.Path = "/" + strings.Trim(cfg.Path, "/")
	if cfg.SessionSecret == "" {
		return nil, errors.New("admin session secret is required")
	}

	pages, err := parsePages(templateFS)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:       cfg,
		router:    chi.NewRouter(),
		bySlug:    make(map[string]*View, len(views)),
		sessions:  sessions{secret: []byte(cfg.SessionSecret), ttl: sessionTTL, now: time.Now},
		pages:     pages,
		logger:    slog.Default(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range views {
		v := &views[i]
		if v.list == nil {
			return nil, fmt.Errorf("admin view %q has no data source", v.Name)
		}
		if _, dup := s.bySlug[v.Slug]; dup {
			return nil, fmt.Errorf("duplicate admin view %q", v.Slug)
		}
		s.views = append(s.views, v)
		s.bySlug[v.Slug] = v
	}
	s.routes()
	return s, nil
}

func parsePages(fsys fs.FS) (map[string]*template.Template, error) {
	funcs := template.FuncMap{"label": label}
	pages := map[string]*template.Template{}
	for _, name := range []string{"login", "index", "list", "form"} {
		t, err := template.New(name).Funcs(funcs).ParseFS(fsys, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse admin template %s: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// Path is the mount point of the dashboard.
func (s *Server) Path() string { return s.cfg.Path }

// LoginPath is excluded from audit logging since its body carries the password.
func (s *Server) LoginPath() string { return s.cfg.Path + "/login" }

func (s *Server) routes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			server.SetRoute(r.Context(), "admin", "")
			next.ServeHTTP(w, r)
		})
	})
	s.router.Get("/login", s.loginForm)
	s.router.Post("/login", s.login)
	s.router.Get("/logout", s.logout)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/", s.index)
		r.Get("/api/stats", s.handleStats)
		r.Get("/{view}", s.list)
		r.Get("/{view}/create", s.createForm)
		r.Post("/{view}/create", s.create)
		r.Post("/{view}/{id}/delete", s.delete)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type pageData struct {
	Title  string
	Base   string
	User   string
	Views  []*View
	View   *View
	Error  string
	Notice string

	Rows    []row
	Total   int64
	Page    int
	Pages   int
	PrevURL string
	NextURL string
	Search  map[string]string

	Values map[string]string
	Errors map[string]string

	Stats *StatsResponse
}

func (s *Server) data(r *http.Request) *pageData {
	user, _ := s.currentUser(r)
	return &pageData{Title: s.cfg.Title, Base: s.cfg.Path, User: user, Views: s.views}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, d *pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.pages[page].ExecuteTemplate(w, "layout", d); err != nil {
		server.AddError(r.Context(), err)
		s.logger.LogAttrs(r.Context(), slog.LevelError, "failed to render admin page",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
	}
}

// ============================================================================
// Authentication
// ============================================================================

func (s *Server) currentUser(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	return s.sessions.verify(c.Value)
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.currentUser(r)
		if !ok {
			http.Redirect(w, r, s.LoginPath(), http.StatusSeeOther)
			return
		}
		server.SetUser(r.Context(), 0, user)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loginForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.currentUser(r); ok {
		http.Redirect(w, r, s.cfg.Path+"/", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "login", s.data(r))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	username, password := r.PostFormValue("username"), r.PostFormValue("password")
	userOK := equalStrings(username, s.cfg.Username)
	passOK := equalStrings(password, s.cfg.Password)
	if !userOK || !passOK {
		s.logger.LogAttrs(r.Context(), slog.LevelWarn, "admin login failed",
			slog.String("username", username),
			slog.String("client_ip", server.ClientIP(r)),
		)
		d := s.data(r)
		d.Error = "Invalid username or password"
		s.render(w, r, http.StatusBadRequest, "login", d)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.sessions.issue(username),
		Path:     s.cfg.Path,
		MaxAge:   int(s.sessions.ttl.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.LogAttrs(r.Context(), slog.LevelInfo, "admin login", slog.String("username", username))
	http.Redirect(w, r, s.cfg.Path+"/", http.StatusSeeOther)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     s.cfg.Path,
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.LoginPath(), http.StatusSeeOther)
}

// ============================================================================
// Pages
// ============================================================================

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	d := s.data(r)
	d.Stats = s.stats()
	s.render(w, r, http.StatusOK, "index", d)
}

func (s *Server) view(w http.ResponseWriter, r *http.Request) (*View, bool) {
	v, ok := s.bySlug[chi.URLParam(r, "view")]
	if !ok {
		d := s.data(r)
		d.Error = "Page not found"
		s.render(w, r, http.StatusNotFound, "index", d)
		return nil, false
	}
	return v, true
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	search := map[string]string{}
	filters := map[string]any{}
	for _, col := range v.Searchable {
		if val := strings.TrimSpace(q.Get(col)); val != "" {
			search[col] = val
			filters[col] = val
		}
	}

	d := s.data(r)
	d.View, d.Search, d.Page = v, search, page
	d.Notice = q.Get("notice")
	rows, total, err := v.list(r.Context(), page, listPageSize, filters)
	if err != nil {
		server.AddError(r.Context(), err)
		d.Error = "Failed to load " + strings.ToLower(v.Name)
		s.render(w, r, http.StatusInternalServerError, "list", d)
		return
	}
	d.Rows, d.Total = rows, total
	d.Pages = repository.TotalPages(total, listPageSize)
	if page > 1 {
		d.PrevURL = s.listURL(v, page-1, search)
	}
	if page < d.Pages {
		d.NextURL = s.listURL(v, page+1, search)
	}
	server.AddLogField(r.Context(), "result_count", len(rows))
	s.render(w, r, http.StatusOK, "list", d)
}

func (s *Server) listURL(v *View, page int, search map[string]string) string {
	q := url.Values{}
	for k, val := range search {
		q.Set(k, val)
	}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	u := s.cfg.Path + "/" + v.Slug
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (s *Server) createForm(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	if v.create == nil {
		http.Redirect(w, r, s.listURL(v, 1, nil), http.StatusSeeOther)
		return
	}
	d := s.data(r)
	d.View, d.Values, d.Errors = v, map[string]string{}, map[string]string{}
	s.render(w, r, http.StatusOK, "form", d)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	if v.create == nil {
		server.WriteDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		server.WriteDetail(w, http.StatusBadRequest, "Invalid form")
		return
	}

	d := s.data(r)
	d.View, d.Values, d.Errors = v, map[string]string{}, map[string]string{}
	values := map[string]any{}
	for _, f := range v.Fields {
		raw := strings.TrimSpace(r.PostForm.Get(f.Name))
		d.Values[f.Name] = raw
		val, err := parseField(f, raw)
		if err != nil {
			d.Errors[f.Name] = err.Error()
			continue
		}
		if val != nil {
			values[f.Name] = val
		}
	}
	if len(d.Errors) > 0 {
		s.render(w, r, http.StatusUnprocessableEntity, "form", d)
		return
	}

	err := v.create(r.Context(), values)
	var verr *schemas.ValidationError
	switch {
	case err == nil:
		http.Redirect(w, r, s.cfg.Path+"/"+v.Slug+"?notice=created", http.StatusSeeOther)
		return
	case errors.As(err, &verr):
		for _, fe := range verr.Errors {
			if len(fe.Loc) > 0 {
				d.Errors[fe.Loc[len(fe.Loc)-1]] = fe.Msg
			}
		}
		s.render(w, r, http.StatusUnprocessableEntity, "form", d)
	case errors.Is(err, repository.ErrDuplicate):
		d.Error = "Record already exists"
		s.render(w, r, http.StatusConflict, "form", d)
	default:
		server.AddError(r.Context(), err)
		d.Error = "Failed to create record"
		s.render(w, r, http.StatusInternalServerError, "form", d)
	}
}

// parseField converts a submitted value. Empty optional fields are omitted.
func parseField(f Field, raw string) (any, error) {
	if raw == "" {
		if f.Required {
			return nil, errors.New("This field is required")
		}
		return nil, nil
	}
	switch f.Type {
	case "number":
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.New("Must be a number")
		}
		return n, nil
	case "integer":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.New("Must be a whole number")
		}
		return n, nil
	default:
		return raw, nil
	}
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	if v.remove == nil {
		server.WriteDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		server.WriteDetail(w, http.StatusUnprocessableEntity, "Invalid id")
		return
	}
	switch err := v.remove(r.Context(), id); {
	case err == nil:
		http.Redirect(w, r, s.cfg.Path+"/"+v.Slug+"?notice=deleted", http.StatusSeeOther)
	case errors.Is(err, repository.ErrNotFound):
		server.WriteDetail(w, http.StatusNotFound, err.Error())
	default:
		server.AddError(r.Context(), err)
		server.WriteDetail(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// ============================================================================
// Stats
// ============================================================================

type StatsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"go_version"`
	NumGoroutine int         `json:"num_goroutine"`
	Memory       MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) stats() *StatsResponse {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &StatsResponse{
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, s.stats())
}

// label turns a column name into a heading: "nick_name" becomes "Nick name".
func label(col string) string {
	if col == "id" {
		return "ID"
	}
	col = strings.ReplaceAll(col, "_", " ")
	if col == "" {
		return col
	}
	return strings.ToUpper(col[:1]) + col[1:]
}
