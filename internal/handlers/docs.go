package handlers

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tjfontaine/service-template/internal/server"
)

var swaggerTemplate = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html>
<head>
<title>{{.Title}} - Swagger UI</title>
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
SwaggerUIBundle({url: "{{.SpecURL}}", dom_id: "#swagger-ui", deepLinking: true});
</script>
</body>
</html>
`))

var redocTemplate = template.Must(template.New("redoc").Parse(`<!DOCTYPE html>
<html>
<head>
<title>{{.Title}} - ReDoc</title>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
<redoc spec-url="{{.SpecURL}}"></redoc>
<script src="https://cdn.jsdelivr.net/npm/redoc@2/bundles/redoc.standalone.js"></script>
</body>
</html>
`))

func (h *Handlers) renderDocs(w http.ResponseWriter, r *http.Request, t *template.Template) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := t.Execute(w, map[string]string{"Title": apiTitle, "SpecURL": "/openapi.json"})
	if err != nil {
		server.AddError(r.Context(), err)
	}
}

func (h *Handlers) swaggerUI(w http.ResponseWriter, r *http.Request) { h.renderDocs(w, r, swaggerTemplate) }
func (h *Handlers) redoc(w http.ResponseWriter, r *http.Request)     { h.renderDocs(w, r, redocTemplate) }

func (h *Handlers) openAPIJSON(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, h.OpenAPI())
}

func (h *Handlers) openAPIYAML(w http.ResponseWriter, r *http.Request) {
	out, err := yaml.Marshal(h.OpenAPI())
	if err != nil {
		writeError(w, r, h.logger, fmt.Errorf("failed to render openapi document: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(out)
}

const apiTitle = "Service-Differentiated API"

// OpenAPI describes every route of the static table.
func (h *Handlers) OpenAPI() map[string]any {
	paths := map[string]any{}
	for _, g := range h.Routes() {
		if g.Module == "docs" {
			continue
		}
		for _, rt := range g.Routes {
			p := joinPath(g.Prefix, rt.Pattern)
			item, _ := paths[p].(map[string]any)
			if item == nil {
				item = map[string]any{}
				paths[p] = item
			}
			item[strings.ToLower(rt.Method)] = operation(g.Module, rt)
		}
	}
	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":       apiTitle,
			"version":     h.version,
			"description": "Different services live under distinct path prefixes.",
		},
		"paths": paths,
		"components": map[string]any{
			"schemas": componentSchemas,
		},
	}
}

func joinPath(prefix, pattern string) string {
	if prefix == "" {
		return pattern
	}
	return prefix + pattern
}

func operation(module string, rt server.Route) map[string]any {
	op := map[string]any{
		"summary":     rt.Summary,
		"tags":        []string{title(module)},
		"operationId": operationID(rt.Summary),
	}
	entity := title(module)
	var params []any
	if strings.Contains(rt.Pattern, "{id}") {
		params = append(params, map[string]any{
			"name": "id", "in": "path", "required": true,
			"schema": map[string]any{"type": "integer"},
		})
	}

	responses := map[string]any{
		"422": response("Validation Error", "HTTPValidationError"),
	}
	switch {
	case module == "system":
		responses = map[string]any{"200": map[string]any{"description": "Successful Response"}}
	case rt.Method == http.MethodPost:
		op["requestBody"] = body(entity + "CreateRequest")
		responses["201"] = response("Created", "APIResponse")
	case rt.Method == http.MethodPut:
		op["requestBody"] = body(entity + "UpdateRequest")
		responses["200"] = response("Successful Response", entity)
		responses["404"] = response("Not Found", "HTTPError")
	case rt.Method == http.MethodDelete:
		responses["200"] = response("Successful Response", "MessageResponse")
		responses["404"] = response("Not Found", "HTTPError")
	case rt.Pattern == "/":
		params = append(params, listParams(module)...)
		responses["200"] = response("Successful Response", entity+"Page")
	default:
		responses["200"] = response("Successful Response", entity)
		responses["404"] = response("Not Found", "HTTPError")
	}
	if module == "system" && rt.Pattern == "/health" {
		params = append(params, queryParam("deep", "boolean"))
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	op["responses"] = responses
	return op
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func operationID(summary string) string {
	return strings.ReplaceAll(strings.ToLower(summary), " ", "_")
}

func ref(name string) map[string]any {
	return map[string]any{"$ref": "#/components/schemas/" + name}
}

func body(schema string) map[string]any {
	return map[string]any{
		"required": true,
		"content":  map[string]any{"application/json": map[string]any{"schema": ref(schema)}},
	}
}

func response(desc, schema string) map[string]any {
	return map[string]any{
		"description": desc,
		"content":     map[string]any{"application/json": map[string]any{"schema": ref(schema)}},
	}
}

func queryParam(name, typ string) map[string]any {
	return map[string]any{"name": name, "in": "query", "required": false, "schema": map[string]any{"type": typ}}
}

func listParams(module string) []any {
	params := []any{
		map[string]any{"name": "page", "in": "query", "schema": map[string]any{"type": "integer", "minimum": 1, "default": 1}},
		map[string]any{"name": "page_size", "in": "query", "schema": map[string]any{"type": "integer", "minimum": 1, "maximum": 100, "default": 10}},
		queryParam("order_by", "string"),
		queryParam("desc", "boolean"),
	}
	filters := map[string][]string{
		"user":    {"name", "nick_name", "email"},
		"product": {"name", "category"},
	}
	for _, f := range filters[module] {
		params = append(params, queryParam(f, "string"))
	}
	return params
}

func str(extra map[string]any) map[string]any {
	s := map[string]any{"type": "string"}
	for k, v := range extra {
		s[k] = v
	}
	return s
}

func nullable(s map[string]any) map[string]any {
	return map[string]any{"anyOf": []any{s, map[string]any{"type": "null"}}}
}

var timestamps = map[string]any{
	"create_time": str(map[string]any{"format": "date-time"}),
	"update_time": str(map[string]any{"format": "date-time"}),
}

func object(required []string, props ...map[string]any) map[string]any {
	merged := map[string]any{}
	for _, p := range props {
		for k, v := range p {
			merged[k] = v
		}
	}
	out := map[string]any{"type": "object", "properties": merged}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func page(item string) map[string]any {
	return object([]string{"items", "total", "page", "page_size", "total_pages"}, map[string]any{
		"items":       map[string]any{"type": "array", "items": ref(item)},
		"total":       map[string]any{"type": "integer"},
		"page":        map[string]any{"type": "integer"},
		"page_size":   map[string]any{"type": "integer"},
		"total_pages": map[string]any{"type": "integer"},
	})
}

var (
	userFields = map[string]any{
		"name":      str(map[string]any{"minLength": 1, "maxLength": 100}),
		"nick_name": str(map[string]any{"minLength": 1, "maxLength": 50}),
		"email":     nullable(str(map[string]any{"format": "email"})),
	}
	productFields = map[string]any{
		"name":        str(map[string]any{"minLength": 1, "maxLength": 200}),
		"description": nullable(str(map[string]any{"maxLength": 1000})),
		"price":       map[string]any{"type": "number", "exclusiveMinimum": 0, "multipleOf": 0.01},
		"stock":       map[string]any{"type": "integer", "minimum": 0, "default": 0},
		"category":    nullable(str(map[string]any{"maxLength": 50})),
	}
	idField = map[string]any{"id": map[string]any{"type": "integer"}}
)

var componentSchemas = map[string]any{
	"User":                 object([]string{"id", "name", "nick_name", "create_time", "update_time"}, idField, userFields, timestamps),
	"UserCreateRequest":    object([]string{"name", "nick_name"}, userFields),
	"UserUpdateRequest":    object(nil, userFields),
	"UserPage":             page("User"),
	"Product":              object([]string{"id", "name", "price", "stock", "create_time", "update_time"}, idField, productFields, timestamps),
	"ProductCreateRequest": object([]string{"name", "price"}, productFields),
	"ProductUpdateRequest": object(nil, productFields),
	"ProductPage":          page("Product"),
	"APIResponse": object([]string{"success", "data", "code"}, map[string]any{
		"success": map[string]any{"type": "boolean"},
		"data":    map[string]any{},
		"message": map[string]any{"type": "string"},
		"code":    map[string]any{"type": "integer"},
	}),
	"MessageResponse": object([]string{"message", "code"}, map[string]any{
		"message": map[string]any{"type": "string"},
		"code":    map[string]any{"type": "integer"},
	}),
	"HTTPError": object([]string{"detail"}, map[string]any{"detail": map[string]any{"type": "string"}}),
	"HTTPValidationError": object(nil, map[string]any{
		"detail": map[string]any{"type": "array", "items": object([]string{"loc", "msg", "type"}, map[string]any{
			"loc":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"msg":  map[string]any{"type": "string"},
			"type": map[string]any{"type": "string"},
		})},
	}),
}
