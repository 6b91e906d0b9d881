package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"

	"finitefield.org/usermapping/internal/platform/httpx"
)

const apiTitle = "User Mapping Service"

type docRoute struct {
	Method   string
	Path     string
	Summary  string
	Tag      string
	Internal bool
	// Status overrides the success status implied by Method.
	Status int
}

// apiRoutes lists every route the router serves. Paths are relative to the server root.
var apiRoutes = []docRoute{
	{Method: http.MethodGet, Path: "/healthz", Summary: "Liveness probe with build info", Tag: "health"},
	{Method: http.MethodGet, Path: "/readyz", Summary: "Readiness probe with dependency checks", Tag: "health"},
	{Method: http.MethodGet, Path: "/api/v1/{side}_user_fields", Summary: "List registered fields of a side", Tag: "registry"},
	{Method: http.MethodPost, Path: "/api/v1/{side}_user_fields", Summary: "Register a field", Tag: "registry"},
	{Method: http.MethodGet, Path: "/api/v1/{side}_user_fields/{id}", Summary: "Get a field", Tag: "registry"},
	{Method: http.MethodPatch, Path: "/api/v1/{side}_user_fields/{id}", Summary: "Update a field (PUT also accepted)", Tag: "registry"},
	{Method: http.MethodDelete, Path: "/api/v1/{side}_user_fields/{id}", Summary: "Delete a field", Tag: "registry"},
	{Method: http.MethodGet, Path: "/api/v1/{side}_user_options", Summary: "List registered options of a side", Tag: "registry"},
	{Method: http.MethodPost, Path: "/api/v1/{side}_user_options", Summary: "Register an option under an existing parent field", Tag: "registry"},
	{Method: http.MethodGet, Path: "/api/v1/{side}_user_options/{id}", Summary: "Get an option", Tag: "registry"},
	{Method: http.MethodPatch, Path: "/api/v1/{side}_user_options/{id}", Summary: "Update an option (PUT also accepted)", Tag: "registry"},
	{Method: http.MethodDelete, Path: "/api/v1/{side}_user_options/{id}", Summary: "Delete an option", Tag: "registry"},
	{Method: http.MethodGet, Path: "/api/v1/mapping_user_fields", Summary: "List field mappings", Tag: "mappings"},
	{Method: http.MethodPost, Path: "/api/v1/mapping_user_fields", Summary: "Create a field mapping", Tag: "mappings"},
	{Method: http.MethodGet, Path: "/api/v1/mapping_user_fields/{id}", Summary: "Get a field mapping", Tag: "mappings"},
	{Method: http.MethodPatch, Path: "/api/v1/mapping_user_fields/{id}", Summary: "Update a field mapping (PUT also accepted)", Tag: "mappings"},
	{Method: http.MethodDelete, Path: "/api/v1/mapping_user_fields/{id}", Summary: "Delete a field mapping", Tag: "mappings"},
	{Method: http.MethodGet, Path: "/api/v1/mapping_user_fields_options", Summary: "List option mappings", Tag: "mappings"},
	{Method: http.MethodPost, Path: "/api/v1/mapping_user_fields_options", Summary: "Create an option mapping; both parent fields must exist", Tag: "mappings"},
	{Method: http.MethodGet, Path: "/api/v1/mapping_user_fields_options/{id}", Summary: "Get an option mapping", Tag: "mappings"},
	{Method: http.MethodPatch, Path: "/api/v1/mapping_user_fields_options/{id}", Summary: "Update an option mapping (PUT also accepted)", Tag: "mappings"},
	{Method: http.MethodDelete, Path: "/api/v1/mapping_user_fields_options/{id}", Summary: "Delete an option mapping", Tag: "mappings"},
	{Method: http.MethodGet, Path: "/api/v1/export/json", Summary: "Compiled translation document", Tag: "exports"},
	{Method: http.MethodGet, Path: "/api/v1/mapping", Summary: "Compiled translation document (legacy alias)", Tag: "exports"},
	{Method: http.MethodGet, Path: "/api/v1/export/xlsx", Summary: "Mapping workbook download", Tag: "exports"},
	{Method: http.MethodGet, Path: "/export/json", Summary: "Compiled translation document (unversioned alias)", Tag: "exports"},
	{Method: http.MethodGet, Path: "/export/xlsx", Summary: "Mapping workbook download (unversioned alias)", Tag: "exports"},
	{Method: http.MethodGet, Path: "/mapping", Summary: "Compiled translation document (unversioned alias)", Tag: "exports"},
	{Method: http.MethodPost, Path: "/api/v1/internal/ingestions", Summary: "Pull field definitions from the profile systems", Tag: "internal", Internal: true, Status: http.StatusOK},
	{Method: http.MethodPost, Path: "/api/v1/internal/exports:publish", Summary: "Archive and publish the compiled document", Tag: "internal", Internal: true, Status: http.StatusAccepted},
	{Method: http.MethodGet, Path: "/api-docs", Summary: "This page", Tag: "docs"},
	{Method: http.MethodGet, Path: "/api-docs/openapi.yaml", Summary: "OpenAPI document (YAML)", Tag: "docs"},
	{Method: http.MethodGet, Path: "/api-docs/openapi.json", Summary: "OpenAPI document (JSON)", Tag: "docs"},
}

const docsOverview = `# User Mapping Service

Maintains the field and option registries of a source and a target profile system, the
mappings between them, and compiles those mappings into a translation document.

- Option mappings and options are admitted only when their parent fields exist on the matching side.
- ` + "`/api/v1/export/json`" + ` returns ` + "`{\"user\": {\"field_map\": ..., \"translation_map\": ...}}`" + `.
- List endpoints accept ` + "`pageSize`" + `, ` + "`pageToken`" + ` and ` + "`filter=column==value`" + `.
- Internal endpoints require a Google-signed OIDC token; publishing requires an ` + "`Idempotency-Key`" + ` header.
`

// DocsHandlers serves the API reference page and the OpenAPI document.
type DocsHandlers struct {
	version string
	policy  *bluemonday.Policy

	once      sync.Once
	page      []byte
	openapi   openAPIDocument
	renderErr error
}

// NewDocsHandlers constructs the docs handler set. version is reported in the OpenAPI info block.
func NewDocsHandlers(version string) *DocsHandlers {
	version = strings.TrimSpace(version)
	if version == "" {
		version = "dev"
	}
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("code", "table")
	return &DocsHandlers{version: version, policy: policy}
}

// Routes registers the docs endpoints. The router mounts them beneath /api-docs.
func (h *DocsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.index)
	r.Get("/openapi.yaml", h.openAPIYAML)
	r.Get("/openapi.json", h.openAPIJSON)
}

func (h *DocsHandlers) build() {
	h.once.Do(func() {
		h.openapi = buildOpenAPIDocument(h.version, apiRoutes)

		var buf bytes.Buffer
		md := goldmark.New(goldmark.WithExtensions(extension.Table))
		if err := md.Convert([]byte(docsMarkdown(apiRoutes)), &buf); err != nil {
			h.renderErr = fmt.Errorf("render docs: %w", err)
			return
		}
		body := h.policy.SanitizeBytes(buf.Bytes())

		var page bytes.Buffer
		page.WriteString("<!doctype html>\n<html lang=\"en\"><head><meta charset=\"utf-8\"><title>")
		page.WriteString(apiTitle)
		page.WriteString("</title></head><body>\n")
		page.Write(body)
		page.WriteString("</body></html>\n")
		h.page = page.Bytes()
	})
}

func (h *DocsHandlers) index(w http.ResponseWriter, r *http.Request) {
	h.build()
	if h.renderErr != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("docs_unavailable", h.renderErr.Error(), http.StatusInternalServerError))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.page)
}

func (h *DocsHandlers) openAPIYAML(w http.ResponseWriter, r *http.Request) {
	h.build()
	data, err := yaml.Marshal(h.openapi)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("docs_unavailable", "failed to encode openapi document", http.StatusInternalServerError))
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *DocsHandlers) openAPIJSON(w http.ResponseWriter, r *http.Request) {
	h.build()
	data, err := json.MarshalIndent(h.openapi, "", "  ")
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("docs_unavailable", "failed to encode openapi document", http.StatusInternalServerError))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func docsMarkdown(routes []docRoute) string {
	var b strings.Builder
	b.WriteString(docsOverview)
	b.WriteString("\n## Routes\n\n| Method | Path | Description |\n|---|---|---|\n")
	for _, route := range routes {
		summary := route.Summary
		if route.Internal {
			summary += " (internal)"
		}
		fmt.Fprintf(&b, "| %s | `%s` | %s |\n", route.Method, route.Path, summary)
	}
	return b.String()
}

type openAPIDocument struct {
	OpenAPI    string                                 `json:"openapi" yaml:"openapi"`
	Info       openAPIInfo                            `json:"info" yaml:"info"`
	Paths      map[string]map[string]openAPIOperation `json:"paths" yaml:"paths"`
	Components openAPIComponents                      `json:"components" yaml:"components"`
}

type openAPIComponents struct {
	SecuritySchemes map[string]openAPISecurityScheme `json:"securitySchemes" yaml:"securitySchemes"`
}

type openAPISecurityScheme struct {
	Type         string `json:"type" yaml:"type"`
	Scheme       string `json:"scheme" yaml:"scheme"`
	BearerFormat string `json:"bearerFormat" yaml:"bearerFormat"`
}

type openAPIInfo struct {
	Title   string `json:"title" yaml:"title"`
	Version string `json:"version" yaml:"version"`
}

type openAPIOperation struct {
	Summary    string                     `json:"summary" yaml:"summary"`
	Tags       []string                   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Parameters []openAPIParameter         `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Security   []map[string][]string      `json:"security,omitempty" yaml:"security,omitempty"`
	Responses  map[string]openAPIResponse `json:"responses" yaml:"responses"`
}

type openAPIParameter struct {
	Name     string        `json:"name" yaml:"name"`
	In       string        `json:"in" yaml:"in"`
	Required bool          `json:"required" yaml:"required"`
	Schema   openAPISchema `json:"schema" yaml:"schema"`
}

type openAPISchema struct {
	Type string   `json:"type" yaml:"type"`
	Enum []string `json:"enum,omitempty" yaml:"enum,omitempty"`
}

type openAPIResponse struct {
	Description string `json:"description" yaml:"description"`
}

func buildOpenAPIDocument(version string, routes []docRoute) openAPIDocument {
	doc := openAPIDocument{
		OpenAPI:    "3.0.3",
		Info:       openAPIInfo{Title: apiTitle, Version: version},
		Paths:      make(map[string]map[string]openAPIOperation),
		Components: openAPIComponents{SecuritySchemes: map[string]openAPISecurityScheme{
			"oidc": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		}},
	}
	for _, route := range routes {
		op := openAPIOperation{
			Summary:    route.Summary,
			Tags:       []string{route.Tag},
			Parameters: pathParameters(route.Path),
			Responses:  responsesFor(route),
		}
		if route.Internal {
			op.Security = []map[string][]string{{"oidc": {}}}
		}
		ops, ok := doc.Paths[route.Path]
		if !ok {
			ops = make(map[string]openAPIOperation)
			doc.Paths[route.Path] = ops
		}
		ops[strings.ToLower(route.Method)] = op
	}
	return doc
}

func pathParameters(path string) []openAPIParameter {
	var params []openAPIParameter
	if strings.Contains(path, "{side}") {
		params = append(params, openAPIParameter{Name: "side", In: "path", Required: true, Schema: openAPISchema{Type: "string", Enum: []string{"src", "trg"}}})
	}
	if strings.Contains(path, "{id}") {
		params = append(params, openAPIParameter{Name: "id", In: "path", Required: true, Schema: openAPISchema{Type: "integer"}})
	}
	return params
}

func responsesFor(route docRoute) map[string]openAPIResponse {
	responses := map[string]openAPIResponse{
		"default": {Description: "Error envelope {error, message, status}"},
	}
	if route.Status != 0 {
		responses[strconv.Itoa(route.Status)] = openAPIResponse{Description: http.StatusText(route.Status)}
		return responses
	}
	switch route.Method {
	case http.MethodPost:
		responses["201"] = openAPIResponse{Description: "Created"}
	case http.MethodDelete:
		responses["204"] = openAPIResponse{Description: "Deleted"}
	default:
		responses["200"] = openAPIResponse{Description: "OK"}
	}
	return responses
}
