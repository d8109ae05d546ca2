// Package handlers holds routes that sit beside the domain APIs: the OpenAPI
// document and its browser view.
package handlers

import (
	"net/http"
	"sync"

	"github.com/docedit/docedit/internal/document"
	"github.com/docedit/docedit/internal/document/handler"
	"github.com/docedit/docedit/internal/rewrite"
	"github.com/docedit/docedit/internal/search"
	"github.com/docedit/docedit/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"
)

// RegisterSwagger serves
//   - GET /swagger/index.html: Swagger UI loading the OpenAPI document
//   - GET /swagger/doc.json: the OpenAPI document
func RegisterSwagger(rg gin.IRouter) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})
	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, OpenAPI())
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>docedit API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

var (
	openAPIOnce sync.Once
	openAPIDoc  map[string]any
)

// OpenAPI returns the API description. Schemas are reflected from the wire
// types so they cannot drift from the handlers.
func OpenAPI() map[string]any {
	openAPIOnce.Do(func() { openAPIDoc = buildOpenAPI() })
	return openAPIDoc
}

func schemaOf(v any) *jsonschema.Schema {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true, AllowAdditionalProperties: true}
	s := r.Reflect(v)
	s.Version = ""
	return s
}

func jsonBody(s *jsonschema.Schema) map[string]any {
	return map[string]any{"content": map[string]any{"application/json": map[string]any{"schema": s}}}
}

func reply(desc string, s *jsonschema.Schema) map[string]any {
	out := map[string]any{"description": desc}
	if s != nil {
		out["content"] = map[string]any{"application/json": map[string]any{"schema": s}}
	}
	return out
}

func buildOpenAPI() map[string]any {
	doc := schemaOf(&document.Document{})
	docs := &jsonschema.Schema{Type: "array", Items: doc}
	snap := schemaOf(&document.Snapshot{})
	patch := schemaOf(&document.Patch{})
	errs := schemaOf(&handler.ErrorsResponse{})
	msg := schemaOf(&handler.MessageResponse{})
	idParam := []map[string]any{{"name": "id", "in": "path", "required": true, "schema": map[string]string{"type": "string"}}}

	return map[string]any{
		"openapi": "3.0.0",
		"info":    map[string]any{"title": "docedit", "version": "v1.0.0"},
		"paths": map[string]any{
			"/api/documents": map[string]any{
				"get": map[string]any{
					"summary":   "List documents, newest update first",
					"responses": map[string]any{"200": reply("documents", docs)},
				},
				"post": map[string]any{
					"summary":     "Create a document",
					"requestBody": jsonBody(snap),
					"responses": map[string]any{
						"201": reply("created", doc),
						"400": reply("invalid payload", errs),
					},
				},
			},
			"/api/documents/{id}": map[string]any{
				"parameters": idParam,
				"get": map[string]any{
					"summary":   "Get a document",
					"responses": map[string]any{"200": reply("document", doc), "404": reply("not found", msg)},
				},
				"put": map[string]any{
					"summary":     "Update title and/or content",
					"requestBody": jsonBody(patch),
					"responses": map[string]any{
						"200": reply("updated", doc),
						"400": reply("invalid payload", errs),
						"404": reply("not found", msg),
					},
				},
				"delete": map[string]any{
					"summary": "Delete a document",
					"responses": map[string]any{
						"200": reply("deleted", schemaOf(&handler.DeleteResponse{})),
						"404": reply("not found", msg),
					},
				},
			},
			"/api/documents/{id}/revisions": map[string]any{
				"parameters": idParam,
				"get": map[string]any{
					"summary":   "List archived revisions, newest first",
					"responses": map[string]any{"200": reply("revisions", &jsonschema.Schema{Type: "array", Items: schemaOf(&storage.Revision{})})},
				},
			},
			"/api/rewrite": map[string]any{
				"post": map[string]any{
					"summary":     "Rewrite a text selection",
					"requestBody": jsonBody(schemaOf(&rewrite.Request{})),
					"responses": map[string]any{
						"200": reply("rewritten", schemaOf(&rewrite.Response{})),
						"400": reply("invalid payload", errs),
						"502": reply("upstream failure", msg),
						"503": reply("not configured", msg),
					},
				},
			},
			"/api/search": map[string]any{
				"get": map[string]any{
					"summary": "Search titles and content",
					"parameters": []map[string]any{
						{"name": "q", "in": "query", "schema": map[string]string{"type": "string"}},
						{"name": "limit", "in": "query", "schema": map[string]any{"type": "integer", "minimum": 1, "maximum": search.MaxLimit}},
					},
					"responses": map[string]any{"200": reply("results", schemaOf(&search.Response{}))},
				},
			},
			"/health":  map[string]any{"get": map[string]any{"summary": "Liveness check", "responses": map[string]any{"200": reply("healthy", nil)}}},
			"/ready":   map[string]any{"get": map[string]any{"summary": "Readiness check", "responses": map[string]any{"200": reply("ready", nil), "503": reply("not ready", nil)}}},
			"/metrics": map[string]any{"get": map[string]any{"summary": "Prometheus metrics", "responses": map[string]any{"200": reply("metrics", nil)}}},
		},
	}
}
