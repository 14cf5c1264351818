// Package openapi provides reflective OpenAPI 3.0 specification generation
// for the slipway API. Resource models are plain structs; their schemas are
// extracted from json tags, so the document tracks the code without
// hand-written schema files.
package openapi

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// =============================================================================
// Generator
// =============================================================================

// Generator produces OpenAPI 3.0 specifications by reflecting on registered
// resources.
type Generator struct {
	title       string
	version     string
	description string
	servers     []string
	resources   []ResourceInfo
	mu          sync.RWMutex
	cachedSpec  *openapi3.T
}

// ResourceInfo holds information about a registered resource for OpenAPI
// generation. Paths are emitted relative to the configured server base, so a
// resource named "deployments" with server "/api/v1" documents
// /api/v1/deployments.
type ResourceInfo struct {
	Name           string      // Resource type name (e.g., "deployments")
	Model          interface{} // The model struct for schema extraction
	SupportsFind   bool        // GET /{type} and GET /{type}/{id}
	SupportsCreate bool        // POST /{type}
	SupportsDelete bool        // DELETE /{type}/{id}
	Actions        []ActionInfo
}

// ActionInfo describes a non-CRUD action mounted beside the resource at
// /{type}/{id}/{name}.
type ActionInfo struct {
	Name         string      // Path segment, e.g. "scale"
	Method       string      // HTTP method
	Summary      string
	RequestModel interface{} // Optional JSON body schema
	PlainText    bool        // Response is text/plain instead of JSON:API
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option {
	return func(g *Generator) {
		g.title = title
	}
}

// WithVersion sets the API version.
func WithVersion(version string) Option {
	return func(g *Generator) {
		g.version = version
	}
}

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) {
		g.description = description
	}
}

// WithServer adds a server URL.
func WithServer(url string) Option {
	return func(g *Generator) {
		g.servers = append(g.servers, url)
	}
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:       "Slipway API",
		version:     "1.0.0",
		description: "Single-host app deployer API",
		servers:     []string{"/api/v1"},
		resources:   make([]ResourceInfo, 0),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// RegisterResource adds a resource to the generator for spec generation.
func (g *Generator) RegisterResource(info ResourceInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resources = append(g.resources, info)
	g.cachedSpec = nil // Invalidate cache
}

// Generate produces the complete OpenAPI 3.0 specification.
func (g *Generator) Generate() *openapi3.T {
	g.mu.RLock()
	if g.cachedSpec != nil {
		spec := g.cachedSpec
		g.mu.RUnlock()
		return spec
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring write lock
	if g.cachedSpec != nil {
		return g.cachedSpec
	}

	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: g.description,
		},
		Servers: make(openapi3.Servers, 0, len(g.servers)),
		Paths:   &openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
		},
	}

	for _, url := range g.servers {
		spec.Servers = append(spec.Servers, &openapi3.Server{URL: url})
	}

	g.addCommonSchemas(spec)

	for _, res := range g.resources {
		g.addResourceToSpec(spec, res)
	}

	g.cachedSpec = spec
	return spec
}

// Handler returns an HTTP handler that serves the OpenAPI specification.
func (g *Generator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := g.Generate()

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(spec); err != nil {
			http.Error(w, "Failed to encode OpenAPI spec", http.StatusInternalServerError)
		}
	}
}

// =============================================================================
// Schema Generation
// =============================================================================

// addCommonSchemas adds the shared error and pagination schemas.
func (g *Generator) addCommonSchemas(spec *openapi3.T) {
	spec.Components.Schemas["PaginationMeta"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"total": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}},
				},
				"limit": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}},
				},
				"offset": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}},
				},
			},
		},
	}

	spec.Components.Schemas["Error"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"errors": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"array"},
						Items: &openapi3.SchemaRef{
							Value: &openapi3.Schema{
								Type: &openapi3.Types{"object"},
								Properties: openapi3.Schemas{
									"status": &openapi3.SchemaRef{
										Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
									},
									"title": &openapi3.SchemaRef{
										Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
									},
									"detail": &openapi3.SchemaRef{
										Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

// addResourceToSpec adds paths and schemas for a resource.
func (g *Generator) addResourceToSpec(spec *openapi3.T, res ResourceInfo) {
	basePath := "/" + res.Name

	attributesSchema := g.extractSchema(res.Model)
	schemaName := capitalize(singularize(res.Name))

	spec.Components.Schemas[schemaName+"Attributes"] = attributesSchema

	spec.Components.Schemas[schemaName] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"type": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"string"},
						Enum: []interface{}{res.Name},
					},
				},
				"id": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
				},
				"attributes": &openapi3.SchemaRef{
					Ref: "#/components/schemas/" + schemaName + "Attributes",
				},
			},
			Required: []string{"type", "id"},
		},
	}

	spec.Components.Schemas[schemaName+"Response"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"data": &openapi3.SchemaRef{
					Ref: "#/components/schemas/" + schemaName,
				},
			},
		},
	}

	spec.Components.Schemas[schemaName+"ListResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"data": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"array"},
						Items: &openapi3.SchemaRef{
							Ref: "#/components/schemas/" + schemaName,
						},
					},
				},
				"meta": &openapi3.SchemaRef{
					Ref: "#/components/schemas/PaginationMeta",
				},
			},
		},
	}

	collectionPath := &openapi3.PathItem{}
	if res.SupportsFind {
		collectionPath.Get = g.createListOperation(res)
	}
	if res.SupportsCreate {
		collectionPath.Post = g.createCreateOperation(res, schemaName)
	}
	spec.Paths.Set(basePath, collectionPath)

	itemPath := &openapi3.PathItem{
		Parameters: idPathParameters(),
	}
	if res.SupportsFind {
		itemPath.Get = g.createGetOperation(res, schemaName)
	}
	if res.SupportsDelete {
		itemPath.Delete = g.createDeleteOperation(res, schemaName)
	}
	spec.Paths.Set(basePath+"/{id}", itemPath)

	for _, action := range res.Actions {
		g.addActionPath(spec, res, action)
	}
}

// addActionPath adds the path item for one non-CRUD action.
func (g *Generator) addActionPath(spec *openapi3.T, res ResourceInfo, action ActionInfo) {
	op := &openapi3.Operation{
		OperationID: action.Name + capitalize(singularize(res.Name)),
		Summary:     action.Summary,
		Tags:        []string{capitalize(res.Name)},
		Responses:   &openapi3.Responses{},
	}

	if action.RequestModel != nil {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: &openapi3.RequestBody{
				Required: true,
				Content: openapi3.Content{
					"application/json": &openapi3.MediaType{
						Schema: g.extractSchema(action.RequestModel),
					},
				},
			},
		}
	}

	if action.PlainText {
		op.Responses.Set("200", &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: strPtr("Plain text response"),
				Content: openapi3.Content{
					"text/plain": &openapi3.MediaType{
						Schema: &openapi3.SchemaRef{
							Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
						},
					},
				},
			},
		})
	}

	item := &openapi3.PathItem{
		Parameters: idPathParameters(),
	}
	switch strings.ToUpper(action.Method) {
	case http.MethodPost:
		item.Post = op
	case http.MethodDelete:
		item.Delete = op
	case http.MethodPatch:
		item.Patch = op
	default:
		item.Get = op
	}

	spec.Paths.Set("/"+res.Name+"/{id}/"+action.Name, item)
}

// extractSchema extracts an OpenAPI schema from a Go struct.
func (g *Generator) extractSchema(model interface{}) *openapi3.SchemaRef {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
		}

		propSchema := g.goTypeToSchema(field.Type)
		if propSchema != nil {
			schema.Properties[name] = propSchema
		}
	}

	return &openapi3.SchemaRef{Value: schema}
}

// goTypeToSchema converts a Go type to an OpenAPI schema.
func (g *Generator) goTypeToSchema(t reflect.Type) *openapi3.SchemaRef {
	switch t.Kind() {
	case reflect.String:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}}

	case reflect.Int64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}

	case reflect.Float32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "float"}}

	case reflect.Float64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "double"}}

	case reflect.Bool:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}

	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: g.goTypeToSchema(t.Elem()),
			},
		}

	case reflect.Map:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:                 &openapi3.Types{"object"},
				AdditionalProperties: openapi3.AdditionalProperties{Schema: g.goTypeToSchema(t.Elem())},
			},
		}

	case reflect.Ptr:
		schema := g.goTypeToSchema(t.Elem())
		if schema != nil && schema.Value != nil {
			schema.Value.Nullable = true
		}
		return schema

	case reflect.Struct:
		// time.Time marshals as an RFC 3339 string
		if t == reflect.TypeOf(time.Time{}) {
			return &openapi3.SchemaRef{
				Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"},
			}
		}
		return g.extractSchema(reflect.New(t).Interface())

	default:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}
}

// =============================================================================
// Operation Generation
// =============================================================================

func (g *Generator) createListOperation(res ResourceInfo) *openapi3.Operation {
	return &openapi3.Operation{
		OperationID: "list" + capitalize(res.Name),
		Summary:     "List " + res.Name,
		Tags:        []string{capitalize(res.Name)},
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{
				Value: &openapi3.Parameter{
					Name: "page[size]",
					In:   "query",
					Schema: &openapi3.SchemaRef{
						Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Default: 100},
					},
				},
			},
			&openapi3.ParameterRef{
				Value: &openapi3.Parameter{
					Name: "page[number]",
					In:   "query",
					Schema: &openapi3.SchemaRef{
						Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Default: 1},
					},
				},
			},
		},
		Responses: &openapi3.Responses{},
	}
}

func (g *Generator) createGetOperation(res ResourceInfo, schemaName string) *openapi3.Operation {
	return &openapi3.Operation{
		OperationID: "get" + schemaName,
		Summary:     "Get a " + singularize(res.Name),
		Tags:        []string{capitalize(res.Name)},
		Responses:   &openapi3.Responses{},
	}
}

func (g *Generator) createCreateOperation(res ResourceInfo, schemaName string) *openapi3.Operation {
	return &openapi3.Operation{
		OperationID: "create" + schemaName,
		Summary:     "Create a " + singularize(res.Name),
		Tags:        []string{capitalize(res.Name)},
		RequestBody: &openapi3.RequestBodyRef{
			Value: &openapi3.RequestBody{
				Required: true,
				Content: openapi3.Content{
					"application/vnd.api+json": &openapi3.MediaType{
						Schema: &openapi3.SchemaRef{
							Ref: "#/components/schemas/" + schemaName + "Response",
						},
					},
				},
			},
		},
		Responses: &openapi3.Responses{},
	}
}

func (g *Generator) createDeleteOperation(res ResourceInfo, schemaName string) *openapi3.Operation {
	return &openapi3.Operation{
		OperationID: "delete" + schemaName,
		Summary:     "Delete a " + singularize(res.Name),
		Tags:        []string{capitalize(res.Name)},
		Responses:   &openapi3.Responses{},
	}
}

// =============================================================================
// Helpers
// =============================================================================

func idPathParameters() openapi3.Parameters {
	return openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:     "id",
				In:       "path",
				Required: true,
				Schema: &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
				},
			},
		},
	}
}

func strPtr(s string) *string {
	return &s
}

// capitalize returns the string with the first letter capitalized.
func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// singularize performs basic singularization (removes trailing 's').
func singularize(s string) string {
	if strings.HasSuffix(s, "ies") {
		return s[:len(s)-3] + "y"
	}
	if strings.HasSuffix(s, "es") {
		return s[:len(s)-2]
	}
	if strings.HasSuffix(s, "s") {
		return s[:len(s)-1]
	}
	return s
}
