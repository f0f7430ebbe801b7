package rpchttp

import (
	"encoding/json"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ipapp-go/ipapp/rpc"
)

// Discovery generates the documentation surfaces of spec.md §4.6: the
// OpenRPC document rpc.discover returns, an OpenAPI rendering of the same
// method set for the positional-RPC mount, and the static Swagger/ReDoc
// viewer pages that point at them. Parameter and result schemas are
// derived from each method's declared Go types, with named struct types
// shared through a components section by $ref.
type Discovery struct {
	registry *rpc.Registry

	// Title/Version feed both documents' info block.
	Title   string
	Version string
	// RESTBase is the positional-RPC mount the OpenAPI paths are rooted
	// at; MountRESTRPC sets it.
	RESTBase string
}

func newDiscovery(registry *rpc.Registry) *Discovery {
	return &Discovery{registry: registry, Title: "rpc", Version: "1", RESTBase: "/rpc"}
}

type openrpcDoc struct {
	OpenRPC    string          `json:"openrpc"`
	Info       docInfo         `json:"info"`
	Methods    []openrpcMethod `json:"methods"`
	Components *docComponents  `json:"components,omitempty"`
}

type docInfo struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

type docComponents struct {
	Schemas map[string]*jsonSchema `json:"schemas,omitempty"`
}

type openrpcMethod struct {
	Name        string              `json:"name"`
	Summary     string              `json:"summary,omitempty"`
	Description string              `json:"description,omitempty"`
	Deprecated  bool                `json:"deprecated,omitempty"`
	Tags        []openrpcTag        `json:"tags,omitempty"`
	Params      []openrpcParam      `json:"params"`
	Result      *openrpcResult      `json:"result,omitempty"`
	Errors      []openrpcErrorEntry `json:"errors,omitempty"`
	Examples    []openrpcExample    `json:"examples,omitempty"`
}

type openrpcTag struct {
	Name string `json:"name"`
}

type openrpcParam struct {
	Name     string      `json:"name"`
	Required bool        `json:"required"`
	Schema   *jsonSchema `json:"schema,omitempty"`
}

type openrpcResult struct {
	Name   string      `json:"name"`
	Schema *jsonSchema `json:"schema,omitempty"`
}

type openrpcErrorEntry struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type openrpcExample struct {
	Name   string                `json:"name,omitempty"`
	Params []openrpcExampleParam `json:"params"`
	Result *openrpcExampleValue  `json:"result,omitempty"`
}

type openrpcExampleParam struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

type openrpcExampleValue struct {
	Value interface{} `json:"value"`
}

// Document builds the rpc.discover response: every registered method with
// its declared parameters (schemas included), result schema, declared
// errors, examples, and documentation metadata (spec.md §4.6
// "rpc.discover").
func (d *Discovery) Document() map[string]interface{} {
	b := newSchemaBuilder()
	doc := openrpcDoc{OpenRPC: "1.2.6", Info: docInfo{Title: d.Title, Version: d.Version}}
	for _, m := range d.registry.Methods() {
		om := openrpcMethod{
			Name:        m.Name,
			Summary:     m.Summary,
			Description: m.Description,
			Deprecated:  m.Deprecated,
			Params:      []openrpcParam{},
		}
		for _, t := range m.Tags {
			om.Tags = append(om.Tags, openrpcTag{Name: t})
		}
		for _, p := range m.Params() {
			om.Params = append(om.Params, openrpcParam{Name: p.Name, Required: p.Required, Schema: b.schemaFor(p.Type)})
		}
		om.Result = &openrpcResult{Name: "result", Schema: b.schemaFor(m.ResultType())}
		for _, e := range m.Errors {
			om.Errors = append(om.Errors, openrpcErrorEntry{Code: e.Code, Message: e.Message})
		}
		for _, ex := range m.Examples {
			oe := openrpcExample{Name: ex.Name, Params: []openrpcExampleParam{}}
			for name, value := range ex.Params {
				oe.Params = append(oe.Params, openrpcExampleParam{Name: name, Value: value})
			}
			if ex.Result != nil {
				oe.Result = &openrpcExampleValue{Value: ex.Result}
			}
			om.Examples = append(om.Examples, oe)
		}
		doc.Methods = append(doc.Methods, om)
	}
	if len(b.components) > 0 {
		doc.Components = &docComponents{Schemas: b.components}
	}
	return toGeneric(doc)
}

type openapiDoc struct {
	OpenAPI    string                 `json:"openapi"`
	Info       docInfo                `json:"info"`
	Paths      map[string]openapiPath `json:"paths"`
	Components *docComponents         `json:"components,omitempty"`
}

type openapiPath struct {
	Post *openapiOperation `json:"post,omitempty"`
}

type openapiOperation struct {
	OperationID string                     `json:"operationId"`
	Summary     string                     `json:"summary,omitempty"`
	Description string                     `json:"description,omitempty"`
	Deprecated  bool                       `json:"deprecated,omitempty"`
	Tags        []string                   `json:"tags,omitempty"`
	RequestBody *openapiBody               `json:"requestBody,omitempty"`
	Responses   map[string]openapiResponse `json:"responses"`
}

type openapiBody struct {
	Required bool                    `json:"required"`
	Content  map[string]openapiMedia `json:"content"`
}

type openapiResponse struct {
	Description string                  `json:"description"`
	Content     map[string]openapiMedia `json:"content,omitempty"`
}

type openapiMedia struct {
	Schema *jsonSchema `json:"schema,omitempty"`
}

var errorEnvelopeSchema = &jsonSchema{
	Type: "object",
	Properties: map[string]*jsonSchema{
		"error": {
			Type: "object",
			Properties: map[string]*jsonSchema{
				"code":    {Type: "integer"},
				"message": {Type: "string"},
				"data":    {},
			},
			Required: []string{"code", "message"},
		},
	},
	Required: []string{"error"},
}

// OpenAPIDocument renders the positional-RPC surface as an OpenAPI 3
// document: one POST path per method under RESTBase, request body built
// from the declared parameters, bare result on 200, the {error:{...}}
// envelope otherwise (spec.md §4.6 "Discovery surfaces").
func (d *Discovery) OpenAPIDocument() map[string]interface{} {
	b := newSchemaBuilder()
	doc := openapiDoc{
		OpenAPI: "3.0.3",
		Info:    docInfo{Title: d.Title, Version: d.Version},
		Paths:   map[string]openapiPath{},
	}
	base := strings.TrimSuffix(d.RESTBase, "/")
	for _, m := range d.registry.Methods() {
		body := &jsonSchema{Type: "object", Properties: map[string]*jsonSchema{}}
		for _, p := range m.Params() {
			body.Properties[p.Name] = b.schemaFor(p.Type)
			if p.Required {
				body.Required = append(body.Required, p.Name)
			}
		}
		op := &openapiOperation{
			OperationID: m.Name,
			Summary:     m.Summary,
			Description: m.Description,
			Deprecated:  m.Deprecated,
			Tags:        m.Tags,
			RequestBody: &openapiBody{
				Required: true,
				Content:  map[string]openapiMedia{"application/json": {Schema: body}},
			},
			Responses: map[string]openapiResponse{
				"200": {
					Description: "result",
					Content:     map[string]openapiMedia{"application/json": {Schema: b.schemaFor(m.ResultType())}},
				},
				"default": {
					Description: "error",
					Content:     map[string]openapiMedia{"application/json": {Schema: errorEnvelopeSchema}},
				},
			},
		}
		doc.Paths[base+"/"+m.Name] = openapiPath{Post: op}
	}
	if len(b.components) > 0 {
		doc.Components = &docComponents{Schemas: b.components}
	}
	return toGeneric(doc)
}

func toGeneric(doc interface{}) map[string]interface{} {
	buf, _ := json.Marshal(doc)
	var generic map[string]interface{}
	_ = json.Unmarshal(buf, &generic)
	return generic
}

// DiscoverFunc adapts Document to rpc.DiscoverFunc, letting rpc/jsonrpc
// back its top-level rpc.discover method with this same document.
func (d *Discovery) DiscoverFunc() rpc.DiscoverFunc {
	return func() interface{} { return d.Document() }
}

// ServeOpenAPIJSON serves the OpenAPI rendering as JSON.
func (d *Discovery) ServeOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.OpenAPIDocument())
}

// ServeOpenAPIYAML serves the same document re-encoded as YAML, using the
// pack's YAML library (gopkg.in/yaml.v3) rather than hand-rolling a
// JSON-to-YAML pass.
func (d *Discovery) ServeOpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-yaml")
	_ = yaml.NewEncoder(w).Encode(d.OpenAPIDocument())
}

const swaggerPage = `<!DOCTYPE html>
<html><head><title>rpc API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css" />
</head><body><div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
<script>window.onload = () => SwaggerUIBundle({url: "openapi.json", dom_id: "#swagger-ui"})</script>
</body></html>`

const redocPage = `<!DOCTYPE html>
<html><head><title>rpc API</title></head>
<body><redoc spec-url="openapi.json"></redoc>
<script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
</body></html>`

// ServeSwaggerUI serves a static Swagger UI page pointed at openapi.json.
func (d *Discovery) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(swaggerPage))
}

// ServeRedoc serves a static ReDoc page pointed at openapi.json.
func (d *Discovery) ServeRedoc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(redocPage))
}
