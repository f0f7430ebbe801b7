package rpchttp

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipapp-go/ipapp/rpc"
)

type address struct {
	City string `json:"city"`
	Zip  string `json:"zip,omitempty"`
}

type person struct {
	Name    string    `json:"name"`
	Age     int       `json:"age"`
	Home    address   `json:"home"`
	Work    address   `json:"work"`
	Born    time.Time `json:"born"`
	Avatar  []byte    `json:"avatar"`
	Aliases []string  `json:"aliases"`
}

func TestSchemaForSharesNamedStructsByRef(t *testing.T) {
	b := newSchemaBuilder()
	s := b.schemaFor(reflect.TypeOf(person{}))

	assert.Equal(t, "#/components/schemas/person", s.Ref)

	p, ok := b.components["person"]
	require.True(t, ok)
	assert.Equal(t, "object", p.Type)

	// Both address fields point at one shared component.
	assert.Equal(t, "#/components/schemas/address", p.Properties["home"].Ref)
	assert.Equal(t, "#/components/schemas/address", p.Properties["work"].Ref)
	_, ok = b.components["address"]
	require.True(t, ok)

	assert.Equal(t, "date-time", p.Properties["born"].Format)
	assert.Equal(t, "base64", p.Properties["avatar"].Format)
	assert.Equal(t, "array", p.Properties["aliases"].Type)
	assert.Equal(t, "string", p.Properties["aliases"].Items.Type)
}

func TestSchemaForOmitemptyFieldsAreOptional(t *testing.T) {
	b := newSchemaBuilder()
	b.schemaFor(reflect.TypeOf(address{}))
	a := b.components["address"]
	assert.Contains(t, a.Required, "city")
	assert.NotContains(t, a.Required, "zip")
}

func TestSchemaForRecursiveTypeTerminates(t *testing.T) {
	type node struct {
		Value string  `json:"value"`
		Next  *node   `json:"next,omitempty"`
		Kids  []*node `json:"kids,omitempty"`
	}
	b := newSchemaBuilder()
	s := b.schemaFor(reflect.TypeOf(node{}))
	assert.Equal(t, "#/components/schemas/node", s.Ref)
	n := b.components["node"]
	assert.Equal(t, "#/components/schemas/node", n.Properties["next"].Ref)
}

func TestOpenAPIDocumentHasPathPerMethod(t *testing.T) {
	reg := rpc.NewRegistry()
	require.NoError(t, reg.Register("find_person", func(_ context.Context, a struct {
		Name string `json:"name"`
	}) (person, error) {
		return person{Name: a.Name}, nil
	}, rpc.WithSummary("look someone up"), rpc.WithTags("people")))

	d := newDiscovery(reg)
	d.RESTBase = "/api"
	doc := d.OpenAPIDocument()

	buf, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"/api/find_person"`)
	assert.Contains(t, string(buf), `"#/components/schemas/person"`)
	assert.Contains(t, string(buf), `"look someone up"`)
	assert.Contains(t, string(buf), `"people"`)
}

func TestOpenRPCDocumentCarriesSchemasAndExamples(t *testing.T) {
	reg := rpc.NewRegistry()
	require.NoError(t, reg.Register("find_person", func(_ context.Context, a struct {
		Name string `json:"name"`
	}) (person, error) {
		return person{Name: a.Name}, nil
	}, rpc.WithExamples(rpc.Example{
		Name:   "lookup",
		Params: map[string]interface{}{"name": "Ada"},
		Result: map[string]interface{}{"name": "Ada"},
	})))

	d := newDiscovery(reg)
	doc := d.Document()

	buf, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"examples"`)
	assert.Contains(t, string(buf), `"lookup"`)
	assert.Contains(t, string(buf), `"#/components/schemas/person"`)
}
