package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errType = reflect.TypeOf((*error)(nil)).Elem()

// Param is one argument of a registered method, built once at registration
// time from the method's argument struct (spec.md §9: "an explicit,
// declarative method descriptor ... built once; dispatch is table-driven").
type Param struct {
	Name       string
	FieldIndex int
	Type       reflect.Type
	Required   bool
	Default    interface{}
}

// Example is one documented call/response pair, published by rpc.discover
// and the OpenAPI/OpenRPC generators (spec.md §4.5, §4.6).
type Example struct {
	Name   string
	Params map[string]interface{}
	Result interface{}
}

// Method is a registered RPC method: name, callable, declarative parameter
// list, declared errors, and documentation metadata (spec.md §3, §4.5).
type Method struct {
	Name        string
	Summary     string
	Description string
	Deprecated  bool
	Tags        []string
	Examples    []Example
	Errors      []ErrorSpec

	// Crontab, if non-empty, lets the task scheduler (package scheduler)
	// fire this method on a recurring schedule (spec.md §4.7).
	Crontab          string
	CrontabDoNotMiss bool
	CrontabDateAttr  string

	fn         reflect.Value
	argsType   reflect.Type
	resultType reflect.Type
	params     []Param
	validate   *validator.Validate
}

// MethodOption customizes a Method at registration time.
type MethodOption func(*Method)

func WithSummary(s string) MethodOption         { return func(m *Method) { m.Summary = s } }
func WithDescription(s string) MethodOption     { return func(m *Method) { m.Description = s } }
func WithDeprecated() MethodOption              { return func(m *Method) { m.Deprecated = true } }
func WithTags(tags ...string) MethodOption      { return func(m *Method) { m.Tags = append(m.Tags, tags...) } }
func WithExamples(ex ...Example) MethodOption   { return func(m *Method) { m.Examples = append(m.Examples, ex...) } }
func WithErrors(errs ...ErrorSpec) MethodOption { return func(m *Method) { m.Errors = append(m.Errors, errs...) } }
func WithCrontab(spec string) MethodOption      { return func(m *Method) { m.Crontab = spec } }
func WithCrontabDoNotMiss() MethodOption        { return func(m *Method) { m.CrontabDoNotMiss = true } }
func WithCrontabDateAttr(name string) MethodOption {
	return func(m *Method) { m.CrontabDateAttr = name }
}

// newMethod builds a Method descriptor from fn, which must have the shape
// func(context.Context, ArgsStruct) (Result, error). ArgsStruct's exported
// fields become the method's declared parameters, in field order; a field
// tagged `default:"..."` is optional and falls back to that literal (see
// parseDefault), a field tagged `rpc:"optional"` is optional with its Go
// zero value as the default, and any other field is required and must be
// supplied.
func newMethod(name string, fn interface{}, opts ...MethodOption) (*Method, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("rpc: method %q: fn must be a function, got %s", name, ft.Kind())
	}
	if ft.NumIn() != 2 || !ft.In(0).Implements(ctxType) {
		return nil, fmt.Errorf("rpc: method %q: fn must be func(context.Context, ArgsStruct) (Result, error)", name)
	}
	if ft.NumOut() != 2 || !ft.Out(1).Implements(errType) {
		return nil, fmt.Errorf("rpc: method %q: fn must return (Result, error)", name)
	}
	argsType := ft.In(1)
	if argsType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: method %q: argument type must be a struct, got %s", name, argsType.Kind())
	}

	m := &Method{
		Name:       name,
		fn:         fv,
		argsType:   argsType,
		resultType: ft.Out(0),
		validate:   validator.New(),
	}
	for i := 0; i < argsType.NumField(); i++ {
		f := argsType.Field(i)
		if !f.IsExported() {
			continue
		}
		m.params = append(m.params, paramFromField(i, f))
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func paramFromField(index int, f reflect.StructField) Param {
	name := f.Name
	if tag, ok := f.Tag.Lookup("json"); ok {
		parts := strings.Split(tag, ",")
		if parts[0] != "" && parts[0] != "-" {
			name = parts[0]
		}
	}

	p := Param{Name: name, FieldIndex: index, Type: f.Type, Required: true}
	if def, ok := f.Tag.Lookup("default"); ok {
		p.Required = false
		p.Default = parseDefault(def, f.Type)
	}
	if f.Tag.Get("rpc") == "optional" {
		p.Required = false
	}
	return p
}

// parseDefault interprets a `default:"..."` tag literal as the field's own
// type where possible (numbers, bools, JSON shapes), so binding can hand
// it to coerceInto exactly as if the caller had supplied it on the wire.
// A literal that isn't valid JSON for the target type is kept as a plain
// string.
func parseDefault(literal string, t reflect.Type) interface{} {
	target := reflect.New(t)
	if err := json.Unmarshal([]byte(literal), target.Interface()); err == nil {
		return target.Elem().Interface()
	}
	return literal
}

// Params returns the method's declared parameter list, in struct-field
// order (used for positional calling convention and for documentation
// generation).
func (m *Method) Params() []Param { return append([]Param(nil), m.params...) }

// ResultType exposes the Go type of the method's return value, used by the
// OpenAPI/OpenRPC generators to produce a result schema.
func (m *Method) ResultType() reflect.Type { return m.resultType }
