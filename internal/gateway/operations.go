package gateway

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Param declares one argument of a resource operation.
type Param struct {
	Name     string
	In       string // "path", "query", or "body"
	Required bool
}

const (
	inPath  = "path"
	inQuery = "query"
	inBody  = "body"
)

// Operation maps an operation name to the downstream request it
// performs. Path templates use {param} placeholders. Adding an
// operation is a data change, not a new branch in the gateway.
type Operation struct {
	Name   string
	Method string
	Path   string
	Params []Param
	// FixedQuery is appended to every invocation of this operation.
	FixedQuery url.Values
}

// Registry holds all known resource operations and allows lookup by
// name. It performs no gateway logic itself.
type Registry struct {
	ops map[string]Operation
}

// NewRegistry registers the given operations by name.
// Operation names must be unique.
func NewRegistry(list ...Operation) *Registry {
	m := make(map[string]Operation)
	for _, op := range list {
		m[op.Name] = op
	}
	return &Registry{ops: m}
}

// Get returns the operation by name or an error if not registered.
func (r *Registry) Get(name string) (Operation, error) {
	op, ok := r.ops[name]
	if !ok {
		return Operation{}, fmt.Errorf("unknown operation: %s", name)
	}
	return op, nil
}

// Build expands the operation's path template and splits the caller's
// arguments into query values and an optional request body. The
// expanded path is rejected if it escapes the API root.
func (op Operation) Build(args map[string]any) (path string, query url.Values, body any, err error) {
	path = op.Path
	query = url.Values{}
	for k, vs := range op.FixedQuery {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	var bodyFields map[string]any

	for _, p := range op.Params {
		raw, ok := args[p.Name]
		if !ok {
			if p.Required {
				return "", nil, nil, fmt.Errorf("missing required parameter: %s", p.Name)
			}
			continue
		}
		switch p.In {
		case inPath:
			val, err := paramString(raw)
			if err != nil {
				return "", nil, nil, fmt.Errorf("parameter %s: %w", p.Name, err)
			}
			path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(val))
		case inQuery:
			val, err := paramString(raw)
			if err != nil {
				return "", nil, nil, fmt.Errorf("parameter %s: %w", p.Name, err)
			}
			query.Set(p.Name, val)
		case inBody:
			if bodyFields == nil {
				bodyFields = make(map[string]any)
			}
			bodyFields[p.Name] = raw
		}
	}

	if strings.Contains(path, "{") {
		return "", nil, nil, fmt.Errorf("unresolved path parameters in %s", op.Name)
	}
	// Path traversal guard.
	if !strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return "", nil, nil, fmt.Errorf("invalid resource path")
	}

	if bodyFields != nil {
		body = bodyFields
	}
	return path, query, body, nil
}

// paramString renders a JSON argument value for use in a path or
// query position. Objects and arrays are rejected.
func paramString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", fmt.Errorf("empty value")
		}
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t)), nil
		}
		return fmt.Sprintf("%v", t), nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("unsupported value type")
	}
}

// DefaultOperations is the stock Canvas resource set. Everything here
// is a plain parameter-driven pass-through; per-operation behavior
// lives entirely in this table.
func DefaultOperations() []Operation {
	return []Operation{
		{
			Name:   "get_my_profile",
			Method: "GET",
			Path:   "/users/self",
		},
		{
			Name:   "list_my_courses",
			Method: "GET",
			Path:   "/courses",
			Params: []Param{
				{Name: "include_concluded", In: inQuery},
			},
		},
		{
			Name:   "get_course_details",
			Method: "GET",
			Path:   "/courses/{course_id}",
			Params: []Param{
				{Name: "course_id", In: inPath, Required: true},
			},
		},
		{
			Name:   "list_assignments",
			Method: "GET",
			Path:   "/courses/{course_id}/assignments",
			Params: []Param{
				{Name: "course_id", In: inPath, Required: true},
				{Name: "include_concluded", In: inQuery},
			},
		},
		{
			Name:   "get_assignment_details",
			Method: "GET",
			Path:   "/courses/{course_id}/assignments/{assignment_id}",
			Params: []Param{
				{Name: "course_id", In: inPath, Required: true},
				{Name: "assignment_id", In: inPath, Required: true},
			},
		},
		{
			Name:   "list_discussions",
			Method: "GET",
			Path:   "/courses/{course_id}/discussion_topics",
			Params: []Param{
				{Name: "course_id", In: inPath, Required: true},
				{Name: "only_announcements", In: inQuery},
			},
		},
		{
			Name:   "get_discussion_details",
			Method: "GET",
			Path:   "/courses/{course_id}/discussion_topics/{discussion_id}",
			Params: []Param{
				{Name: "course_id", In: inPath, Required: true},
				{Name: "discussion_id", In: inPath, Required: true},
			},
		},
		{
			Name:   "list_announcements",
			Method: "GET",
			Path:   "/courses/{course_id}/discussion_topics",
			Params: []Param{
				{Name: "course_id", In: inPath, Required: true},
			},
			FixedQuery: url.Values{"only_announcements": {"true"}},
		},
	}
}
