package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/genai"
)

// Tool is a capability the model may call. Call never fails: problems are
// reported in the returned text so the model can explain them to the user.
type Tool interface {
	Declaration() *genai.FunctionDeclaration
	Call(ctx context.Context, userID string, args map[string]any) string
}

// Registry holds the tools offered to the model, in declaration order.
type Registry struct {
	tools map[string]Tool
	decls []*genai.FunctionDeclaration
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		decl := t.Declaration()
		if _, dup := r.tools[decl.Name]; dup {
			panic(fmt.Sprintf("agent: duplicate tool %q", decl.Name))
		}
		r.tools[decl.Name] = t
		r.decls = append(r.decls, decl)
	}
	return r
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations returns the model-facing tool list, or nil when empty.
func (r *Registry) Declarations() []*genai.Tool {
	if len(r.decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: r.decls}}
}

// Call runs the named tool. ok is false for names the registry does not hold.
func (r *Registry) Call(ctx context.Context, userID, name string, args map[string]any) (result string, ok bool) {
	t, ok := r.tools[name]
	if !ok {
		return fmt.Sprintf("Unknown tool %q. Available tools: %s.", name, strings.Join(r.Names(), ", ")), false
	}
	return t.Call(ctx, userID, args), true
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// stringsArg accepts a JSON array of strings. A missing key yields nil so
// callers can tell "not given" from "empty".
func stringsArg(args map[string]any, key string) []string {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil
	}
	out := []string{}
	switch v := raw.(type) {
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func stringSchema(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: description}
}
