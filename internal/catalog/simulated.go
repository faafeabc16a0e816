package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"emprofiler/internal/operations"
)

// simulated wraps a canned computation as a collaborator. The built-in
// operations stand in for external tools and return fixed, input-shaped
// results; a deployment replaces them through the YAML catalog.
func simulated(fn func(p operations.Params) operations.Result) operations.Collaborator {
	return operations.CollaboratorFunc(func(ctx context.Context, p operations.Params) (operations.Result, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := fn(p)
		result["status"] = "success"
		return result, nil
	})
}

func stringParam(p operations.Params, key, fallback string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intParam(p operations.Params, key string, fallback int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

func floatParam(p operations.Params, key string, fallback float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return fallback
}

func listParam(p operations.Params, key string) []interface{} {
	switch v := p[key].(type) {
	case []interface{}:
		return v
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	}
	return nil
}

func clusterSizes(cells, clusters int) map[string]interface{} {
	if clusters <= 0 {
		clusters = 1
	}
	sizes := make(map[string]interface{}, clusters)
	for i := 0; i < clusters; i++ {
		sizes[fmt.Sprintf("Cluster_%d", i)] = cells / clusters
	}
	return sizes
}

// param declarations used across the built-in catalog

func required(name string, typ operations.ParameterType, description string) operations.ParameterDefinition {
	return operations.ParameterDefinition{Name: name, Type: typ, Description: description, Required: true}
}

func optional(name string, typ operations.ParameterType, def interface{}, description string) operations.ParameterDefinition {
	return operations.ParameterDefinition{Name: name, Type: typ, Description: description, Default: def}
}

func choice(name string, def string, options ...string) operations.ParameterDefinition {
	return operations.ParameterDefinition{Name: name, Type: operations.TypeString, Default: def, Options: options}
}
