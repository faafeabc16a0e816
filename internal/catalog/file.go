package catalog

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v2"

	"emprofiler/internal/operations"
)

// File is the YAML catalog format. It adds command-backed operations,
// pipelines and legacy aliases to the built-in set.
//
//	operations:
//	  - name: deseq2
//	    command: ["Rscript", "tools/deseq2.R"]
//	    timeout: 10m
//	    parameters:
//	      - {name: counts, type: string, required: true}
//	    outputs: [significant, table]
//	pipelines:
//	  - name: rnaseq-de
//	    best_effort: false
//	    stages:
//	      - {id: de, operation: deseq2}
//	      - id: go
//	        operation: gene-enrichment
//	        bind: {gene_list: de.table}
//	aliases:
//	  rnaseq.diff: deseq2
type File struct {
	Operations []OperationEntry `yaml:"operations"`
	Pipelines  []PipelineEntry  `yaml:"pipelines"`
	Aliases    map[string]string `yaml:"aliases"`
}

// OperationEntry declares an operation backed by an external command
type OperationEntry struct {
	Name        string                     `yaml:"name"`
	Description string                     `yaml:"description"`
	Command     []string                   `yaml:"command"`
	Dir         string                     `yaml:"dir"`
	Env         map[string]string          `yaml:"env"`
	Timeout     time.Duration              `yaml:"timeout"`
	Parameters  operations.ParameterSchema `yaml:"parameters"`
	Outputs     []string                   `yaml:"outputs"`
}

// PipelineEntry declares a pipeline over registered operations
type PipelineEntry struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	BestEffort  bool         `yaml:"best_effort"`
	Stages      []StageEntry `yaml:"stages"`
}

// StageEntry is one pipeline stage. Bind maps a parameter to "stage.field".
type StageEntry struct {
	ID        string                 `yaml:"id"`
	Operation string                 `yaml:"operation"`
	Params    map[string]interface{} `yaml:"params"`
	Bind      map[string]string      `yaml:"bind"`
	After     []string               `yaml:"after"`
	Timeout   time.Duration          `yaml:"timeout"`
}

// LoadFile reads and parses a catalog file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog document. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	var file File
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	for i := range file.Operations {
		entry := &file.Operations[i]
		if entry.Name == "" {
			return nil, fmt.Errorf("operation %d has no name", i)
		}
		if len(entry.Command) == 0 || entry.Command[0] == "" {
			return nil, fmt.Errorf("operation %s has no command", entry.Name)
		}
		for j := range entry.Parameters {
			entry.Parameters[j].Default = normalize(entry.Parameters[j].Default)
		}
	}
	for i := range file.Pipelines {
		for j := range file.Pipelines[i].Stages {
			stage := &file.Pipelines[i].Stages[j]
			if stage.Params != nil {
				stage.Params = normalize(stage.Params).(map[string]interface{})
			}
		}
	}
	return &file, nil
}

// Spec builds the operation spec with a command collaborator
func (e OperationEntry) Spec() operations.OperationSpec {
	return operations.OperationSpec{
		Name:         e.Name,
		Description:  e.Description,
		Parameters:   e.Parameters,
		Outputs:      e.Outputs,
		Timeout:      e.Timeout,
		Collaborator: NewCommandCollaborator(e.Command, e.Dir, e.Env),
	}
}

// Definition validates the entry against resolver
func (e PipelineEntry) Definition(resolver operations.Resolver) (*operations.Definition, error) {
	stages := make([]operations.Stage, 0, len(e.Stages))
	for _, s := range e.Stages {
		stage := operations.Stage{
			ID:        s.ID,
			Operation: s.Operation,
			Params:    operations.Params(s.Params),
			After:     s.After,
			Timeout:   s.Timeout,
		}
		if stage.ID == "" {
			stage.ID = s.Operation
		}

		params := make([]string, 0, len(s.Bind))
		for param := range s.Bind {
			params = append(params, param)
		}
		sort.Strings(params)
		for _, param := range params {
			binding, err := operations.ParseBinding(param, s.Bind[param])
			if err != nil {
				return nil, &operations.DefinitionError{Pipeline: e.Name, Stage: stage.ID, Reason: "malformed binding", Cause: err}
			}
			stage.Bindings = append(stage.Bindings, binding)
		}
		stages = append(stages, stage)
	}

	opts := []operations.DefinitionOption{operations.WithDescription(e.Description)}
	if e.BestEffort {
		opts = append(opts, operations.WithFailurePolicy(operations.BestEffort))
	}
	return operations.NewDefinition(e.Name, stages, resolver, opts...)
}

// normalize converts YAML maps into JSON-shaped values
func normalize(value interface{}) interface{} {
	switch v := value.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			out[fmt.Sprint(k)] = normalize(inner)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			out[k] = normalize(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = normalize(inner)
		}
		return out
	}
	return value
}

// ParseParams decodes a YAML or JSON document holding run parameters
func ParseParams(data []byte) (operations.Params, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse params: %w", err)
	}
	return NormalizeParams(raw), nil
}

// NormalizeParams converts YAML-decoded values into the JSON shapes the
// parameter schemas expect
func NormalizeParams(raw map[string]interface{}) operations.Params {
	params := make(operations.Params, len(raw))
	for k, v := range raw {
		params[k] = normalize(v)
	}
	return params
}

// ParseValue decodes a command-line parameter value as inline YAML, so
// "1000", "true" and "[a, b]" become typed values. Anything that does not
// parse is kept as the literal string.
func ParseValue(s string) interface{} {
	var v interface{}
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return s
	}
	return normalize(v)
}
