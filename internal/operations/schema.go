package operations

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ParameterType is the declared type of a parameter
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeInteger ParameterType = "integer"
	TypeBoolean ParameterType = "boolean"
	TypeList    ParameterType = "list"
	TypeObject  ParameterType = "object"
	TypeAny     ParameterType = "any"
)

var validate = validator.New()

// ParameterDefinition declares one operation parameter.
// Constraint holds validator tags applied to the value, e.g. "gt=0,lte=1".
type ParameterDefinition struct {
	Name        string        `json:"name" yaml:"name"`
	Type        ParameterType `json:"type" yaml:"type"`
	Description string        `json:"description,omitempty" yaml:"description"`
	Required    bool          `json:"required" yaml:"required"`
	Default     interface{}   `json:"default,omitempty" yaml:"default"`
	Options     []string      `json:"options,omitempty" yaml:"options"`
	Constraint  string        `json:"constraint,omitempty" yaml:"constraint"`
}

// ParameterSchema is the ordered list of parameters an operation accepts
type ParameterSchema []ParameterDefinition

// Lookup returns the definition for name
func (s ParameterSchema) Lookup(name string) (ParameterDefinition, bool) {
	for _, def := range s {
		if def.Name == name {
			return def, true
		}
	}
	return ParameterDefinition{}, false
}

// Names returns parameter names in declaration order
func (s ParameterSchema) Names() []string {
	names := make([]string, len(s))
	for i, def := range s {
		names[i] = def.Name
	}
	return names
}

// Defaults returns a Params populated with every declared default
func (s ParameterSchema) Defaults() Params {
	out := make(Params, len(s))
	for _, def := range s {
		if def.Default != nil {
			out[def.Name] = cloneValue(def.Default)
		}
	}
	return out
}

// Validate checks params against the schema: required parameters are present,
// values have the declared type and satisfy options and constraints, and no
// undeclared parameter is supplied.
func (s ParameterSchema) Validate(params Params) error {
	for _, def := range s {
		value, ok := params[def.Name]
		if !ok || value == nil {
			if def.Required && def.Default == nil {
				return &InvalidParameterError{Field: def.Name, Reason: "required parameter is missing"}
			}
			continue
		}
		if err := def.Check(value); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(params) {
		if _, ok := s.Lookup(name); !ok {
			return &InvalidParameterError{Field: name, Reason: "parameter is not accepted"}
		}
	}
	return nil
}

// Check validates a single value against the definition
func (d ParameterDefinition) Check(value interface{}) error {
	if !matchesType(d.Type, value) {
		return &InvalidParameterError{
			Field:  d.Name,
			Reason: fmt.Sprintf("expected %s, got %s", d.Type, describeType(value)),
		}
	}

	if len(d.Options) > 0 {
		str := fmt.Sprint(value)
		found := false
		for _, opt := range d.Options {
			if opt == str {
				found = true
				break
			}
		}
		if !found {
			return &InvalidParameterError{
				Field:  d.Name,
				Reason: fmt.Sprintf("must be one of [%s]", strings.Join(d.Options, ", ")),
			}
		}
	}

	if d.Constraint != "" {
		if err := checkConstraint(normalizeNumber(value), d.Constraint); err != nil {
			return &InvalidParameterError{Field: d.Name, Reason: constraintReason(err)}
		}
	}
	return nil
}

func (s ParameterSchema) check() error {
	seen := make(map[string]bool, len(s))
	for _, def := range s {
		if def.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[def.Name] {
			return fmt.Errorf("duplicate parameter %q", def.Name)
		}
		seen[def.Name] = true

		switch def.Type {
		case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeList, TypeObject, TypeAny:
		default:
			return fmt.Errorf("parameter %q has unknown type %q", def.Name, def.Type)
		}

		if def.Constraint != "" {
			if err := checkConstraint(zeroValue(def.Type), def.Constraint); err != nil && !isValidationFailure(err) {
				return fmt.Errorf("parameter %q: %w", def.Name, err)
			}
		}

		if def.Default != nil {
			if err := def.Check(def.Default); err != nil {
				return fmt.Errorf("default: %w", err)
			}
		}
	}
	return nil
}

func (s ParameterSchema) clone() ParameterSchema {
	if s == nil {
		return nil
	}
	out := make(ParameterSchema, len(s))
	for i, def := range s {
		def.Options = append([]string(nil), def.Options...)
		def.Default = cloneValue(def.Default)
		out[i] = def
	}
	return out
}

func matchesType(t ParameterType, value interface{}) bool {
	if value == nil {
		return false
	}
	switch t {
	case TypeAny, "":
		return true
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeNumber:
		_, ok := toFloat(value)
		return ok
	case TypeInteger:
		f, ok := toFloat(value)
		return ok && f == math.Trunc(f)
	case TypeList:
		kind := reflect.TypeOf(value).Kind()
		return kind == reflect.Slice || kind == reflect.Array
	case TypeObject:
		rt := reflect.TypeOf(value)
		return rt.Kind() == reflect.Map && rt.Key().Kind() == reflect.String
	}
	return false
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return reflect.ValueOf(v).Convert(reflect.TypeOf(float64(0))).Float(), true
	}
	return 0, false
}

// normalizeNumber lets numeric constraints compare every numeric kind uniformly
func normalizeNumber(value interface{}) interface{} {
	if f, ok := toFloat(value); ok {
		return f
	}
	return value
}

func describeType(value interface{}) string {
	if value == nil {
		return "null"
	}
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if _, ok := toFloat(value); ok {
		return "number"
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Map:
		return "object"
	}
	return fmt.Sprintf("%T", value)
}

// checkConstraint runs validator tags against value. Malformed tags make the
// validator panic; they are reported as errors instead.
func checkConstraint(value interface{}, tag string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid constraint %q: %v", tag, r)
		}
	}()
	return validate.Var(value, tag)
}

func isValidationFailure(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

func zeroValue(t ParameterType) interface{} {
	switch t {
	case TypeNumber, TypeInteger:
		return float64(0)
	case TypeBoolean:
		return false
	case TypeList:
		return []interface{}{}
	case TypeObject:
		return map[string]interface{}{}
	default:
		return ""
	}
}

func constraintReason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("failed constraint %s=%s", fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("failed constraint %s", fe.Tag())
	}
	return err.Error()
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
