// Package ondemand runs the deterministic, side-effect-free transformations
// behind on-demand feature views. The same Transform runs unchanged in the
// online serving path (one row per request) and in the offline join path
// (row-wise over the joined table), which is what keeps training and serving
// consistent.
package ondemand

import (
	"math"
	"sort"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/featuremesh/featurestore-go/api"
	"github.com/featuremesh/featurestore-go/constants"
	"github.com/featuremesh/featurestore-go/fserror"
)

// Transform computes one output row from one resolved input row. Implementations
// must be deterministic and must not read or write anything beyond their
// declared inputs and outputs.
type Transform interface {
	Apply(row map[string]interface{}) (map[string]interface{}, error)
}

// FuncTransform adapts a plain function to Transform.
type FuncTransform func(row map[string]interface{}) (map[string]interface{}, error)

func (f FuncTransform) Apply(row map[string]interface{}) (map[string]interface{}, error) {
	return f(row)
}

// Pure math helpers available to expressions.
var builtinFuncs = map[string]interface{}{
	"log":   math.Log,
	"log2":  math.Log2,
	"log10": math.Log10,
	"exp":   math.Exp,
	"sqrt":  math.Sqrt,
	"pow":   math.Pow,
	"floor": math.Floor,
	"ceil":  math.Ceil,
}

type exprOutput struct {
	name    string
	program *vm.Program
}

// ExprTransform evaluates one compiled expr program per output field.
// Programs are compiled once at registry load and never mutate their
// environment, so an ExprTransform is safe for concurrent use.
type ExprTransform struct {
	viewName  string
	schema    []api.Field
	outputs   []exprOutput
	variables []string
}

func NewExprTransform(viewName string, schema []api.Field, expressions map[string]string) (*ExprTransform, error) {
	if len(expressions) != len(schema) {
		return nil, fserror.Validationf("view %q declares %d output fields but %d expressions", viewName, len(schema), len(expressions))
	}

	t := &ExprTransform{
		viewName: viewName,
		schema:   schema,
	}

	varSet := make(map[string]struct{})
	for _, field := range schema {
		code, ok := expressions[field.Name]
		if !ok {
			return nil, fserror.Validationf("view %q has no expression for output field %q", viewName, field.Name)
		}

		program, err := expr.Compile(code)
		if err != nil {
			return nil, fserror.Validationf("view %q, field %q: %v", viewName, field.Name, err)
		}

		vars, err := ExtractVariables(code)
		if err != nil {
			return nil, fserror.Validationf("view %q, field %q: %v", viewName, field.Name, err)
		}
		for _, v := range vars {
			varSet[v] = struct{}{}
		}

		t.outputs = append(t.outputs, exprOutput{name: field.Name, program: program})
	}

	for v := range varSet {
		t.variables = append(t.variables, v)
	}
	sort.Strings(t.variables)

	return t, nil
}

// Variables returns the sorted union of input variables referenced by the
// transform's expressions.
func (t *ExprTransform) Variables() []string {
	return t.variables
}

func (t *ExprTransform) Apply(row map[string]interface{}) (map[string]interface{}, error) {
	env := make(map[string]interface{}, len(row)+len(builtinFuncs))
	for name, fn := range builtinFuncs {
		env[name] = fn
	}
	for name, value := range row {
		// 32-bit numerics are widened up front so expression arithmetic
		// behaves the same no matter which backend produced the value.
		switch v := value.(type) {
		case float32:
			env[name] = float64(v)
		case int32:
			env[name] = int(v)
		default:
			env[name] = value
		}
	}

	result := make(map[string]interface{}, len(t.outputs))
	for _, output := range t.outputs {
		value, err := expr.Run(output.program, env)
		if err != nil {
			return nil, &fserror.SchemaViolationError{View: t.viewName, Field: output.name, Reason: err.Error()}
		}
		result[output.name] = value
	}

	return result, nil
}

// ValidateOutput checks a transform output row field-for-field against the
// declared schema: exact field set, compatible types, no silent coercion or
// dropping. Integer results for float fields are widened to float64; every
// other mismatch fails. Nil values pass, representing missing data.
func ValidateOutput(viewName string, schema []api.Field, row map[string]interface{}) (map[string]interface{}, error) {
	if len(row) != len(schema) {
		for name := range row {
			found := false
			for _, field := range schema {
				if field.Name == name {
					found = true
					break
				}
			}
			if !found {
				return nil, &fserror.SchemaViolationError{View: viewName, Field: name, Reason: "field not declared in output schema"}
			}
		}
	}

	validated := make(map[string]interface{}, len(schema))
	for _, field := range schema {
		value, ok := row[field.Name]
		if !ok {
			return nil, &fserror.SchemaViolationError{View: viewName, Field: field.Name, Reason: "field missing from output row"}
		}
		if value == nil {
			validated[field.Name] = nil
			continue
		}

		converted, ok := checkType(field.Type, value)
		if !ok {
			return nil, &fserror.SchemaViolationError{
				View:   viewName,
				Field:  field.Name,
				Reason: "value type does not match declared type " + field.Type.String(),
			}
		}
		validated[field.Name] = converted
	}

	return validated, nil
}

func checkType(fsType constants.FSType, value interface{}) (interface{}, bool) {
	switch fsType {
	case constants.FS_INT32, constants.FS_INT64:
		switch value.(type) {
		case int, int32, int64:
			return value, true
		}
	case constants.FS_FLOAT, constants.FS_DOUBLE:
		switch v := value.(type) {
		case float32, float64:
			return value, true
		case int:
			return float64(v), true
		case int32:
			return float64(v), true
		case int64:
			return float64(v), true
		}
	case constants.FS_STRING:
		if _, ok := value.(string); ok {
			return value, true
		}
	case constants.FS_BOOLEAN:
		if _, ok := value.(bool); ok {
			return value, true
		}
	case constants.FS_TIMESTAMP:
		if _, ok := value.(time.Time); ok {
			return value, true
		}
	case constants.FS_BYTES:
		if _, ok := value.([]byte); ok {
			return value, true
		}
	}
	return nil, false
}
