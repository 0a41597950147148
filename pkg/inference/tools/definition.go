package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// ToolDescriptor describes a callable tool as listed by a ToolSource.
// Descriptors are treated as immutable once a Snapshot has been taken.
type ToolDescriptor struct {
	Name              string   `json:"name" yaml:"name"`
	Description       string   `json:"description,omitempty" yaml:"description,omitempty"`
	RequiredArguments []string `json:"required_arguments,omitempty" yaml:"required_arguments,omitempty"`
	// InputSchema is the raw JSON schema of the arguments object, if known.
	InputSchema json.RawMessage `json:"input_schema,omitempty" yaml:"-"`
}

// Properties returns the property names declared in InputSchema, sorted.
func (d ToolDescriptor) Properties() []string {
	if len(d.InputSchema) == 0 {
		return nil
	}
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
		return nil
	}
	ret := make([]string, 0, len(schema.Properties))
	for k := range schema.Properties {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

// RawToolCall is a name/arguments pair recovered from model output.
// It has not been checked against any registry yet.
type RawToolCall struct {
	Name      string                 `json:"name" yaml:"name"`
	Arguments map[string]interface{} `json:"arguments" yaml:"arguments"`
	// Fragment is the source text of the enclosing JSON object.
	Fragment string `json:"-" yaml:"-"`
	// Start and End delimit Fragment in the scanned text, End exclusive.
	Start int `json:"-" yaml:"-"`
	End   int `json:"-" yaml:"-"`
}

// ValidatedToolCall is a RawToolCall known to reference an existing tool with
// all required arguments present.
type ValidatedToolCall struct {
	RawToolCall `yaml:",inline"`
	Identity    CallIdentity   `json:"-" yaml:"-"`
	Tool        ToolDescriptor `json:"-" yaml:"-"`
}

// ToolExecutionResult is the outcome of one executed call. Err is set iff
// Succeeded is false. A successful call may carry a nil Output.
type ToolExecutionResult struct {
	Call      ValidatedToolCall
	Output    interface{}
	Err       error
	Succeeded bool
	Duration  time.Duration
}

// Invoker performs a named tool invocation.
type Invoker interface {
	InvokeTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error)
}

type InvokerFunc func(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error)

func (f InvokerFunc) InvokeTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	return f(ctx, name, arguments)
}

// ToolSource lists the tools currently available.
type ToolSource interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
}

// ToolDefinition is a tool implemented by a local Go function.
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
	Function    ToolFunc           `json:"-"`
}

// Descriptor converts the definition into the form listed by a ToolSource.
func (td ToolDefinition) Descriptor() ToolDescriptor {
	ret := ToolDescriptor{
		Name:        td.Name,
		Description: td.Description,
	}
	if td.Parameters != nil {
		ret.RequiredArguments = append([]string(nil), td.Parameters.Required...)
		if b, err := json.Marshal(td.Parameters); err == nil {
			ret.InputSchema = b
		}
	}
	return ret
}

// ToolFunc wraps the actual function behind a JSON arguments executor.
type ToolFunc struct {
	Fn       interface{}                                        `json:"-"`
	executor func(context.Context, []byte) (interface{}, error) `json:"-"`
}

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// NewToolFromFunc creates a ToolDefinition from a Go function with one of the
// signatures func(Input), func(context.Context), func(context.Context, Input),
// returning (result) or (result, error).
func NewToolFromFunc(name, description string, fn interface{}) (*ToolDefinition, error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}

	if funcType.NumOut() == 0 || funcType.NumOut() > 2 {
		return nil, errors.New("function must return (result) or (result, error)")
	}
	if funcType.NumOut() == 2 && !funcType.Out(1).Implements(errorType) {
		return nil, errors.New("second return value must be an error")
	}

	inputType, takesContext, err := splitSignature(funcType)
	if err != nil {
		return nil, err
	}

	return &ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  schemaFor(inputType),
		Function: ToolFunc{
			Fn:       fn,
			executor: newExecutor(reflect.ValueOf(fn), inputType, takesContext),
		},
	}, nil
}

// Execute calls the tool function with a background context.
func (tf *ToolFunc) Execute(args []byte) (interface{}, error) {
	return tf.ExecuteWithContext(context.Background(), args)
}

func (tf *ToolFunc) ExecuteWithContext(ctx context.Context, args []byte) (interface{}, error) {
	if tf.executor == nil {
		return nil, errors.New("tool function not properly initialized")
	}
	return tf.executor(ctx, args)
}

func splitSignature(funcType reflect.Type) (reflect.Type, bool, error) {
	switch funcType.NumIn() {
	case 0:
		return nil, false, nil
	case 1:
		if funcType.In(0) == contextType {
			return nil, true, nil
		}
		return funcType.In(0), false, nil
	case 2:
		if funcType.In(0) != contextType {
			return nil, false, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		return funcType.In(1), true, nil
	default:
		return nil, false, errors.New("function must take (Input), (context.Context) or (context.Context, Input)")
	}
}

// schemaFor reflects the input type with definitions expanded inline.
func schemaFor(inputType reflect.Type) *jsonschema.Schema {
	if inputType == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.ReflectFromType(inputType)
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	// The root schema carries a $schema URL, drop it so the schema embeds cleanly.
	schema.Version = ""
	return schema
}

func newExecutor(fn reflect.Value, inputType reflect.Type, takesContext bool) func(context.Context, []byte) (interface{}, error) {
	return func(ctx context.Context, args []byte) (interface{}, error) {
		var in []reflect.Value
		if takesContext {
			in = append(in, reflect.ValueOf(ctx))
		}
		if inputType != nil {
			input := reflect.New(inputType)
			if len(args) > 0 {
				if err := json.Unmarshal(args, input.Interface()); err != nil {
					return nil, errors.Wrap(err, "failed to unmarshal arguments")
				}
			}
			in = append(in, input.Elem())
		}
		return extractResults(fn.Call(in))
	}
}

// extractResults extracts the result and error from function call results
func extractResults(results []reflect.Value) (interface{}, error) {
	switch len(results) {
	case 1:
		return results[0].Interface(), nil
	case 2:
		result := results[0].Interface()
		errInterface := results[1].Interface()
		if errInterface == nil {
			return result, nil
		}
		if err, ok := errInterface.(error); ok {
			return result, err
		}
		return result, fmt.Errorf("unexpected error type: %T", errInterface)
	default:
		return nil, fmt.Errorf("unexpected number of return values: %d", len(results))
	}
}
