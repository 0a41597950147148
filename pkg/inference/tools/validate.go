package tools

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Rejection records a call dropped during validation.
type Rejection struct {
	Call RawToolCall
	Err  *ToolError
}

// Validator checks raw calls against a Snapshot and collapses duplicates.
type Validator struct {
	schemaValidation bool
	allowed          map[string]struct{}
}

type ValidatorOption func(*Validator)

// WithSchemaValidation additionally checks arguments against the tool's
// InputSchema when the descriptor carries one.
func WithSchemaValidation(enabled bool) ValidatorOption {
	return func(v *Validator) {
		v.schemaValidation = enabled
	}
}

// WithAllowedTools restricts calls to the named tools. An empty list allows all.
func WithAllowedTools(names []string) ValidatorOption {
	return func(v *Validator) {
		if len(names) == 0 {
			v.allowed = nil
			return
		}
		v.allowed = make(map[string]struct{}, len(names))
		for _, n := range names {
			v.allowed[n] = struct{}{}
		}
	}
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{}
	for _, o := range opts {
		o(v)
	}
	return v
}

// ValidateAndDeduplicate runs the default validator.
func ValidateAndDeduplicate(calls []RawToolCall, snapshot *Snapshot) []ValidatedToolCall {
	ret, _ := NewValidator().Validate(calls, snapshot)
	return ret
}

// Validate collapses calls with the same identity to their first occurrence,
// then drops calls to unknown tools and calls missing required arguments.
// The order of surviving calls is preserved. Dropped calls are returned as
// rejections and never fail the whole batch.
func (v *Validator) Validate(calls []RawToolCall, snapshot *Snapshot) ([]ValidatedToolCall, []Rejection) {
	var ret []ValidatedToolCall
	var rejections []Rejection
	seen := map[CallIdentity]struct{}{}

	reject := func(call RawToolCall, err *ToolError) {
		log.Warn().Str("tool", call.Name).Str("kind", string(err.Kind)).Msg(err.Message)
		rejections = append(rejections, Rejection{Call: call, Err: err})
	}

	for _, call := range calls {
		identity, err := IdentityOf(call.Name, call.Arguments)
		if err != nil {
			reject(call, newToolError(ErrorKindMalformedFragment, call.Name, err, "arguments cannot be serialized"))
			continue
		}
		if _, ok := seen[identity]; ok {
			log.Debug().Str("identity", identity.String()).Msg("validate: dropping duplicate call")
			continue
		}
		seen[identity] = struct{}{}

		tool, ok := snapshot.Lookup(call.Name)
		if !ok {
			reject(call, newToolError(ErrorKindUnknownTool, call.Name, nil, "tool %q is not registered", call.Name))
			continue
		}

		if v.allowed != nil {
			if _, ok := v.allowed[call.Name]; !ok {
				reject(call, newToolError(ErrorKindNotAllowed, call.Name, nil, "tool %q is not allowed", call.Name))
				continue
			}
		}

		if missing := missingArguments(tool, call.Arguments); len(missing) > 0 {
			reject(call, newToolError(ErrorKindMissingRequiredArgument, call.Name, nil,
				"missing required arguments: %s", strings.Join(missing, ", ")))
			continue
		}

		if v.schemaValidation {
			if terr := checkSchema(tool, call.Arguments); terr != nil {
				reject(call, terr)
				continue
			}
		}

		ret = append(ret, ValidatedToolCall{
			RawToolCall: call,
			Identity:    identity,
			Tool:        tool,
		})
	}

	return ret, rejections
}

func missingArguments(tool ToolDescriptor, arguments map[string]interface{}) []string {
	var missing []string
	for _, name := range tool.RequiredArguments {
		if _, ok := arguments[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func checkSchema(tool ToolDescriptor, arguments map[string]interface{}) *ToolError {
	if len(tool.InputSchema) == 0 {
		return nil
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(tool.InputSchema),
		gojsonschema.NewGoLoader(arguments),
	)
	if err != nil {
		// an unusable schema does not invalidate the call
		log.Debug().Err(err).Str("tool", tool.Name).Msg("validate: could not apply input schema")
		return nil
	}
	if result.Valid() {
		return nil
	}
	var descriptions []string
	for _, desc := range result.Errors() {
		descriptions = append(descriptions, desc.String())
	}
	return newToolError(ErrorKindSchemaViolation, tool.Name, nil, "%s", strings.Join(descriptions, "; "))
}
