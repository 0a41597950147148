package tools

import "time"

// ToolConfig groups the knobs of the extract/validate/execute pipeline.
type ToolConfig struct {
	Marker           string        `json:"marker" yaml:"marker" mapstructure:"marker"`
	StringAwareScan  bool          `json:"string_aware_scan" yaml:"string-aware-scan" mapstructure:"string-aware-scan"`
	RepairFragments  bool          `json:"repair_fragments" yaml:"repair-fragments" mapstructure:"repair-fragments"`
	SchemaValidation bool          `json:"schema_validation" yaml:"schema-validation" mapstructure:"schema-validation"`
	AllowedTools     []string      `json:"allowed_tools" yaml:"allowed-tools" mapstructure:"allowed-tools"`
	MaxParallelTools int           `json:"max_parallel_tools" yaml:"max-parallel-tools" mapstructure:"max-parallel-tools"`
	ExecutionTimeout time.Duration `json:"execution_timeout" yaml:"execution-timeout" mapstructure:"execution-timeout"`
}

// DefaultToolConfig returns the configuration used when nothing is set.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		Marker:           DefaultMarker,
		StringAwareScan:  true,
		RepairFragments:  false,
		SchemaValidation: false,
		AllowedTools:     nil, // nil means all tools are allowed
		MaxParallelTools: 0,
		ExecutionTimeout: 0,
	}
}

func (tc ToolConfig) WithMarker(marker string) ToolConfig {
	tc.Marker = marker
	return tc
}

func (tc ToolConfig) WithStringAwareScan(enabled bool) ToolConfig {
	tc.StringAwareScan = enabled
	return tc
}

func (tc ToolConfig) WithRepairFragments(enabled bool) ToolConfig {
	tc.RepairFragments = enabled
	return tc
}

func (tc ToolConfig) WithSchemaValidation(enabled bool) ToolConfig {
	tc.SchemaValidation = enabled
	return tc
}

func (tc ToolConfig) WithAllowedTools(toolNames []string) ToolConfig {
	tc.AllowedTools = toolNames
	return tc
}

func (tc ToolConfig) WithMaxParallelTools(maxParallel int) ToolConfig {
	tc.MaxParallelTools = maxParallel
	return tc
}

func (tc ToolConfig) WithExecutionTimeout(timeout time.Duration) ToolConfig {
	tc.ExecutionTimeout = timeout
	return tc
}

// IsToolAllowed checks if a tool is allowed based on the configuration
func (tc ToolConfig) IsToolAllowed(toolName string) bool {
	if len(tc.AllowedTools) == 0 {
		return true
	}

	for _, allowed := range tc.AllowedTools {
		if allowed == toolName {
			return true
		}
	}

	return false
}

func (tc ToolConfig) NewExtractor() *Extractor {
	marker := tc.Marker
	if marker == "" {
		marker = DefaultMarker
	}
	return NewExtractor(
		WithMarker(marker),
		WithStringAwareScan(tc.StringAwareScan),
		WithRepair(tc.RepairFragments),
	)
}

func (tc ToolConfig) NewValidator() *Validator {
	return NewValidator(
		WithSchemaValidation(tc.SchemaValidation),
		WithAllowedTools(tc.AllowedTools),
	)
}

func (tc ToolConfig) NewExecutor() *Executor {
	return NewExecutor(
		WithMaxParallel(tc.MaxParallelTools),
		WithCallTimeout(tc.ExecutionTimeout),
	)
}
