package turn

// Stage is one step of a turn. Stages only ever move forward.
type Stage int

const (
	StagePreprocess Stage = iota
	StageModelInvoke
	StageExtract
	StageConditionalRoute
	StageToolExecution
	StageModelReinvoke
	StageFinalize
)

var stageNames = [...]string{
	StagePreprocess:       "preprocess",
	StageModelInvoke:      "model-invoke",
	StageExtract:          "extract",
	StageConditionalRoute: "conditional-route",
	StageToolExecution:    "tool-execution",
	StageModelReinvoke:    "model-reinvoke",
	StageFinalize:         "finalize",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}
