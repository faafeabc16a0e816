package dispatch

import (
	"emprofiler/internal/operations"
)

// TargetInfo describes a dispatchable target for discovery endpoints
type TargetInfo struct {
	Name        string                     `json:"name"`
	Kind        TargetKind                 `json:"kind"`
	Description string                     `json:"description,omitempty"`
	Policy      operations.FailurePolicy   `json:"policy,omitempty"`
	Parameters  operations.ParameterSchema `json:"parameters,omitempty"`
	Outputs     []string                   `json:"outputs,omitempty"`
	Stages      []StageInfo                `json:"stages,omitempty"`
}

// StageInfo describes one stage of a pipeline target
type StageInfo struct {
	ID         string                     `json:"id"`
	Operation  string                     `json:"operation"`
	DependsOn  []string                   `json:"depends_on,omitempty"`
	Bindings   []string                   `json:"bindings,omitempty"`
	Parameters operations.ParameterSchema `json:"parameters,omitempty"`
}

func describeOperation(op operations.Operation) TargetInfo {
	return TargetInfo{
		Name:        op.Name(),
		Kind:        KindOperation,
		Description: op.Description(),
		Parameters:  op.Schema(),
		Outputs:     op.Outputs(),
	}
}

func (d *Dispatcher) describePipeline(def *operations.Definition) TargetInfo {
	info := TargetInfo{
		Name:        def.Name(),
		Kind:        KindPipeline,
		Description: def.Description(),
		Policy:      def.Policy(),
	}

	stages := def.Stages()
	info.Stages = make([]StageInfo, 0, len(stages))
	for _, stage := range stages {
		si := StageInfo{
			ID:        stage.ID,
			Operation: stage.Operation,
			DependsOn: def.Dependencies(stage.ID),
		}
		for _, b := range stage.Bindings {
			si.Bindings = append(si.Bindings, b.String())
		}
		if op, err := d.registry.Resolve(stage.Operation); err == nil {
			si.Parameters = op.Schema()
		}
		info.Stages = append(info.Stages, si)
	}

	if n := len(stages); n > 0 {
		if op, err := d.registry.Resolve(stages[n-1].Operation); err == nil {
			info.Outputs = op.Outputs()
		}
	}
	return info
}
