package reduce

import (
	"encoding/json"
	"fmt"

	"github.com/farant/smaragda/internal/types"
)

// ProcessLane is one entry in process.state.lanes (spec.md §4.5
// "lanes: {name -> {position}}").
type ProcessLane struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// ProcessStep is one entry in process.state.steps. Type-specific
// fields are carried in Fields and interpreted by internal/process.
// Order is this step's position within its lane (spec.md §4.5 "the
// first step in each lane (position 0)"), assigned at definition time
// from the order steps for that lane were declared in.
type ProcessStep struct {
	Name   string         `json:"name"`
	Lane   string         `json:"lane"`
	Type   string         `json:"type"` // task_step | gate_step | action_step | fetch_step
	Order  int            `json:"order"`
	Fields map[string]any `json:"fields"`
}

// ProcessTrigger is one entry in process.state.triggers.
type ProcessTrigger struct {
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields"`
}

// ProcessDef folds a process genus's definition tessellae on top of
// Genus, accumulating {lanes, steps, triggers} (spec.md §4.5).
func ProcessDef(state map[string]any, t types.Tessella) (map[string]any, error) {
	switch t.Type {
	case types.TypeProcessLaneDefined:
		var lane ProcessLane
		if err := json.Unmarshal(t.Data, &lane); err != nil {
			return state, fmt.Errorf("reduce: process_lane_defined: %w", err)
		}
		state = clone(state)
		lanes := cloneLaneMap(processLanes(state))
		lanes[lane.Name] = lane
		state["lanes"] = lanes
		return state, nil

	case types.TypeProcessStepDefined:
		var step ProcessStep
		if err := json.Unmarshal(t.Data, &step); err != nil {
			return state, fmt.Errorf("reduce: process_step_defined: %w", err)
		}
		state = clone(state)
		steps := cloneStepMap(processSteps(state))
		steps[step.Name] = step
		state["steps"] = steps
		return state, nil

	case types.TypeProcessTriggerDefined:
		var trig ProcessTrigger
		if err := json.Unmarshal(t.Data, &trig); err != nil {
			return state, fmt.Errorf("reduce: process_trigger_defined: %w", err)
		}
		state = clone(state)
		triggers := append([]ProcessTrigger{}, processTriggers(state)...)
		triggers = append(triggers, trig)
		state["triggers"] = triggers
		return state, nil

	default:
		return Genus(state, t)
	}
}

func processLanes(state map[string]any) map[string]ProcessLane {
	m, _ := state["lanes"].(map[string]ProcessLane)
	return m
}

func processSteps(state map[string]any) map[string]ProcessStep {
	m, _ := state["steps"].(map[string]ProcessStep)
	return m
}

func processTriggers(state map[string]any) []ProcessTrigger {
	m, _ := state["triggers"].([]ProcessTrigger)
	return m
}

func cloneLaneMap(m map[string]ProcessLane) map[string]ProcessLane {
	out := make(map[string]ProcessLane, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStepMap(m map[string]ProcessStep) map[string]ProcessStep {
	out := make(map[string]ProcessStep, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// StepInstance is one entry in a process instance's steps map
// (spec.md §4.5 "Instance state... steps: {name -> {status, task_id?,
// result?}}").
type StepInstance struct {
	Status string `json:"status"` // active | completed | failed
	TaskID string `json:"task_id,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Instance folds process_instance_* tessellae into
// {process_genus_id, context_res_id?, status, started_at,
// completed_at?, steps} (spec.md §4.5 "processInstanceReducer").
func Instance(state map[string]any, t types.Tessella) (map[string]any, error) {
	switch t.Type {
	case types.TypeProcessInstanceStarted:
		var payload struct {
			ProcessGenusID string `json:"process_genus_id"`
			ContextResID   string `json:"context_res_id,omitempty"`
			StartedAt      string `json:"started_at"`
		}
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return state, fmt.Errorf("reduce: process_instance_started: %w", err)
		}
		return map[string]any{
			"process_genus_id": payload.ProcessGenusID,
			"context_res_id":   payload.ContextResID,
			"status":           "running",
			"started_at":       payload.StartedAt,
			"steps":            map[string]StepInstance{},
		}, nil

	case types.TypeProcessStepActivated, types.TypeProcessStepCompleted, types.TypeProcessStepFailed:
		var payload struct {
			Name string `json:"name"`
			StepInstance
		}
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return state, fmt.Errorf("reduce: process step tessella: %w", err)
		}
		state = clone(state)
		steps := cloneInstanceStepMap(instanceSteps(state))
		steps[payload.Name] = payload.StepInstance
		state["steps"] = steps
		return state, nil

	case types.TypeProcessInstanceCompleted:
		var payload struct {
			CompletedAt string `json:"completed_at"`
		}
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return state, fmt.Errorf("reduce: process_instance_completed: %w", err)
		}
		state = clone(state)
		state["status"] = "completed"
		state["completed_at"] = payload.CompletedAt
		return state, nil

	case types.TypeProcessInstanceCancelled:
		var payload struct {
			CompletedAt string `json:"completed_at"`
			Reason      string `json:"reason,omitempty"`
		}
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return state, fmt.Errorf("reduce: process_instance_cancelled: %w", err)
		}
		state = clone(state)
		state["status"] = "cancelled"
		state["completed_at"] = payload.CompletedAt
		if payload.Reason != "" {
			state["cancel_reason"] = payload.Reason
		}
		return state, nil

	default:
		return state, nil
	}
}

func instanceSteps(state map[string]any) map[string]StepInstance {
	m, _ := state["steps"].(map[string]StepInstance)
	return m
}

func cloneInstanceStepMap(m map[string]StepInstance) map[string]StepInstance {
	out := make(map[string]StepInstance, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
