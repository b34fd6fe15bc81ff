package process

import (
	"context"
	"time"

	"github.com/farant/smaragda/internal/action"
	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

const instantLayout = "2006-01-02T15:04:05.000Z"

func nowISO() string {
	return time.Now().UTC().Format(instantLayout)
}

// Instance is the materialized view of a process instance (spec.md
// §4.5 "processInstanceReducer").
type Instance struct {
	ID             string
	ProcessGenusID string
	ContextResID   string
	Status         string // running | completed | cancelled
	StartedAt      string
	CompletedAt    string
	Steps          map[string]reduce.StepInstance
}

func materializeInstance(ctx context.Context, st *store.Store, instanceID string) (Instance, error) {
	state, err := st.Materialize(ctx, instanceID, store.ReplayOpts{}, reduce.Instance)
	if err != nil {
		return Instance{}, err
	}
	inst := Instance{ID: instanceID, Status: "running", Steps: map[string]reduce.StepInstance{}}
	if v, ok := state["process_genus_id"].(string); ok {
		inst.ProcessGenusID = v
	}
	if v, ok := state["context_res_id"].(string); ok {
		inst.ContextResID = v
	}
	if v, ok := state["status"].(string); ok {
		inst.Status = v
	}
	if v, ok := state["started_at"].(string); ok {
		inst.StartedAt = v
	}
	if v, ok := state["completed_at"].(string); ok {
		inst.CompletedAt = v
	}
	if v, ok := state["steps"].(map[string]reduce.StepInstance); ok {
		inst.Steps = v
	}
	if inst.ProcessGenusID == "" {
		return Instance{}, smerr.Newf(smerr.ErrResNotFound, "process instance %q not found", instanceID).WithField("res_id", instanceID)
	}
	return inst, nil
}

// StartOpts carries the optional context res for a new instance.
type StartOpts struct {
	ContextResID string
	Branch       string
}

// Start creates a process instance, marks it running, and activates
// every lane's first step (spec.md §4.5 "startProcess(genus_id,
// {context_res_id?})").
func Start(ctx context.Context, st *store.Store, genusID string, opts StartOpts) (string, error) {
	proc, err := Get(ctx, st, genusID)
	if err != nil {
		return "", err
	}
	if proc.Deprecated {
		return "", smerr.Newf(smerr.ErrDeprecatedGenus, "process %q is deprecated", genusID).WithField("genus_id", genusID)
	}

	branch := opts.Branch
	if branch == "" {
		branch = types.MainBranch
	}

	instanceID, err := st.CreateRes(ctx, genusID, branch, nil)
	if err != nil {
		return "", err
	}
	if _, err := st.Append(ctx, instanceID, types.TypeProcessInstanceStarted, map[string]any{
		"process_genus_id": genusID,
		"context_res_id":   opts.ContextResID,
		"started_at":       nowISO(),
	}, store.AppendOpts{Branch: branch}); err != nil {
		return "", err
	}

	if err := Advance(ctx, st, instanceID); err != nil {
		return "", err
	}
	return instanceID, nil
}

// Advance activates every step across every lane whose dependencies
// are now met, repeating until a fixed point, then marks the instance
// completed once nothing is left to activate and no step is active
// (spec.md §4.5 "Advance").
func Advance(ctx context.Context, st *store.Store, instanceID string) error {
	for {
		inst, err := materializeInstance(ctx, st, instanceID)
		if err != nil {
			return err
		}
		if inst.Status != "running" {
			return nil
		}
		proc, err := Get(ctx, st, inst.ProcessGenusID)
		if err != nil {
			return err
		}

		activatedAny := false
		for laneName := range proc.Lanes {
			ordered := stepsInLane(proc, laneName)
			for i, step := range ordered {
				if _, done := inst.Steps[step.Name]; done {
					continue
				}
				if i > 0 {
					prev, ok := inst.Steps[ordered[i-1].Name]
					if !ok || (prev.Status != "completed" && prev.Status != "failed") {
						break // no later step in this lane can be ready either
					}
				}
				activated, err := activateStep(ctx, st, proc, inst, step)
				if err != nil {
					return err
				}
				if activated {
					activatedAny = true
				}
				break // re-materialize before attempting this lane's next step
			}
		}
		if !activatedAny {
			break
		}
	}

	inst, err := materializeInstance(ctx, st, instanceID)
	if err != nil {
		return err
	}
	if inst.Status != "running" {
		return nil
	}
	for _, si := range inst.Steps {
		if si.Status == "active" {
			return nil
		}
	}
	_, err = st.Append(ctx, instanceID, types.TypeProcessInstanceCompleted, map[string]any{"completed_at": nowISO()}, store.AppendOpts{})
	return err
}

// activateStep runs one step's activation behavior (spec.md §4.5
// "Activation"). It reports whether an activation tessella was
// written; a gate_step whose conditions are unmet writes nothing and
// reports false so Advance leaves it pending.
func activateStep(ctx context.Context, st *store.Store, proc Process, inst Instance, step StepDef) (bool, error) {
	switch step.Type {
	case "task_step":
		return true, activateTaskStep(ctx, st, inst, step)
	case "fetch_step":
		return true, activateFetchStep(ctx, st, inst, step)
	case "action_step":
		return true, activateActionStep(ctx, st, inst, step)
	case "gate_step":
		return activateGateStep(ctx, st, inst, step)
	default:
		return false, smerr.Newf(smerr.ErrStateUndefined, "process step %q has unknown type %q", step.Name, step.Type)
	}
}

func activateTaskStep(ctx context.Context, st *store.Store, inst Instance, step StepDef) error {
	title, _ := step.Fields["task_title"].(string)
	contextIDs := []string{inst.ID}
	if inst.ContextResID != "" {
		contextIDs = append(contextIDs, inst.ContextResID)
	}
	payload := map[string]any{
		"title":           title,
		"context_res_ids": contextIDs,
		"step_name":       step.Name,
		"lane_name":       step.Lane,
	}
	if priority, ok := step.Fields["priority"]; ok {
		payload["priority"] = priority
	}

	taskID, _, err := action.CreateTask(ctx, st, payload, "process:"+inst.ID)
	if err != nil {
		return err
	}
	_, err = st.Append(ctx, inst.ID, types.TypeProcessStepActivated, map[string]any{
		"name": step.Name, "status": "active", "task_id": taskID,
	}, store.AppendOpts{})
	return err
}

// activateFetchStep reads fetch_source off the context entity. A
// missing attribute yields result = nil and the step still completes
// (DESIGN.md Open Question decision 3).
func activateFetchStep(ctx context.Context, st *store.Store, inst Instance, step StepDef) error {
	source, _ := step.Fields["fetch_source"].(string)

	var result any
	if source != "" && inst.ContextResID != "" {
		state, err := st.Materialize(ctx, inst.ContextResID, store.ReplayOpts{}, reduce.Default)
		if err != nil {
			return err
		}
		result = state[source]
	}

	_, err := st.Append(ctx, inst.ID, types.TypeProcessStepCompleted, map[string]any{
		"name": step.Name, "status": "completed", "result": result,
	}, store.AppendOpts{})
	return err
}

func activateActionStep(ctx context.Context, st *store.Store, inst Instance, step StepDef) error {
	actionName, _ := step.Fields["action_name"].(string)
	actionID, err := genus.FindByName(ctx, st, actionName)
	if err != nil {
		return err
	}

	bindingsRaw, _ := step.Fields["action_resource_bindings"].(map[string]any)
	bindings := map[string]string{}
	for name, v := range bindingsRaw {
		s, _ := v.(string)
		if s == "$context.res_id" {
			s = inst.ContextResID
		}
		bindings[name] = s
	}

	result, execErr := action.Execute(ctx, st, actionID, action.ExecuteOpts{
		ResourceBindings: bindings,
		Source:           "process:" + inst.ID,
	})
	if execErr != nil {
		_, err := st.Append(ctx, inst.ID, types.TypeProcessStepFailed, map[string]any{
			"name": step.Name, "status": "failed", "result": execErr.Error(),
		}, store.AppendOpts{})
		return err
	}
	_, err = st.Append(ctx, inst.ID, types.TypeProcessStepCompleted, map[string]any{
		"name": step.Name, "status": "completed", "result": result.TessellaeIDs,
	}, store.AppendOpts{})
	return err
}

// activateGateStep checks that every named gate_condition step has
// completed; if so it activates and completes in the same motion,
// otherwise it reports false and leaves the step pending.
func activateGateStep(ctx context.Context, st *store.Store, inst Instance, step StepDef) (bool, error) {
	conditions, _ := step.Fields["gate_conditions"].([]any)
	for _, c := range conditions {
		name, _ := c.(string)
		si, ok := inst.Steps[name]
		if !ok || (si.Status != "completed" && si.Status != "failed") {
			return false, nil
		}
	}

	if _, err := st.Append(ctx, inst.ID, types.TypeProcessStepActivated, map[string]any{
		"name": step.Name, "status": "active",
	}, store.AppendOpts{}); err != nil {
		return false, err
	}
	if _, err := st.Append(ctx, inst.ID, types.TypeProcessStepCompleted, map[string]any{
		"name": step.Name, "status": "completed",
	}, store.AppendOpts{}); err != nil {
		return false, err
	}
	return true, nil
}

// CompleteTask transitions a Task entity's status and drives its
// owning process instance's advance (spec.md §4.5 "Task coupling").
func CompleteTask(ctx context.Context, st *store.Store, taskID, taskStatus string) error {
	contextIDs, err := action.TaskContextResIDs(ctx, st, taskID)
	if err != nil {
		return err
	}
	if len(contextIDs) == 0 {
		return smerr.Newf(smerr.ErrResNotFound, "task %q has no owning process instance", taskID).WithField("task_id", taskID)
	}
	instanceID := contextIDs[0]

	if _, err := action.CompleteTask(ctx, st, taskID, taskStatus, "process:"+instanceID); err != nil {
		return err
	}

	inst, err := materializeInstance(ctx, st, instanceID)
	if err != nil {
		return err
	}
	stepName := ""
	for name, si := range inst.Steps {
		if si.TaskID == taskID {
			stepName = name
			break
		}
	}
	if stepName == "" {
		return smerr.Newf(smerr.ErrResNotFound, "no active step for task %q on instance %q", taskID, instanceID).WithField("task_id", taskID)
	}

	stepType := types.TypeProcessStepCompleted
	status := "completed"
	if taskStatus == "failed" {
		stepType = types.TypeProcessStepFailed
		status = "failed"
	}
	if _, err := st.Append(ctx, instanceID, stepType, map[string]any{
		"name": stepName, "status": status, "task_id": taskID,
	}, store.AppendOpts{}); err != nil {
		return err
	}

	return Advance(ctx, st, instanceID)
}

// CancelProcess marks a running instance cancelled, independent of
// step completion state.
func CancelProcess(ctx context.Context, st *store.Store, instanceID, reason string) error {
	_, err := st.Append(ctx, instanceID, types.TypeProcessInstanceCancelled, map[string]any{
		"completed_at": nowISO(), "reason": reason,
	}, store.AppendOpts{})
	return err
}
