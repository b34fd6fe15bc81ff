package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/farant/smaragda/internal/entity"
	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// tokenContext holds the values a handler step's payload strings may
// reference via $now, $res.<name>.id, and $param.<name> (spec.md §4.4
// "Token substitution"). Unknown tokens are left as literals.
type tokenContext struct {
	now       string
	resources map[string]string
	params    map[string]any
}

func (c tokenContext) resolve(tok string) (any, bool) {
	switch {
	case tok == "now":
		return c.now, true
	case strings.HasPrefix(tok, "res."):
		name := strings.TrimSuffix(strings.TrimPrefix(tok, "res."), ".id")
		v, ok := c.resources[name]
		return v, ok
	case strings.HasPrefix(tok, "param."):
		name := strings.TrimPrefix(tok, "param.")
		v, ok := c.params[name]
		return v, ok
	default:
		return nil, false
	}
}

// substitute walks payload, rewriting every $token string it finds. A
// string value that is *exactly* one token substitutes the referenced
// value's own type (so $param.version stays a number, not "2"); a
// token embedded in a larger string is interpolated as text. Maps and
// slices are walked recursively so nested step payloads substitute
// throughout (DESIGN.md Open Question 1).
func substitute(v any, c tokenContext) any {
	switch val := v.(type) {
	case string:
		return substituteString(val, c)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = substitute(child, c)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = substitute(child, c)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, c tokenContext) any {
	toks := extractTokens(s)
	if len(toks) == 1 && s == "$"+toks[0] {
		if v, ok := c.resolve(toks[0]); ok {
			return v
		}
		return s
	}

	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '$' {
			b.WriteByte(s[i])
			i++
			continue
		}
		j := i + 1
		for j < len(s) && isTokenChar(s[j]) {
			j++
		}
		tok := s[i+1 : j]
		if v, ok := c.resolve(tok); ok {
			fmt.Fprintf(&b, "%v", v)
		} else {
			b.WriteString(s[i:j])
		}
		i = j
	}
	return b.String()
}

// runStep executes one handler step, producing zero or more tessellae
// (spec.md §4.4 "Each step may produce zero or more tessellae; record
// all produced ids").
func runStep(ctx context.Context, st *store.Store, step Step, c tokenContext, source string) ([]int64, error) {
	payload, _ := substitute(step.Payload, c).(map[string]any)

	switch step.Kind {
	case "set_attribute":
		resID, key, value, err := resKeyValue(payload)
		if err != nil {
			return nil, err
		}
		if err := entity.SetAttribute(ctx, st, resID, key, value); err != nil {
			return nil, err
		}
		return lastTessellaID(ctx, st, resID)

	case "transition_status":
		resID, _ := payload["res"].(string)
		target, _ := payload["target"].(string)
		if err := entity.TransitionStatus(ctx, st, resID, target); err != nil {
			return nil, err
		}
		return lastTessellaID(ctx, st, resID)

	case "create_log":
		return createJournalEntity(ctx, st, types.SentinelLog, payload, source)

	case "create_error":
		return createJournalEntity(ctx, st, types.SentinelError, payload, source)

	case "create_task":
		_, ids, err := CreateTask(ctx, st, payload, source)
		return ids, err

	case "create_res":
		return createRes(ctx, st, payload, source)

	default:
		return nil, smerr.Newf(smerr.ErrUndefinedTokenReference, "unknown side-effect kind %q", step.Kind)
	}
}

func resKeyValue(payload map[string]any) (resID, key string, value any, err error) {
	resID, _ = payload["res"].(string)
	key, _ = payload["key"].(string)
	value = payload["value"]
	if resID == "" || key == "" {
		return "", "", nil, smerr.New(smerr.ErrMissingRequiredParameter, "set_attribute requires res and key")
	}
	return resID, key, value, nil
}

// createJournalEntity appends a schema-free Log/Error entry under its
// sentinel genus: these are forensic journal entities (spec.md §7
// "create_error side effect is a normal entity creation -- not a
// control-flow exception"), not typed entities with a declared
// attribute schema, so the tessellae are written directly rather than
// through entity.Create/SetAttribute's genus-attribute validation.
func createJournalEntity(ctx context.Context, st *store.Store, genusID string, payload map[string]any, source string) ([]int64, error) {
	id, err := st.CreateRes(ctx, genusID, types.MainBranch, nil)
	if err != nil {
		return nil, err
	}
	var ids []int64
	t, err := st.Append(ctx, id, types.TypeCreated, map[string]any{}, store.AppendOpts{Source: source})
	if err != nil {
		return nil, err
	}
	ids = append(ids, t.ID)

	for _, key := range []string{"res", "message", "severity"} {
		v, ok := payload[key]
		if !ok {
			continue
		}
		k := key
		if k == "res" {
			k = "context_res_id"
		}
		t, err := st.Append(ctx, id, types.TypeAttributeSet, map[string]any{"key": k, "value": v}, store.AppendOpts{Source: source})
		if err != nil {
			return nil, err
		}
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// AcknowledgeError transitions an Error journal entity to acknowledged
// (spec.md §8 "acknowledgeError on an acknowledged error raises
// NoValidTransition"). Error is schema-free, so there is no genus
// state machine to consult; the one legal transition is
// unacknowledged -> acknowledged, checked by hand here.
func AcknowledgeError(ctx context.Context, st *store.Store, errorID string) error {
	state, err := st.Materialize(ctx, errorID, store.ReplayOpts{}, reduce.Default)
	if err != nil {
		return err
	}
	if status, _ := state["status"].(string); status == "acknowledged" {
		return smerr.Newf(smerr.ErrNoValidTransition, "error %q is already acknowledged", errorID).WithField("res_id", errorID)
	}
	_, err = st.Append(ctx, errorID, types.TypeStatusChanged, map[string]any{"target": "acknowledged"}, store.AppendOpts{})
	return err
}

// CreateTask creates a Task entity per spec.md §4.5 task_step's field
// list (title, priority, context_res_ids, step_name, lane_name),
// marked active, and returns its id alongside every tessella id
// written. Like Log/Error, Task is a schema-free sentinel genus, so
// fields are written directly rather than through
// entity.Create/SetAttribute's genus-attribute validation. Exported
// for internal/process's task_step activation.
func CreateTask(ctx context.Context, st *store.Store, payload map[string]any, source string) (string, []int64, error) {
	id, err := st.CreateRes(ctx, types.SentinelTask, types.MainBranch, nil)
	if err != nil {
		return "", nil, err
	}
	var ids []int64
	t, err := st.Append(ctx, id, types.TypeCreated, map[string]any{}, store.AppendOpts{Source: source})
	if err != nil {
		return "", nil, err
	}
	ids = append(ids, t.ID)

	for _, key := range []string{"title", "res", "priority", "context_res_ids", "step_name", "lane_name"} {
		v, ok := payload[key]
		if !ok {
			continue
		}
		k := key
		if k == "res" {
			k = "context_res_id"
		}
		t, err := st.Append(ctx, id, types.TypeAttributeSet, map[string]any{"key": k, "value": v}, store.AppendOpts{Source: source})
		if err != nil {
			return "", nil, err
		}
		ids = append(ids, t.ID)
	}

	t, err = st.Append(ctx, id, types.TypeStatusChanged, map[string]any{"target": "active"}, store.AppendOpts{Source: source})
	if err != nil {
		return "", nil, err
	}
	ids = append(ids, t.ID)
	return id, ids, nil
}

// CompleteTask transitions a Task entity's status (any target, e.g.
// "done" or "failed") by appending status_changed directly, mirroring
// CreateTask's schema-free write path.
func CompleteTask(ctx context.Context, st *store.Store, taskID, target string, source string) (int64, error) {
	t, err := st.Append(ctx, taskID, types.TypeStatusChanged, map[string]any{"target": target}, store.AppendOpts{Source: source})
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}

// TaskContextResIDs reads a Task entity's context_res_ids attribute
// (spec.md §4.5 "Task coupling... locate the associated process
// instance via task's context_res_ids").
func TaskContextResIDs(ctx context.Context, st *store.Store, taskID string) ([]string, error) {
	state, err := st.Materialize(ctx, taskID, store.ReplayOpts{}, reduce.Default)
	if err != nil {
		return nil, err
	}
	raw, _ := state["context_res_ids"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// createRes implements the create_res side effect: create_res{genus_name,
// attributes?} resolves genus_name to a genus id and creates a typed
// entity of it, validated through entity.Create like any other
// creation (spec.md §4.4 side-effect kinds).
func createRes(ctx context.Context, st *store.Store, payload map[string]any, source string) ([]int64, error) {
	name, _ := payload["genus_name"].(string)
	if name == "" {
		return nil, smerr.New(smerr.ErrMissingRequiredParameter, "create_res requires genus_name")
	}
	genusID, err := genus.FindByName(ctx, st, name)
	if err != nil {
		return nil, err
	}
	attrs, _ := payload["attributes"].(map[string]any)

	id, err := entity.Create(ctx, st, genusID, entity.CreateOpts{Attributes: attrs})
	if err != nil {
		return nil, err
	}
	tessellae, err := st.Replay(ctx, id, store.ReplayOpts{})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(tessellae))
	for _, t := range tessellae {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// lastTessellaID returns the id of the newest tessella on resID. For
// the single-tessella steps (set_attribute, transition_status) that is
// the one tessella the step just wrote, so Execute can accumulate a
// complete tessellae_ids list without each helper threading ids back
// by hand.
func lastTessellaID(ctx context.Context, st *store.Store, resID string) ([]int64, error) {
	tessellae, err := st.Replay(ctx, resID, store.ReplayOpts{})
	if err != nil {
		return nil, err
	}
	if len(tessellae) == 0 {
		return nil, nil
	}
	return []int64{tessellae[len(tessellae)-1].ID}, nil
}
