// Package sync wraps the store-level sync primitives (spec.md §4.10)
// with a generated peer id and a JSONL bundle wire format.
//
// Grounded on the teacher's internal/jsonl/reader.go: sync bundles are
// streamed as newline-delimited JSON, one tessella per line, the same
// shape the teacher's own sync log keeps at rest. Peer ids use
// google/uuid, the pack-wide choice for random, non-sortable
// identifiers (evalgo-org-eve and the teacher's own indirect
// dependency), kept distinct from the kernel's sortable res/tessella
// ids.
package sync

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

const lastPushedKey = "last_pushed_local_id"

// PeerID mints a random, non-sortable peer identifier for tagging
// this store's outgoing sync traffic.
func PeerID() string {
	return uuid.NewString()
}

// Bundle is what one sync exchange carries (spec.md §4.10
// "insertPulledData({res[], tessellae[], high_water_mark}, source_tag)").
type Bundle struct {
	Res           []types.Res
	Tessellae     []types.Tessella
	HighWaterMark int64
}

// Pull gathers everything this store has produced locally (source not
// tagged sync:) since the last acknowledged push.
func Pull(ctx context.Context, st *store.Store) (Bundle, error) {
	lastPushed, err := lastPushedID(ctx, st)
	if err != nil {
		return Bundle{}, err
	}

	tessellae, err := st.UnpushedTessellae(ctx, lastPushed)
	if err != nil {
		return Bundle{}, err
	}
	resRows, err := st.UnpushedRes(ctx, tessellae)
	if err != nil {
		return Bundle{}, err
	}

	hwm := lastPushed
	for _, t := range tessellae {
		if t.ID > hwm {
			hwm = t.ID
		}
	}
	return Bundle{Res: resRows, Tessellae: tessellae, HighWaterMark: hwm}, nil
}

// Ack records that a Pull's tessellae have been durably delivered to a
// peer, advancing last_pushed_local_id so a later Pull does not resend
// them.
func Ack(ctx context.Context, st *store.Store, b Bundle) error {
	return st.SetSyncState(ctx, lastPushedKey, fmt.Sprintf("%d", b.HighWaterMark))
}

// Apply inserts a bundle pulled from a peer, tagging every tessella
// with sourceTag (spec.md §4.10 "insertPulledData... atomic").
func Apply(ctx context.Context, st *store.Store, b Bundle, sourceTag string) error {
	return st.InsertPulledData(ctx, b.Res, b.Tessellae, sourceTag)
}

func lastPushedID(ctx context.Context, st *store.Store) (int64, error) {
	raw, err := st.GetSyncState(ctx, lastPushedKey)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	var id int64
	if _, err := fmt.Sscanf(raw, "%d", &id); err != nil {
		return 0, fmt.Errorf("sync: corrupt %s value %q: %w", lastPushedKey, raw, err)
	}
	return id, nil
}

// tessellaLine is the wire shape of one JSONL row: types.Tessella's
// Data field is already raw JSON, so it round-trips as a json.RawMessage.
type tessellaLine struct {
	ID        int64           `json:"id"`
	ResID     string          `json:"res_id"`
	BranchID  string          `json:"branch_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt string          `json:"created_at"`
	Source    string          `json:"source"`
}

// WriteJSONL serializes a bundle's tessellae as newline-delimited
// JSON, one line per tessella ("kind":"tessella"), preceded by one
// "kind":"res" line per res row so a single stream carries both (mirroring the
// teacher's one-JSON-value-per-line jsonl.ReadIssuesFromData reader).
func WriteJSONL(b Bundle) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for _, r := range b.Res {
		workspace := ""
		if r.WorkspaceID != nil {
			workspace = *r.WorkspaceID
		}
		if err := enc.Encode(resLine{Kind: "res", ID: r.ID, GenusID: r.GenusID, BranchID: r.BranchID, WorkspaceID: workspace}); err != nil {
			return nil, err
		}
	}
	for _, t := range b.Tessellae {
		line := tessellaLine{
			ID: t.ID, ResID: t.ResID, BranchID: t.BranchID, Type: t.Type,
			Data: json.RawMessage(t.Data), CreatedAt: formatTessellaTime(t), Source: t.Source,
		}
		if err := enc.Encode(struct {
			Kind string `json:"kind"`
			tessellaLine
		}{Kind: "tessella", tessellaLine: line}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

type resLine struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	GenusID     string `json:"genus_id"`
	BranchID    string `json:"branch_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// ReadJSONL parses a JSONL sync stream back into a Bundle, matching
// the teacher's ReadIssuesFromData: a bufio.Scanner over one JSON
// value per line, tolerant of blank lines, with an enlarged buffer
// for oversized tessella payloads.
func ReadJSONL(data []byte) (Bundle, error) {
	var b Bundle
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var kind struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(line, &kind); err != nil {
			return Bundle{}, fmt.Errorf("sync: parse line %d: %w", lineNum, err)
		}

		switch kind.Kind {
		case "res":
			var rl resLine
			if err := json.Unmarshal(line, &rl); err != nil {
				return Bundle{}, fmt.Errorf("sync: parse res at line %d: %w", lineNum, err)
			}
			r := types.Res{ID: rl.ID, GenusID: rl.GenusID, BranchID: rl.BranchID}
			if rl.WorkspaceID != "" {
				r.WorkspaceID = &rl.WorkspaceID
			}
			b.Res = append(b.Res, r)
		case "tessella":
			var tl tessellaLine
			if err := json.Unmarshal(line, &tl); err != nil {
				return Bundle{}, fmt.Errorf("sync: parse tessella at line %d: %w", lineNum, err)
			}
			t := types.Tessella{ID: tl.ID, ResID: tl.ResID, BranchID: tl.BranchID, Type: tl.Type, Data: []byte(tl.Data), Source: tl.Source}
			b.Tessellae = append(b.Tessellae, t)
			if t.ID > b.HighWaterMark {
				b.HighWaterMark = t.ID
			}
		default:
			return Bundle{}, fmt.Errorf("sync: unknown line kind %q at line %d", kind.Kind, lineNum)
		}
	}
	if err := scanner.Err(); err != nil {
		return Bundle{}, fmt.Errorf("sync: scan stream: %w", err)
	}
	return b, nil
}

func formatTessellaTime(t types.Tessella) string {
	if t.CreatedAt.IsZero() {
		return ""
	}
	return t.CreatedAt.Format("2006-01-02T15:04:05.000Z")
}
