package store

// schema is the DDL for every table the kernel owns. Six persisted
// tables (res, tessella, input, action_taken, relationship_member,
// sync_state) plus the small temporal_anchor side table and the
// internal branches registry (spec.md §3, §9 "Branch chain walk").
//
// The branches table is deliberately not one of the six spec.md
// tables: it is the store's own bookkeeping for branch-point/ancestor
// resolution, kept separate from the display-facing Branch entity
// (a res under SentinelBranch) that internal/branch maintains in the
// tessella log itself. Replay must resolve branch visibility before
// any reducer can run, so that resolution cannot itself depend on
// replay — hence a plain relational table here.
const schema = `
CREATE TABLE IF NOT EXISTS res (
	id           TEXT PRIMARY KEY,
	genus_id     TEXT NOT NULL,
	branch_id    TEXT NOT NULL,
	workspace_id TEXT,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_res_genus ON res(genus_id);
CREATE INDEX IF NOT EXISTS idx_res_workspace ON res(workspace_id);

CREATE TABLE IF NOT EXISTS tessella (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	res_id     TEXT NOT NULL,
	branch_id  TEXT NOT NULL,
	type       TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (res_id) REFERENCES res(id)
);

CREATE INDEX IF NOT EXISTS idx_tessella_res ON tessella(res_id, id);
CREATE INDEX IF NOT EXISTS idx_tessella_branch ON tessella(branch_id, id);
CREATE INDEX IF NOT EXISTS idx_tessella_source ON tessella(source, id);

CREATE TABLE IF NOT EXISTS input (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	source     TEXT NOT NULL,
	type       TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS action_taken (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	action_genus_id TEXT NOT NULL,
	resources       TEXT NOT NULL,
	params          TEXT NOT NULL,
	tessellae_ids   TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS relationship_member (
	relationship_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	PRIMARY KEY (relationship_id, role, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_relmember_entity ON relationship_member(entity_id);
CREATE INDEX IF NOT EXISTS idx_relmember_rel ON relationship_member(relationship_id);

CREATE TABLE IF NOT EXISTS sync_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS temporal_anchor (
	res_id        TEXT PRIMARY KEY,
	start_year    INTEGER,
	end_year      INTEGER,
	precision     TEXT NOT NULL DEFAULT '',
	calendar_note TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS branches (
	name          TEXT PRIMARY KEY,
	parent_branch TEXT NOT NULL DEFAULT '',
	branch_point  INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'active',
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS serialization_run (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	target_id     TEXT NOT NULL,
	entity_id     TEXT,
	manifest      TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
`
