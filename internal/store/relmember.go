package store

import (
	"context"
)

// UpsertRelationshipMember adds one row to the relationship_member
// secondary index (spec.md §3 "relationship_member"). Safe to call
// with a row that already exists.
func (s *Store) UpsertRelationshipMember(ctx context.Context, relationshipID, role, entityID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO relationship_member (relationship_id, role, entity_id) VALUES (?, ?, ?)`,
		relationshipID, role, entityID,
	)
	return wrapDBErrorf(err, "UpsertRelationshipMember(%s,%s,%s)", relationshipID, role, entityID)
}

// RemoveRelationshipMember deletes one row from the index.
func (s *Store) RemoveRelationshipMember(ctx context.Context, relationshipID, role, entityID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM relationship_member WHERE relationship_id = ? AND role = ? AND entity_id = ?`,
		relationshipID, role, entityID,
	)
	return wrapDBErrorf(err, "RemoveRelationshipMember(%s,%s,%s)", relationshipID, role, entityID)
}

// ClearRelationshipMembers removes every index row for a relationship,
// used before a full rebuild (spec.md §4.6 "Rebuild secondary indexes").
func (s *Store) ClearRelationshipMembers(ctx context.Context, relationshipID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM relationship_member WHERE relationship_id = ?`, relationshipID)
	return wrapDBErrorf(err, "ClearRelationshipMembers(%s)", relationshipID)
}

// MembersOfRelationship returns (role, entity_id) pairs for one
// relationship, ordered by role then entity.
func (s *Store) MembersOfRelationship(ctx context.Context, relationshipID string) ([]RelationshipMemberRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, entity_id FROM relationship_member WHERE relationship_id = ? ORDER BY role, entity_id`,
		relationshipID,
	)
	if err != nil {
		return nil, wrapDBErrorf(err, "MembersOfRelationship(%s)", relationshipID)
	}
	defer rows.Close()

	var out []RelationshipMemberRow
	for rows.Next() {
		var row RelationshipMemberRow
		if err := rows.Scan(&row.Role, &row.EntityID); err != nil {
			return nil, wrapDBErrorf(err, "MembersOfRelationship(%s) scan", relationshipID)
		}
		row.RelationshipID = relationshipID
		out = append(out, row)
	}
	return out, rows.Err()
}

// RelationshipsForEntity returns every (relationship_id, role) pair an
// entity participates in — the entity-keyed lookup spec.md §3 calls
// out ("O(1) lookup of relationships for a given entity/role").
func (s *Store) RelationshipsForEntity(ctx context.Context, entityID string) ([]RelationshipMemberRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT relationship_id, role FROM relationship_member WHERE entity_id = ? ORDER BY relationship_id, role`,
		entityID,
	)
	if err != nil {
		return nil, wrapDBErrorf(err, "RelationshipsForEntity(%s)", entityID)
	}
	defer rows.Close()

	var out []RelationshipMemberRow
	for rows.Next() {
		var row RelationshipMemberRow
		if err := rows.Scan(&row.RelationshipID, &row.Role); err != nil {
			return nil, wrapDBErrorf(err, "RelationshipsForEntity(%s) scan", entityID)
		}
		row.EntityID = entityID
		out = append(out, row)
	}
	return out, rows.Err()
}

// RelationshipMemberRow mirrors types.RelationshipMember; kept as a
// distinct store-local type since some query shapes only populate a
// subset of its fields.
type RelationshipMemberRow struct {
	RelationshipID string
	Role           string
	EntityID       string
}
