package trellis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/trellisdb/trellis/pkg/model"
)

// Relation mutations enforce the blind-overwrite protocol: a relation value
// is stored exactly once, on its owning side, and the other side is computed
// by reading it. Overwriting a value the writer could have observed (its own
// owning-side slot) is always allowed; overwriting a value that is only
// visible from the other entity's side aborts with BlindOverwriteError so no
// link is ever lost without a process having had the chance to see it.
// All reads feeding the decision happen inside the same transaction as the
// writes, under FOR UPDATE row locks.

func (e *Engine) relation(entityName, relationName string) (model.Relation, *model.Entity, *model.Entity, error) {
	src, err := e.entity(entityName)
	if err != nil {
		return model.Relation{}, nil, nil, err
	}
	rel, ok := e.app.Relation(entityName, relationName)
	if !ok {
		return model.Relation{}, nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, entityName, relationName)
	}
	tgt, _ := e.app.Entity(rel.Target.Entity)
	return rel, src, tgt, nil
}

// SetLink points a to-one relation of the given instance at a target,
// replacing the writer's own previous link if any.
func (e *Engine) SetLink(ctx context.Context, entityName, id, relationName, targetID string) error {
	rel, src, tgt, err := e.relation(entityName, relationName)
	if err != nil {
		return err
	}
	if rel.ToMany() {
		return &CardinalityError{Relation: rel.String(), Message: "single target supplied for a to-many relation"}
	}

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.lockRow(ctx, tx, src, id); err != nil {
			return err
		}
		if err := e.lockRow(ctx, tx, tgt, targetID); err != nil {
			return err
		}

		var violations []OverwriteViolation

		switch rel.Kind {
		case model.SourceOneToOne, model.ManyToOne:
			// fk on the writer's own row: the previous value was visible,
			// overwriting it is safe by construction. But claiming a target
			// that another source already points at would silently change
			// the target's view of the relation.
			if rel.Kind == model.SourceOneToOne {
				other, err := e.linkedOther(ctx, tx, src, rel.ForeignKeyColumn, targetID, id)
				if err != nil {
					return err
				}
				if other != "" {
					violations = append(violations, OverwriteViolation{
						Entity:   rel.Target.Entity,
						Relation: rel.Target.Name,
						ID:       targetID,
						Previous: other,
					})
				}
			}
			if len(violations) > 0 {
				return &BlindOverwriteError{Violations: violations}
			}
			return e.setForeignKey(ctx, tx, src, rel.ForeignKeyColumn, id, targetID)

		case model.TargetOneToOne:
			// fk on the target's row: its current value is invisible to the
			// writer. Only an empty slot, or one already pointing here, may
			// be written.
			current, err := e.foreignKeyOf(ctx, tx, tgt, rel.ForeignKeyColumn, targetID)
			if err != nil {
				return err
			}
			if current != "" && current != id {
				violations = append(violations, OverwriteViolation{
					Entity:   rel.Target.Entity,
					Relation: rel.Target.Name,
					ID:       targetID,
					Previous: current,
				})
			}
			// The writer's own slot is one-to-one as well: another target
			// row pointing at the writer holds a link the writer cannot see.
			other, err := e.linkedOther(ctx, tx, tgt, rel.ForeignKeyColumn, id, targetID)
			if err != nil {
				return err
			}
			if other != "" {
				violations = append(violations, OverwriteViolation{
					Entity:   rel.Target.Entity,
					Relation: rel.Target.Name,
					ID:       other,
					Previous: id,
				})
			}
			if len(violations) > 0 {
				return &BlindOverwriteError{Violations: violations}
			}
			return e.setForeignKey(ctx, tx, tgt, rel.ForeignKeyColumn, targetID, id)

		default:
			return &CardinalityError{Relation: rel.String(), Message: "unsupported kind for SetLink"}
		}
	})
	if err != nil {
		return err
	}
	e.log.Debug("link set",
		zap.String("entity", entityName), zap.String("id", id),
		zap.String("relation", relationName), zap.String("target", targetID))
	return nil
}

// UnsetLink clears a to-one relation of the given instance. Clearing is
// always permitted: the value removed is the writer's own link.
func (e *Engine) UnsetLink(ctx context.Context, entityName, id, relationName string) error {
	rel, src, tgt, err := e.relation(entityName, relationName)
	if err != nil {
		return err
	}
	if rel.ToMany() {
		return &CardinalityError{Relation: rel.String(), Message: "unset on a to-many relation"}
	}

	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.lockRow(ctx, tx, src, id); err != nil {
			return err
		}
		switch rel.Kind {
		case model.SourceOneToOne, model.ManyToOne:
			return e.setForeignKey(ctx, tx, src, rel.ForeignKeyColumn, id, nil)
		case model.TargetOneToOne:
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = $1",
					tgt.Table, rel.ForeignKeyColumn, rel.ForeignKeyColumn), id)
			return err
		default:
			return &CardinalityError{Relation: rel.String(), Message: "unsupported kind for UnsetLink"}
		}
	})
}

// AddLinks links a set of targets to the given instance over a to-many
// relation. Every target is evaluated for blind overwrites independently;
// any violation aborts the whole batch with all violations reported.
// An empty target set is a no-op.
func (e *Engine) AddLinks(ctx context.Context, entityName, id, relationName string, targetIDs []string) error {
	rel, src, tgt, err := e.relation(entityName, relationName)
	if err != nil {
		return err
	}
	if !rel.ToMany() {
		return &CardinalityError{Relation: rel.String(), Message: "target set supplied for a to-one relation"}
	}
	if len(targetIDs) == 0 {
		return nil
	}

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.lockRow(ctx, tx, src, id); err != nil {
			return err
		}
		for _, t := range targetIDs {
			if err := e.lockRow(ctx, tx, tgt, t); err != nil {
				return err
			}
		}

		switch rel.Kind {
		case model.OneToMany:
			// fk on each target row: invisible from the writer's side.
			var violations []OverwriteViolation
			for _, t := range targetIDs {
				current, err := e.foreignKeyOf(ctx, tx, tgt, rel.ForeignKeyColumn, t)
				if err != nil {
					return err
				}
				if current != "" && current != id {
					violations = append(violations, OverwriteViolation{
						Entity:   rel.Target.Entity,
						Relation: rel.Target.Name,
						ID:       t,
						Previous: current,
					})
				}
			}
			if len(violations) > 0 {
				return &BlindOverwriteError{Violations: violations}
			}
			for _, t := range targetIDs {
				if err := e.setForeignKey(ctx, tx, tgt, rel.ForeignKeyColumn, t, id); err != nil {
					return err
				}
			}
			return nil

		case model.ManyToMany:
			// Adding join rows never destroys an existing link.
			for _, t := range targetIDs {
				_, err := tx.ExecContext(ctx,
					fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING",
						rel.Join.Name, rel.Join.SourceColumn, rel.Join.TargetColumn), id, t)
				if err != nil {
					return err
				}
			}
			return nil

		default:
			return &CardinalityError{Relation: rel.String(), Message: "unsupported kind for AddLinks"}
		}
	})
	if err != nil {
		return err
	}
	e.log.Debug("links added",
		zap.String("entity", entityName), zap.String("id", id),
		zap.String("relation", relationName), zap.Int("targets", len(targetIDs)))
	return nil
}

// RemoveLinks unlinks a set of targets from the given instance over a
// to-many relation. Targets not currently linked are ignored. An empty
// target set is a no-op.
func (e *Engine) RemoveLinks(ctx context.Context, entityName, id, relationName string, targetIDs []string) error {
	rel, src, _, err := e.relation(entityName, relationName)
	if err != nil {
		return err
	}
	if !rel.ToMany() {
		return &CardinalityError{Relation: rel.String(), Message: "target set supplied for a to-one relation"}
	}
	if len(targetIDs) == 0 {
		return nil
	}

	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.lockRow(ctx, tx, src, id); err != nil {
			return err
		}
		placeholders := make([]string, len(targetIDs))
		args := []any{id}
		for i, t := range targetIDs {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, t)
		}
		in := strings.Join(placeholders, ", ")

		switch rel.Kind {
		case model.OneToMany:
			tgt, _ := e.app.Entity(rel.Target.Entity)
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = $1 AND %s IN (%s)",
					tgt.Table, rel.ForeignKeyColumn, rel.ForeignKeyColumn, tgt.KeyColumn(), in),
				args...)
			return err
		case model.ManyToMany:
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s IN (%s)",
					rel.Join.Name, rel.Join.SourceColumn, rel.Join.TargetColumn, in),
				args...)
			return err
		default:
			return &CardinalityError{Relation: rel.String(), Message: "unsupported kind for RemoveLinks"}
		}
	})
}

// IsLinked reports whether the given target is currently linked over the
// relation.
func (e *Engine) IsLinked(ctx context.Context, entityName, id, relationName, targetID string) (bool, error) {
	rel, src, tgt, err := e.relation(entityName, relationName)
	if err != nil {
		return false, err
	}
	var query string
	args := []any{id, targetID}
	switch rel.Kind {
	case model.SourceOneToOne, model.ManyToOne:
		query = fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s = $2)",
			src.Table, src.KeyColumn(), rel.ForeignKeyColumn)
	case model.TargetOneToOne, model.OneToMany:
		query = fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $2 AND %s = $1)",
			tgt.Table, tgt.KeyColumn(), rel.ForeignKeyColumn)
	case model.ManyToMany:
		query = fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s = $2)",
			rel.Join.Name, rel.Join.SourceColumn, rel.Join.TargetColumn)
	}
	var linked bool
	err = e.db.QueryRowContext(ctx, query, args...).Scan(&linked)
	return linked, err
}

// FindLinkTargets returns the records linked to the given instance over the
// relation. For to-one relations the result has at most one element.
func (e *Engine) FindLinkTargets(ctx context.Context, entityName, id, relationName string) ([]Record, error) {
	rel, src, tgt, err := e.relation(entityName, relationName)
	if err != nil {
		return nil, err
	}

	cols := tgt.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = "t." + c.Name
	}
	sel := strings.Join(names, ", ")

	var query string
	switch rel.Kind {
	case model.SourceOneToOne, model.ManyToOne:
		query = fmt.Sprintf(
			"SELECT %s FROM %s AS t WHERE t.%s = (SELECT %s FROM %s WHERE %s = $1)",
			sel, tgt.Table, tgt.KeyColumn(), rel.ForeignKeyColumn, src.Table, src.KeyColumn())
	case model.TargetOneToOne, model.OneToMany:
		query = fmt.Sprintf(
			"SELECT %s FROM %s AS t WHERE t.%s = $1 ORDER BY t.%s",
			sel, tgt.Table, rel.ForeignKeyColumn, tgt.KeyColumn())
	case model.ManyToMany:
		query = fmt.Sprintf(
			"SELECT %s FROM %s AS t WHERE EXISTS (SELECT 1 FROM %s AS j WHERE j.%s = $1 AND j.%s = t.%s) ORDER BY t.%s",
			sel, tgt.Table, rel.Join.Name, rel.Join.SourceColumn, rel.Join.TargetColumn, tgt.KeyColumn(), tgt.KeyColumn())
	}

	rows, err := e.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		targets := scanTargets(cols)
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		out = append(out, decodeRow(cols, targets))
	}
	return out, rows.Err()
}

// HasLinkTarget reports whether at least one target is linked.
func (e *Engine) HasLinkTarget(ctx context.Context, entityName, id, relationName string) (bool, error) {
	rel, src, tgt, err := e.relation(entityName, relationName)
	if err != nil {
		return false, err
	}
	var query string
	switch rel.Kind {
	case model.SourceOneToOne, model.ManyToOne:
		query = fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s IS NOT NULL)",
			src.Table, src.KeyColumn(), rel.ForeignKeyColumn)
	case model.TargetOneToOne, model.OneToMany:
		query = fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)",
			tgt.Table, rel.ForeignKeyColumn)
	case model.ManyToMany:
		query = fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)",
			rel.Join.Name, rel.Join.SourceColumn)
	}
	var has bool
	err = e.db.QueryRowContext(ctx, query, id).Scan(&has)
	return has, err
}

// foreignKeyOf reads the fk column of one row under the transaction's lock.
// Empty string means unlinked.
func (e *Engine) foreignKeyOf(ctx context.Context, tx *sql.Tx, owner *model.Entity, fkColumn, id string) (string, error) {
	var fk sql.NullString
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 FOR UPDATE", fkColumn, owner.Table, owner.KeyColumn()),
		id).Scan(&fk)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s %q", ErrNotFound, owner.Name, id)
	}
	if err != nil {
		return "", err
	}
	return fk.String, nil
}

// linkedOther returns the id of a row other than exclude whose fk column
// points at value, locking it for the transaction. Empty string means none.
func (e *Engine) linkedOther(ctx context.Context, tx *sql.Tx, owner *model.Entity, fkColumn, value, exclude string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 AND %s <> $2 LIMIT 1 FOR UPDATE",
			owner.KeyColumn(), owner.Table, fkColumn, owner.KeyColumn()),
		value, exclude).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// setForeignKey writes the fk column of one row. A nil target clears it.
func (e *Engine) setForeignKey(ctx context.Context, tx *sql.Tx, owner *model.Entity, fkColumn, id string, target any) error {
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s = $2 WHERE %s = $1", owner.Table, fkColumn, owner.KeyColumn()),
		id, target)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %q", ErrNotFound, owner.Name, id)
	}
	return nil
}
