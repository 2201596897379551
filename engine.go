package trellis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trellisdb/trellis/pkg/filter"
	"github.com/trellisdb/trellis/pkg/model"
	"github.com/trellisdb/trellis/pkg/sqlgen"
	"github.com/trellisdb/trellis/pkg/xpr"
)

// ListOptions control ordering and pagination of FindAll.
type ListOptions struct {
	Limit      int
	Offset     int
	Sort       string
	Descending bool
}

func (e *Engine) entity(name string) (*model.Entity, error) {
	entity, ok := e.app.Entity(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return entity, nil
}

// Create validates the payload, generates a primary key and inserts one
// entity instance. Audit attributes are populated from the context actor.
// All payload violations are reported together in one ValidationError.
func (e *Engine) Create(ctx context.Context, entityName string, rec Record) (string, error) {
	entity, err := e.entity(entityName)
	if err != nil {
		return "", err
	}
	cols, violations := encodeRecord(entity, rec, false)
	if len(violations) > 0 {
		return "", &ValidationError{Entity: entityName, Violations: violations}
	}
	actor, _ := ActorFrom(ctx)
	for k, v := range e.auditColumns(entity, actor, true) {
		cols[k] = v
	}
	id := uuid.NewString()
	cols[entity.KeyColumn()] = id

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		vs, err := e.checkUnique(ctx, tx, entity, cols, "")
		if err != nil {
			return err
		}
		if len(vs) > 0 {
			return &ValidationError{Entity: entityName, Violations: vs}
		}
		return e.insert(ctx, tx, entity, cols)
	})
	if err != nil {
		return "", err
	}
	e.log.Debug("entity created", zap.String("entity", entityName), zap.String("id", id))
	return id, nil
}

// Update replaces all attributes of an existing instance. Attributes absent
// from the payload are cleared; required attributes must be present.
// Content attributes are exempt: their bytes and metadata survive a full
// update and change only through PutContent and DeleteContent, so the
// content version gate cannot be bypassed by a record write.
func (e *Engine) Update(ctx context.Context, entityName, id string, rec Record) error {
	return e.update(ctx, entityName, id, rec, false)
}

// Patch updates only the supplied attributes. Absence of a required
// attribute is not an error; an explicit null for one is. Content
// attributes cannot be patched; use PutContent and DeleteContent.
func (e *Engine) Patch(ctx context.Context, entityName, id string, rec Record) error {
	return e.update(ctx, entityName, id, rec, true)
}

func (e *Engine) update(ctx context.Context, entityName, id string, rec Record, partial bool) error {
	entity, err := e.entity(entityName)
	if err != nil {
		return err
	}
	cols, violations := encodeRecord(entity, rec, partial)
	if len(violations) > 0 {
		return &ValidationError{Entity: entityName, Violations: violations}
	}
	actor, _ := ActorFrom(ctx)
	for k, v := range e.auditColumns(entity, actor, false) {
		cols[k] = v
	}

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.lockRow(ctx, tx, entity, id); err != nil {
			return err
		}
		vs, err := e.checkUnique(ctx, tx, entity, cols, id)
		if err != nil {
			return err
		}
		if len(vs) > 0 {
			return &ValidationError{Entity: entityName, Violations: vs}
		}
		return e.updateRow(ctx, tx, entity, id, cols)
	})
	if err != nil {
		return err
	}
	e.log.Debug("entity updated", zap.String("entity", entityName), zap.String("id", id), zap.Bool("partial", partial))
	return nil
}

// Delete removes one instance. Incoming foreign keys are cleared and join
// rows removed by the schema's referential actions.
func (e *Engine) Delete(ctx context.Context, entityName, id string) error {
	entity, err := e.entity(entityName)
	if err != nil {
		return err
	}
	res, err := e.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = $1", entity.Table, entity.KeyColumn()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %q", ErrNotFound, entityName, id)
	}
	e.log.Debug("entity deleted", zap.String("entity", entityName), zap.String("id", id))
	return nil
}

// DeleteAll removes every instance of the entity and returns how many rows
// were deleted.
func (e *Engine) DeleteAll(ctx context.Context, entityName string) (int64, error) {
	entity, err := e.entity(entityName)
	if err != nil {
		return 0, err
	}
	res, err := e.db.ExecContext(ctx, "DELETE FROM "+entity.Table)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FindByID returns the typed attribute data of one instance.
func (e *Engine) FindByID(ctx context.Context, entityName, id string) (Record, error) {
	entity, err := e.entity(entityName)
	if err != nil {
		return nil, err
	}
	cols := entity.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	targets := scanTargets(cols)
	err = e.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
			strings.Join(names, ", "), entity.Table, entity.KeyColumn()),
		id).Scan(targets...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, entityName, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRow(cols, targets), nil
}

// FindAll lists instances matching the declared search filters compiled
// from params, AND-combined with the caller's authorization predicate.
// A nil predicate means unrestricted. Read-only: never mutates.
func (e *Engine) FindAll(ctx context.Context, entityName string, params map[string][]string, authz xpr.Expr, opts ListOptions) ([]Record, error) {
	entity, err := e.entity(entityName)
	if err != nil {
		return nil, err
	}
	low, cond, err := e.lowerPredicates(entity, params, authz)
	if err != nil {
		return nil, err
	}

	alias := low.RootAlias()
	cols := entity.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = alias + "." + c.Name
	}

	orderCol := entity.KeyColumn()
	if opts.Sort != "" {
		if !entity.SortableField(opts.Sort) {
			return nil, fmt.Errorf("%w: %q is not sortable on %s", ErrUnknownAttribute, opts.Sort, entityName)
		}
		orderCol = opts.Sort
	}
	direction := "ASC"
	if opts.Descending {
		direction = "DESC"
	}

	query := fmt.Sprintf("SELECT %s FROM %s AS %s WHERE %s ORDER BY %s.%s %s",
		strings.Join(names, ", "), entity.Table, alias, cond, alias, orderCol, direction)
	if opts.Limit > 0 {
		query += " LIMIT " + low.Bind(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + low.Bind(opts.Offset)
	}

	rows, err := e.db.QueryContext(ctx, query, low.Args()...)
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

// Count computes the size of the result set FindAll would return. Counting
// is time-boxed: past the configured timeout the engine falls back to a
// capped count and reports exact=false instead of blocking indefinitely.
func (e *Engine) Count(ctx context.Context, entityName string, params map[string][]string, authz xpr.Expr) (count int64, exact bool, err error) {
	entity, err := e.entity(entityName)
	if err != nil {
		return 0, false, err
	}
	low, cond, err := e.lowerPredicates(entity, params, authz)
	if err != nil {
		return 0, false, err
	}
	alias := low.RootAlias()
	args := low.Args()

	cctx, cancel := context.WithTimeout(ctx, e.countTimeout)
	defer cancel()
	err = e.db.QueryRowContext(cctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s AS %s WHERE %s", entity.Table, alias, cond),
		args...).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, context.DeadlineExceeded) && cctx.Err() == nil {
		return 0, false, err
	}

	// Exact count took too long: bound the scan with the cap instead.
	e.log.Warn("count timed out, falling back to capped count",
		zap.String("entity", entityName), zap.Duration("timeout", e.countTimeout))
	capped := append(append([]any{}, args...), e.countCap)
	err = e.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM (SELECT 1 FROM %s AS %s WHERE %s LIMIT $%d) bounded",
			entity.Table, alias, cond, len(capped)),
		capped...).Scan(&count)
	if err != nil {
		return 0, false, err
	}
	return count, false, nil
}

// lowerPredicates compiles the filter parameters, AND-combines them with the
// authorization predicate and lowers the result through a single Lowerer so
// aliases stay unique across both.
func (e *Engine) lowerPredicates(entity *model.Entity, params map[string][]string, authz xpr.Expr) (*sqlgen.Lowerer, string, error) {
	filterExpr, err := filter.Compile(e.app, entity, params)
	if err != nil {
		return nil, "", err
	}
	low := sqlgen.NewLowerer(e.app, entity)
	cond, err := low.Lower(xpr.And(filterExpr, authz))
	if err != nil {
		return nil, "", err
	}
	return low, cond, nil
}

// lockRow locks one row for the remainder of the transaction so
// check-then-act sequences are atomic with respect to concurrent writers.
func (e *Engine) lockRow(ctx context.Context, tx *sql.Tx, entity *model.Entity, id string) error {
	var one int
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE %s = $1 FOR UPDATE", entity.Table, entity.KeyColumn()),
		id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %q", ErrNotFound, entity.Name, id)
	}
	return err
}

// checkUnique verifies uniqueness-constrained columns against existing rows
// inside the surrounding transaction, excluding the row being updated.
// Storage errors propagate as-is; conflicts are collected as violations.
func (e *Engine) checkUnique(ctx context.Context, tx *sql.Tx, entity *model.Entity, cols map[string]any, excludeID string) ([]FieldViolation, error) {
	var violations []FieldViolation
	for _, c := range entity.Columns() {
		if !c.Unique || c.Name == entity.KeyColumn() {
			continue
		}
		v, ok := cols[c.Name]
		if !ok || v == nil {
			continue
		}
		query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1", entity.Table, c.Name)
		args := []any{v}
		if excludeID != "" {
			query += fmt.Sprintf(" AND %s <> $2", entity.KeyColumn())
			args = append(args, excludeID)
		}
		query += ")"
		var exists bool
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			violations = append(violations, FieldViolation{
				Attribute: strings.ReplaceAll(c.Name, "__", "."),
				Message:   "value already exists",
				Value:     v,
			})
		}
	}
	return violations, nil
}

func (e *Engine) insert(ctx context.Context, tx *sql.Tx, entity *model.Entity, cols map[string]any) error {
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = cols[name]
	}
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			entity.Table, strings.Join(names, ", "), strings.Join(placeholders, ", ")),
		args...)
	return e.writeError(entity, err)
}

func (e *Engine) updateRow(ctx context.Context, tx *sql.Tx, entity *model.Entity, id string, cols map[string]any) error {
	if len(cols) == 0 {
		return nil
	}
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	sets := make([]string, len(names))
	args := make([]any, 0, len(names)+1)
	args = append(args, id)
	for i, name := range names {
		sets[i] = fmt.Sprintf("%s = $%d", name, i+2)
		args = append(args, cols[name])
	}
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1",
			entity.Table, strings.Join(sets, ", "), entity.KeyColumn()),
		args...)
	return e.writeError(entity, err)
}

// writeError classifies driver errors raised by row writes. A unique
// violation means a concurrent writer committed between checkUnique's read
// and this write; it surfaces as the same ValidationError the check would
// have produced. The attribute is recovered from the constraint name when
// the driver includes it. Everything else propagates unmodified.
func (e *Engine) writeError(entity *model.Entity, err error) error {
	if err == nil || sqlState(err) != pgUniqueViolation {
		return err
	}
	v := FieldViolation{Message: "value already exists"}
	msg := err.Error()
	for _, c := range entity.Columns() {
		if c.Unique && strings.Contains(msg, entity.Table+"_"+c.Name+"_key") {
			v.Attribute = strings.ReplaceAll(c.Name, "__", ".")
			break
		}
	}
	return &ValidationError{Entity: entity.Name, Violations: []FieldViolation{v}}
}
