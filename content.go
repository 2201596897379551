package trellis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/trellisdb/trellis/pkg/model"
)

// contentAttribute resolves a content attribute by name.
func (e *Engine) contentAttribute(entity *model.Entity, name string) (model.Attribute, error) {
	attr, ok := entity.Attribute(name)
	if !ok || attr.Kind != model.KindContent {
		return model.Attribute{}, fmt.Errorf("%w: %q is not a content attribute of %s",
			ErrUnknownAttribute, name, entity.Name)
	}
	return attr, nil
}

// contentVersion reads the stored content reference under q and derives its
// version. Absent content yields NonExistingVersion.
func contentVersion(ctx context.Context, q Querier, entity *model.Entity, attr model.Attribute, id string, forUpdate bool) (Version, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = $1",
		model.ColumnName(attr.Name, model.ContentID),
		model.ColumnName(attr.Name, model.ContentMimetype),
		entity.Table, entity.KeyColumn())
	if forUpdate {
		query += " FOR UPDATE"
	}
	var contentID, mimetype sql.NullString
	err := q.QueryRowContext(ctx, query, id).Scan(&contentID, &mimetype)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, fmt.Errorf("%w: %s %q", ErrNotFound, entity.Name, id)
	}
	if err != nil {
		return Version{}, err
	}
	if !contentID.Valid {
		return NonExistingVersion(), nil
	}
	return ComputeVersion(contentID.String, mimetype.String), nil
}

// ContentVersion returns the current version of a content attribute. The
// version of absent content is NonExistingVersion; comparing it against
// constraints works the same way as during mutation.
func (e *Engine) ContentVersion(ctx context.Context, entityName, id, attrName string) (Version, error) {
	entity, err := e.entity(entityName)
	if err != nil {
		return Version{}, err
	}
	attr, err := e.contentAttribute(entity, attrName)
	if err != nil {
		return Version{}, err
	}
	return contentVersion(ctx, e.db, entity, attr, id, false)
}

// PutContent stores the reference to already-uploaded content, gated by the
// version constraint. The current version is read under the same row lock as
// the write, so the precondition cannot be invalidated between check and
// commit. An unsatisfied constraint aborts before any column changes.
func (e *Engine) PutContent(ctx context.Context, entityName, id, attrName string, data ContentData, vc VersionConstraint) error {
	entity, err := e.entity(entityName)
	if err != nil {
		return err
	}
	attr, err := e.contentAttribute(entity, attrName)
	if err != nil {
		return err
	}
	if data.ID == "" {
		return &ValidationError{Entity: entityName, Violations: []FieldViolation{{
			Attribute: attrName + "." + model.ContentID,
			Message:   "content id must not be empty",
		}}}
	}

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		current, err := contentVersion(ctx, tx, entity, attr, id, true)
		if err != nil {
			return err
		}
		if !vc.SatisfiedBy(current) {
			return &UnsatisfiedVersionError{Entity: entityName, ID: id, Constraint: vc, Current: current}
		}
		actor, _ := ActorFrom(ctx)
		cols := e.auditColumns(entity, actor, false)
		cols[model.ColumnName(attr.Name, model.ContentID)] = data.ID
		cols[model.ColumnName(attr.Name, model.ContentFilename)] = nullable(data.Filename)
		cols[model.ColumnName(attr.Name, model.ContentMimetype)] = nullable(data.Mimetype)
		cols[model.ColumnName(attr.Name, model.ContentLength)] = data.Length
		return e.updateRow(ctx, tx, entity, id, cols)
	})
	if err != nil {
		return err
	}
	e.log.Debug("content stored",
		zap.String("entity", entityName), zap.String("id", id),
		zap.String("attribute", attrName), zap.String("content", data.ID))
	return nil
}

// DeleteContent clears the content reference, gated by the version
// constraint. Deleting already-absent content under AnyVersion is a no-op;
// under IfMatch it fails because no version exists to match.
func (e *Engine) DeleteContent(ctx context.Context, entityName, id, attrName string, vc VersionConstraint) error {
	entity, err := e.entity(entityName)
	if err != nil {
		return err
	}
	attr, err := e.contentAttribute(entity, attrName)
	if err != nil {
		return err
	}

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		current, err := contentVersion(ctx, tx, entity, attr, id, true)
		if err != nil {
			return err
		}
		if !vc.SatisfiedBy(current) {
			return &UnsatisfiedVersionError{Entity: entityName, ID: id, Constraint: vc, Current: current}
		}
		actor, _ := ActorFrom(ctx)
		cols := e.auditColumns(entity, actor, false)
		cols[model.ColumnName(attr.Name, model.ContentID)] = nil
		cols[model.ColumnName(attr.Name, model.ContentFilename)] = nil
		cols[model.ColumnName(attr.Name, model.ContentMimetype)] = nil
		cols[model.ColumnName(attr.Name, model.ContentLength)] = nil
		return e.updateRow(ctx, tx, entity, id, cols)
	})
	if err != nil {
		return err
	}
	e.log.Debug("content deleted",
		zap.String("entity", entityName), zap.String("id", id), zap.String("attribute", attrName))
	return nil
}
