package variant

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/marketpulse/indicatorengine/internal/errs"
)

// Repository is the C4 contract the rest of the system depends on.
type Repository interface {
	Create(ctx context.Context, in CreateInput) (string, error)
	Get(ctx context.Context, id string) (*Variant, error)
	List(ctx context.Context, filters ListFilters) ([]Variant, error)
	Update(ctx context.Context, id string, patch UpdateInput) error
	Delete(ctx context.Context, id string) error
}

// postgresRepo is a sqlx-backed Repository, grounded on
// internal/persistence/postgres/regime_repo.go's constructor/context-
// timeout idiom.
type postgresRepo struct {
	db        *sqlx.DB
	timeout   time.Duration
	validator Validator
}

// NewPostgresRepo returns a Repository backed by Postgres. validator
// resolves and validates parameters against the algorithm registry.
func NewPostgresRepo(db *sqlx.DB, timeout time.Duration, validator Validator) Repository {
	return &postgresRepo{db: db, timeout: timeout, validator: validator}
}

type variantRow struct {
	ID                string         `db:"id"`
	Name              string         `db:"name"`
	BaseIndicatorType string         `db:"base_indicator_type"`
	VariantType       string         `db:"variant_type"`
	Description       string         `db:"description"`
	Parameters        []byte         `db:"parameters"`
	IsSystem          bool           `db:"is_system"`
	CreatedBy         string         `db:"created_by"`
	UserID            string         `db:"user_id"`
	Scope             string         `db:"scope"`
	IsDeleted         bool           `db:"is_deleted"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	DeletedAt         sql.NullTime   `db:"deleted_at"`
	SchemaVersion     int            `db:"schema_version"`
}

func (row variantRow) toVariant() (*Variant, error) {
	var params map[string]any
	if len(row.Parameters) > 0 {
		if err := json.Unmarshal(row.Parameters, &params); err != nil {
			return nil, fmt.Errorf("%w: decoding parameters: %v", errs.ErrFatalStore, err)
		}
	}
	v := &Variant{
		ID:                row.ID,
		Name:              row.Name,
		BaseIndicatorType: row.BaseIndicatorType,
		VariantType:       row.VariantType,
		Description:       row.Description,
		Parameters:        params,
		IsSystem:          row.IsSystem,
		CreatedBy:         row.CreatedBy,
		UserID:            row.UserID,
		Scope:             row.Scope,
		IsDeleted:         row.IsDeleted,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
		SchemaVersion:     row.SchemaVersion,
	}
	if row.DeletedAt.Valid {
		t := row.DeletedAt.Time
		v.DeletedAt = &t
	}
	return v, nil
}

func (r *postgresRepo) Create(ctx context.Context, in CreateInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	coerced, err := ValidateAndCoerce(r.validator, in.BaseIndicatorType, in.Parameters)
	if err != nil {
		return "", err
	}
	paramsJSON, err := json.Marshal(coerced)
	if err != nil {
		return "", fmt.Errorf("%w: encoding parameters: %v", errs.ErrFatalStore, err)
	}

	id := NewID()
	now := time.Now().UTC()

	const q = `
		INSERT INTO indicator_variants
			(id, name, base_indicator_type, variant_type, description, parameters,
			 is_system, created_by, user_id, scope, is_deleted, created_at, updated_at, schema_version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,false,$11,$11,1)`

	_, err = r.db.ExecContext(ctx, q,
		id, in.Name, in.BaseIndicatorType, in.VariantType, in.Description, paramsJSON,
		in.IsSystem, in.CreatedBy, in.UserID, in.Scope, now)
	if err != nil {
		log.Error().Err(err).Str("base_indicator_type", in.BaseIndicatorType).Msg("variant_repo.create_failed")
		return "", fmt.Errorf("%w: %v", errs.ErrFatalStore, err)
	}
	return id, nil
}

func (r *postgresRepo) Get(ctx context.Context, id string) (*Variant, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const q = `SELECT * FROM indicator_variants WHERE id = $1 AND is_deleted = false`
	var row variantRow
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrVariantNotFound
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	return row.toVariant()
}

func (r *postgresRepo) List(ctx context.Context, filters ListFilters) ([]Variant, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q := `SELECT * FROM indicator_variants WHERE is_deleted = false`
	args := []any{}
	argN := 0
	next := func() string { argN++; return fmt.Sprintf("$%d", argN) }

	if filters.VariantType != "" {
		q += " AND variant_type = " + next()
		args = append(args, filters.VariantType)
	}
	if filters.BaseIndicatorType != "" {
		q += " AND base_indicator_type = " + next()
		args = append(args, filters.BaseIndicatorType)
	}
	if filters.UserID != "" && filters.IncludeGlobal {
		q += fmt.Sprintf(" AND (user_id = %s OR scope = 'global')", next())
		args = append(args, filters.UserID)
	} else if filters.UserID != "" {
		q += " AND user_id = " + next()
		args = append(args, filters.UserID)
	} else if filters.Scope != "" {
		q += " AND scope = " + next()
		args = append(args, filters.Scope)
	}
	q += " ORDER BY created_at DESC"

	var rows []variantRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}

	out := make([]Variant, 0, len(rows))
	for _, row := range rows {
		v, err := row.toVariant()
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (r *postgresRepo) Update(ctx context.Context, id string, patch UpdateInput) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	name := existing.Name
	if patch.Name != nil {
		name = *patch.Name
	}
	description := existing.Description
	if patch.Description != nil {
		description = *patch.Description
	}
	scope := existing.Scope
	if patch.Scope != nil {
		scope = *patch.Scope
	}
	params := existing.Parameters
	if patch.Parameters != nil {
		coerced, err := ValidateAndCoerce(r.validator, existing.BaseIndicatorType, patch.Parameters)
		if err != nil {
			return err
		}
		params = coerced
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: encoding parameters: %v", errs.ErrFatalStore, err)
	}

	const q = `
		UPDATE indicator_variants
		SET name=$1, description=$2, scope=$3, parameters=$4, updated_at=$5
		WHERE id=$6 AND is_deleted=false`
	res, err := r.db.ExecContext(ctx, q, name, description, scope, paramsJSON, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrFatalStore, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrVariantNotFound
	}
	return nil
}

func (r *postgresRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const q = `UPDATE indicator_variants SET is_deleted=true, deleted_at=$1 WHERE id=$2 AND is_deleted=false`
	res, err := r.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrFatalStore, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrVariantNotFound
	}
	return nil
}
