// Package store is the ledger's entity store: point reads and writes of
// documents addressed by (id, routing key), optimistic concurrency through the
// version token, lazy query sequences, and single-partition transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"gorm.io/gorm"

	apperrors "envledger/internal/errors"
	"envledger/internal/models"
	"envledger/internal/query"
)

// Store persists ledger documents through gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Now returns the store clock in UTC.
func (s *Store) Now() time.Time { return s.now() }

// Get reads the active document with id under routingKey into dest.
// Missing and soft-deleted documents both yield notFound.
func (s *Store) Get(ctx context.Context, dest models.Document, id, routingKey string, notFound *apperrors.AppError) error {
	return get(s.db.WithContext(ctx), dest, id, routingKey, notFound, false)
}

// GetIncludingInactive is Get without the soft-delete filter.
func (s *Store) GetIncludingInactive(ctx context.Context, dest models.Document, id, routingKey string, notFound *apperrors.AppError) error {
	return get(s.db.WithContext(ctx), dest, id, routingKey, notFound, true)
}

// Create inserts doc with a fresh id, version 1 and audit stamps for principal.
func (s *Store) Create(ctx context.Context, doc models.Document, principal string) error {
	return create(s.db.WithContext(ctx), doc, principal, s.now())
}

// Put replaces doc if its stored version still equals expectedVersion and
// bumps the version. A stale version yields ErrConcurrencyConflict; a row that
// no longer exists yields notFound.
func (s *Store) Put(ctx context.Context, doc models.Document, expectedVersion int64, principal string, notFound *apperrors.AppError) error {
	return put(s.db.WithContext(ctx), doc, expectedVersion, principal, s.now(), notFound)
}

// Query runs a validated plan and yields rows one at a time. The sequence
// stops at the first error, which is yielded with a nil row.
func Query[T any](ctx context.Context, db *gorm.DB, plan query.Plan) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		if err := plan.Validate(); err != nil {
			yield(nil, err)
			return
		}
		q := plan.Apply(db.WithContext(ctx))
		rows, err := q.Rows()
		if err != nil {
			yield(nil, apperrors.Wrap(apperrors.ErrInternalServer, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			item := new(T)
			if err := db.ScanRows(rows, item); err != nil {
				yield(nil, apperrors.Wrap(apperrors.ErrInternalServer, err))
				return
			}
			if !yield(item, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, apperrors.Wrap(apperrors.ErrInternalServer, err))
		}
	}
}

// Collect drains a query sequence into a slice.
func Collect[T any](seq iter.Seq2[*T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, nil
}

// Count returns the number of rows a plan matches, ignoring its paging.
func Count(ctx context.Context, db *gorm.DB, plan query.Plan) (int64, error) {
	if err := plan.Validate(); err != nil {
		return 0, err
	}
	var n int64
	if err := plan.Count().Apply(db.WithContext(ctx)).Count(&n).Error; err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return n, nil
}

func get(db *gorm.DB, dest models.Document, id, routingKey string, notFound *apperrors.AppError, includeInactive bool) error {
	if id == "" {
		return notFound
	}
	q := db.Where("id = ?", id)
	if col := dest.RoutingColumn(); col != models.RoutingByID {
		q = q.Where(col+" = ?", routingKey)
	}
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	if err := q.First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound
		}
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

func create(db *gorm.DB, doc models.Document, principal string, now time.Time) error {
	base := doc.GetBase()
	base.Version = 1
	base.IsActive = true
	base.Touch(principal, now)
	if err := db.Create(doc).Error; err != nil {
		return writeError(err)
	}
	return nil
}

func put(db *gorm.DB, doc models.Document, expectedVersion int64, principal string, now time.Time, notFound *apperrors.AppError) error {
	base := doc.GetBase()
	if base.ID == "" {
		return apperrors.WithMessage(apperrors.ErrInternalServer, "put requires a stored document")
	}
	prev := *base
	base.Version = expectedVersion + 1
	base.Touch(principal, now)

	q := db.Model(doc).
		Where("version = ?", expectedVersion).
		Select("*").
		Omit("id", "created_at", "created_by")
	if col := doc.RoutingColumn(); col != models.RoutingByID {
		q = q.Where(col+" = ?", doc.RoutingKey())
	}
	res := q.Updates(doc)
	if res.Error != nil {
		*base = prev
		return writeError(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	*base = prev

	var n int64
	if err := db.Model(doc).Where("id = ?", base.ID).Count(&n).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if n == 0 {
		return notFound
	}
	return apperrors.WithMessage(apperrors.ErrConcurrencyConflict,
		fmt.Sprintf("document %s is no longer at version %d; re-read and retry", base.ID, expectedVersion))
}

// writeError classifies a failed write. A unique index violation means a
// concurrent writer claimed the same slot first (the one-current-budget index,
// a first-login user row), so it is reported as a retryable conflict. The
// gorm session must be opened with TranslateError for this to apply.
func writeError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.Wrap(apperrors.ErrConcurrencyConflict, err)
	}
	return apperrors.Wrap(apperrors.ErrInternalServer, err)
}
