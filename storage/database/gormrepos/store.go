// Package gormrepos implements the repositories on gorm, for postgres (and sqlite in tests).
package gormrepos

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/membership"
)

const pgUniqueViolation = "23505"

// Store is the gorm membership.Store. Inside Atomic, the repository it hands out is bound to the transaction.
type Store struct {
	db *gorm.DB
}

var _ membership.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *Store) Atomic(ctx context.Context, fn func(repo membership.Repository) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// isDuplicate reports whether `err` is a unique constraint violation.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound maps gorm's record-not-found onto `sentinel`.
func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// order applies the orderings whose field is in `allowed` (api name -> column), or `fallback`.
func order(db *gorm.DB, orderings []core.DBOrdering, allowed map[string]string, fallback string) *gorm.DB {
	var applied bool
	for _, ord := range orderings {
		col, ok := allowed[ord.Field]
		if !ok {
			continue
		}
		db = db.Order(core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		applied = true
	}
	if !applied {
		db = db.Order(fallback)
	}
	return db
}

func like(search string) string {
	return "%" + strings.ToLower(search) + "%"
}

// deleteMembers deletes the members selected by `ids` (a slice or a subquery) with everything they own.
func deleteMembers(tx *gorm.DB, ids interface{}) error {
	owned := []interface{}{&membership.Enrollment{}, &membership.Contact{}, &membership.SportPass{}}
	for _, model := range owned {
		if err := tx.Where("member_id IN (?)", ids).Delete(model).Error; err != nil {
			return errors.Wrapf(err, "deleting %T", model)
		}
	}
	return errors.Wrap(tx.Where("id IN (?)", ids).Delete(&membership.Member{}).Error, "deleting members")
}

// deletePayments deletes the payments selected by `ids` (a slice or a subquery) with their checks and card payments.
func deletePayments(tx *gorm.DB, ids interface{}) error {
	owned := []interface{}{&membership.Check{}, &membership.CardPayment{}}
	for _, model := range owned {
		if err := tx.Where("payment_id IN (?)", ids).Delete(model).Error; err != nil {
			return errors.Wrapf(err, "deleting %T", model)
		}
	}
	return errors.Wrap(tx.Where("id IN (?)", ids).Delete(&membership.Payment{}).Error, "deleting payments")
}
