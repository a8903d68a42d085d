package gormrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/kdance/registration/core"
	"github.com/kdance/registration/core/membership"
	"github.com/kdance/registration/core/user"
)

var userOrderings = map[string]string{
	"id":         "id",
	"first_name": "first_name",
	"last_name":  "last_name",
	"email":      "email",
	"created":    "created_at",
	"last_login": "last_login",
}

// UserRepository is the gorm user.Repository.
type UserRepository struct {
	db *gorm.DB
}

var _ user.Repository = (*UserRepository)(nil)

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *UserRepository) EmailExists(ctx context.Context, email string, excludeID int) (bool, error) {
	var n int64
	err := r.conn(ctx).Model(&user.User{}).
		Where("LOWER(email) = LOWER(?) AND id <> ?", email, excludeID).
		Count(&n).Error
	return n > 0, errors.Wrap(err, "checking email")
}

func (r *UserRepository) CreateUser(ctx context.Context, usr *user.User) error {
	err := r.conn(ctx).Create(usr).Error
	if isDuplicate(err) {
		return user.ErrEmailExists
	}
	return errors.Wrap(err, "creating user")
}

func (r *UserRepository) GetUser(ctx context.Context, id int) (user.User, error) {
	var usr user.User
	err := r.conn(ctx).First(&usr, id).Error
	return usr, notFound(err, user.ErrNotFound)
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var usr user.User
	err := r.conn(ctx).Where("LOWER(email) = LOWER(?)", email).First(&usr).Error
	return usr, notFound(err, user.ErrNotFound)
}

// QueryUsers filters the roles in Go: postgres arrays have no sqlite counterpart.
func (r *UserRepository) QueryUsers(ctx context.Context, filter user.QueryFilter, ordering ...core.DBOrdering) ([]user.User, error) {
	db := r.conn(ctx)
	if filter.Search != "" {
		pattern := like(filter.Search)
		db = db.Where("(LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ?)", pattern, pattern, pattern)
	}
	if filter.IsActive != nil {
		db = db.Where("is_active = ?", *filter.IsActive)
	}
	db = order(db, ordering, userOrderings, "last_name, first_name")

	var users []user.User
	if err := db.Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	if len(filter.Roles) == 0 {
		return users, nil
	}

	matched := users[:0]
	for _, usr := range users {
		for _, role := range filter.Roles {
			if usr.HasRole(role) {
				matched = append(matched, usr)
				break
			}
		}
	}
	return matched, nil
}

func (r *UserRepository) UpdateUser(ctx context.Context, usr *user.User) error {
	err := r.conn(ctx).Save(usr).Error
	if isDuplicate(err) {
		return user.ErrEmailExists
	}
	return errors.Wrap(err, "updating user")
}

func (r *UserRepository) SetLastLogin(ctx context.Context, id int, at time.Time) error {
	err := r.conn(ctx).Model(&user.User{}).Where("id = ?", id).Update("last_login", at).Error
	return errors.Wrap(err, "setting last login")
}

// DeleteUsers deletes the users with their members and payments.
func (r *UserRepository) DeleteUsers(ctx context.Context, ids ...int) error {
	if len(ids) == 0 {
		return nil
	}
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		members := tx.Model(&membership.Member{}).Select("id").Where("user_id IN ?", ids)
		if err := deleteMembers(tx, members); err != nil {
			return err
		}
		payments := tx.Model(&membership.Payment{}).Select("id").Where("user_id IN ?", ids)
		if err := deletePayments(tx, payments); err != nil {
			return err
		}
		return errors.Wrap(tx.Where("id IN ?", ids).Delete(&user.User{}).Error, "deleting users")
	})
}
