package gormrepos

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kdance/registration/core/membership"
	"github.com/kdance/registration/core/user"
)

func withPaymentRelations(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Checks", func(db *gorm.DB) *gorm.DB { return db.Order("month, id") }).
		Preload("CardPayments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Preload("User")
}

func (s *Store) CreatePayment(ctx context.Context, payment *membership.Payment) error {
	err := s.conn(ctx).Omit(clause.Associations).Create(payment).Error
	return errors.Wrap(err, "creating payment")
}

func (s *Store) UpdatePayment(ctx context.Context, payment *membership.Payment) error {
	db := s.conn(ctx)
	if err := db.Omit(clause.Associations).Save(payment).Error; err != nil {
		return errors.Wrap(err, "updating payment")
	}
	if err := db.Where("payment_id = ?", payment.ID).Delete(&membership.Check{}).Error; err != nil {
		return errors.Wrap(err, "deleting checks")
	}
	if len(payment.Checks) == 0 {
		return nil
	}
	for i := range payment.Checks {
		payment.Checks[i].ID = 0
		payment.Checks[i].PaymentID = payment.ID
	}
	return errors.Wrap(db.Create(&payment.Checks).Error, "creating checks")
}

func (s *Store) GetPayment(ctx context.Context, id int) (membership.Payment, error) {
	var payment membership.Payment
	err := withPaymentRelations(s.conn(ctx)).First(&payment, id).Error
	return payment, notFound(err, membership.ErrNotFound)
}

func (s *Store) GetPaymentFor(ctx context.Context, userID, seasonID int) (membership.Payment, error) {
	var payment membership.Payment
	err := withPaymentRelations(s.conn(ctx)).
		Where("user_id = ? AND season_id = ?", userID, seasonID).
		First(&payment).Error
	return payment, notFound(err, membership.ErrPaymentNotFound)
}

func (s *Store) QueryPayments(ctx context.Context, filter membership.PaymentFilter) ([]membership.Payment, error) {
	db := s.conn(ctx)
	if filter.SeasonID != 0 {
		db = db.Where("season_id = ?", filter.SeasonID)
	}
	if filter.UserID != 0 {
		db = db.Where("user_id = ?", filter.UserID)
	}
	var payments []membership.Payment
	err := withPaymentRelations(db).Order("season_id DESC, user_id").Find(&payments).Error
	return payments, errors.Wrap(err, "querying payments")
}

func (s *Store) AddCardPayment(ctx context.Context, card *membership.CardPayment) error {
	return errors.Wrap(s.conn(ctx).Create(card).Error, "creating card payment")
}

func (s *Store) QueryChecks(ctx context.Context, filter membership.CheckFilter) ([]membership.Check, error) {
	db := s.conn(ctx).Joins("JOIN payments ON payments.id = checks.payment_id")
	if filter.SeasonID != 0 {
		db = db.Where("payments.season_id = ?", filter.SeasonID)
	}
	if filter.Month != 0 {
		db = db.Where("checks.month = ?", filter.Month)
	}
	var checks []membership.Check
	err := db.Order("checks.month, checks.bank, checks.id").Find(&checks).Error
	return checks, errors.Wrap(err, "querying checks")
}

// UserIDs lists every account: each one gets a payment when a season opens.
func (s *Store) UserIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := s.conn(ctx).Model(&user.User{}).Order("id").Pluck("id", &ids).Error
	return ids, errors.Wrap(err, "listing users")
}
