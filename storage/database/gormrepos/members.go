package gormrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kdance/registration/core/membership"
)

var memberOrderings = map[string]string{
	"id":         "id",
	"first_name": "first_name",
	"last_name":  "last_name",
	"city":       "city",
	"birthday":   "birthday",
	"created":    "created_at",
}

func withMemberRelations(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Contacts", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("SportPass").
		Preload("Enrollments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, course_id") }).
		Preload("Enrollments.Course").
		Preload("User")
}

// saveMemberChildren replaces the contacts and the sport pass of `member`.
func saveMemberChildren(db *gorm.DB, member *membership.Member) error {
	if err := db.Where("member_id = ?", member.ID).Delete(&membership.Contact{}).Error; err != nil {
		return errors.Wrap(err, "deleting contacts")
	}
	if len(member.Contacts) > 0 {
		for i := range member.Contacts {
			member.Contacts[i].ID = 0
			member.Contacts[i].MemberID = member.ID
		}
		if err := db.Create(&member.Contacts).Error; err != nil {
			return errors.Wrap(err, "creating contacts")
		}
	}

	if err := db.Where("member_id = ?", member.ID).Delete(&membership.SportPass{}).Error; err != nil {
		return errors.Wrap(err, "deleting sport pass")
	}
	if member.SportPass != nil {
		member.SportPass.ID = 0
		member.SportPass.MemberID = member.ID
		if err := db.Create(member.SportPass).Error; err != nil {
			return errors.Wrap(err, "creating sport pass")
		}
	}
	return nil
}

func (s *Store) CreateMember(ctx context.Context, member *membership.Member) error {
	db := s.conn(ctx)
	err := db.Omit(clause.Associations).Create(member).Error
	if isDuplicate(err) {
		return membership.ErrMemberExists
	}
	if err != nil {
		return errors.Wrap(err, "creating member")
	}
	return saveMemberChildren(db, member)
}

func (s *Store) UpdateMember(ctx context.Context, member *membership.Member) error {
	db := s.conn(ctx)
	err := db.Omit(clause.Associations).Save(member).Error
	if isDuplicate(err) {
		return membership.ErrMemberExists
	}
	if err != nil {
		return errors.Wrap(err, "updating member")
	}
	return saveMemberChildren(db, member)
}

func (s *Store) GetMember(ctx context.Context, id int) (membership.Member, error) {
	var member membership.Member
	err := withMemberRelations(s.conn(ctx)).First(&member, id).Error
	return member, notFound(err, membership.ErrNotFound)
}

func (s *Store) QueryMembers(ctx context.Context, filter membership.MemberFilter) ([]membership.Member, error) {
	db := s.conn(ctx)
	if filter.SeasonID != 0 {
		db = db.Where("season_id = ?", filter.SeasonID)
	}
	if filter.UserID != 0 {
		db = db.Where("user_id = ?", filter.UserID)
	}
	if filter.CourseID != 0 {
		db = db.Where("id IN (?)", s.conn(ctx).Model(&membership.Enrollment{}).Select("member_id").Where("course_id = ?", filter.CourseID))
	}
	if filter.WithPass != nil {
		cond := "EXISTS (SELECT 1 FROM sport_passes WHERE sport_passes.member_id = members.id)"
		if !*filter.WithPass {
			cond = "NOT " + cond
		}
		db = db.Where(cond)
	}
	if filter.WithLicense != nil {
		if *filter.WithLicense {
			db = db.Where("ffd_license > 0")
		} else {
			db = db.Where("ffd_license = 0")
		}
	}
	if filter.Search != "" {
		pattern := like(filter.Search)
		db = db.Where("(LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ?)", pattern, pattern, pattern)
	}
	db = order(db, filter.Ordering, memberOrderings, "season_id DESC, last_name, first_name")

	var members []membership.Member
	err := withMemberRelations(db).Find(&members).Error
	return members, errors.Wrap(err, "querying members")
}

// MemberExists looks for a member with the same identity in the season of year `seasonYear`.
func (s *Store) MemberExists(ctx context.Context, firstName, lastName string, birthday time.Time, seasonYear string) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&membership.Member{}).
		Joins("JOIN seasons ON seasons.id = members.season_id").
		Where("members.first_name = ? AND members.last_name = ? AND members.birthday = ? AND seasons.year = ?",
			firstName, lastName, datatypes.Date(birthday), seasonYear).
		Count(&n).Error
	return n > 0, errors.Wrap(err, "checking member")
}

func (s *Store) SetValidated(ctx context.Context, memberIDs ...int) error {
	if len(memberIDs) == 0 {
		return nil
	}
	err := s.conn(ctx).Model(&membership.Member{}).Where("id IN ?", memberIDs).Update("is_validated", true).Error
	return errors.Wrap(err, "validating members")
}

func (s *Store) AddCancelRefund(ctx context.Context, memberID int, delta decimal.Decimal) error {
	err := s.conn(ctx).Model(&membership.Member{}).
		Where("id = ?", memberID).
		Update("cancel_refund", gorm.Expr("cancel_refund + ?", delta)).Error
	return errors.Wrap(err, "updating cancel refund")
}

func (s *Store) DeleteMember(ctx context.Context, id int) error {
	db := s.conn(ctx)
	if err := db.First(&membership.Member{}, id).Error; err != nil {
		return notFound(err, membership.ErrNotFound)
	}
	return deleteMembers(db, []int{id})
}
