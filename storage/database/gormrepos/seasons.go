package gormrepos

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kdance/registration/core/membership"
)

func (s *Store) CreateSeason(ctx context.Context, season *membership.Season) error {
	err := s.conn(ctx).Create(season).Error
	if isDuplicate(err) {
		return membership.ErrSeasonExists
	}
	return errors.Wrap(err, "creating season")
}

func (s *Store) UpdateSeason(ctx context.Context, season *membership.Season) error {
	err := s.conn(ctx).Save(season).Error
	if isDuplicate(err) {
		return membership.ErrSeasonExists
	}
	return errors.Wrap(err, "updating season")
}

func (s *Store) GetSeason(ctx context.Context, id int) (membership.Season, error) {
	var season membership.Season
	err := s.conn(ctx).First(&season, id).Error
	return season, notFound(err, membership.ErrNotFound)
}

func (s *Store) GetSeasonByYear(ctx context.Context, year string) (membership.Season, error) {
	var season membership.Season
	err := s.conn(ctx).Where("year = ?", year).First(&season).Error
	return season, notFound(err, membership.ErrNotFound)
}

func (s *Store) GetCurrentSeason(ctx context.Context) (membership.Season, error) {
	var season membership.Season
	err := s.conn(ctx).Where("is_current = ?", true).First(&season).Error
	return season, notFound(err, membership.ErrNoCurrentSeason)
}

func (s *Store) QuerySeasons(ctx context.Context, filter membership.SeasonFilter) ([]membership.Season, error) {
	db := s.conn(ctx)
	if filter.IsCurrent != nil {
		db = db.Where("is_current = ?", *filter.IsCurrent)
	}
	var seasons []membership.Season
	err := db.Order("year DESC").Find(&seasons).Error
	return seasons, errors.Wrap(err, "querying seasons")
}

// SetCurrentSeason clears the other seasons first: at most one season is ever current.
func (s *Store) SetCurrentSeason(ctx context.Context, id int) error {
	db := s.conn(ctx)
	err := db.Model(&membership.Season{}).Where("id <> ? AND is_current = ?", id, true).Update("is_current", false).Error
	if err != nil {
		return errors.Wrap(err, "clearing current season")
	}
	res := db.Model(&membership.Season{}).Where("id = ?", id).Update("is_current", true)
	if res.Error != nil {
		return errors.Wrap(res.Error, "setting current season")
	}
	if res.RowsAffected == 0 {
		return membership.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSeason(ctx context.Context, id int) error {
	db := s.conn(ctx)
	members := db.Model(&membership.Member{}).Select("id").Where("season_id = ?", id)
	if err := deleteMembers(db, members); err != nil {
		return err
	}
	payments := db.Model(&membership.Payment{}).Select("id").Where("season_id = ?", id)
	if err := deletePayments(db, payments); err != nil {
		return err
	}
	courses := db.Model(&membership.Course{}).Select("id").Where("season_id = ?", id)
	if err := db.Where("course_id IN (?)", courses).Delete(&membership.Enrollment{}).Error; err != nil {
		return errors.Wrap(err, "deleting enrollments")
	}
	if err := db.Where("season_id = ?", id).Delete(&membership.Course{}).Error; err != nil {
		return errors.Wrap(err, "deleting courses")
	}
	res := db.Delete(&membership.Season{}, id)
	if res.Error != nil {
		return errors.Wrap(res.Error, "deleting season")
	}
	if res.RowsAffected == 0 {
		return membership.ErrNotFound
	}
	return nil
}
