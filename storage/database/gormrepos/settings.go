package gormrepos

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kdance/registration/core/membership"
)

// GetSettings creates the settings row with the defaults on first read.
func (s *Store) GetSettings(ctx context.Context) (membership.GeneralSettings, error) {
	var gs membership.GeneralSettings
	err := s.conn(ctx).
		Where(membership.GeneralSettings{ID: 1}).
		Attrs(membership.DefaultSettings()).
		FirstOrCreate(&gs).Error
	return gs, errors.Wrap(err, "loading settings")
}

func (s *Store) SaveSettings(ctx context.Context, settings *membership.GeneralSettings) error {
	settings.ID = 1
	return errors.Wrap(s.conn(ctx).Save(settings).Error, "saving settings")
}
