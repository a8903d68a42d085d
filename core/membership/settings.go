package membership

import (
	"context"

	"github.com/pkg/errors"
)

// Settings are the association-wide switches, read once per request and handed to the engine and the ledger.
type Settings struct {
	AllowSignup    bool
	AllowNewMember bool
	CurrentSeason  *Season // nil when no season is current
}

// LoadSettings reads the general settings and the current season through `repo`.
func LoadSettings(ctx context.Context, repo Repository) (Settings, error) {
	gs, err := repo.GetSettings(ctx)
	if err != nil {
		return Settings{}, errors.Wrap(err, "getting general settings")
	}
	settings := Settings{
		AllowSignup:    gs.AllowSignup,
		AllowNewMember: gs.AllowNewMember,
	}

	season, err := repo.GetCurrentSeason(ctx)
	switch {
	case err == nil:
		settings.CurrentSeason = &season
	case errors.Is(err, ErrNoCurrentSeason):
	default:
		return Settings{}, errors.Wrap(err, "getting current season")
	}
	return settings, nil
}

// Current returns the current season, or ErrNoCurrentSeason.
func (s Settings) Current() (Season, error) {
	if s.CurrentSeason == nil {
		return Season{}, ErrNoCurrentSeason
	}
	return *s.CurrentSeason, nil
}
