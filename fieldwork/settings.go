/*
settings.go - Explicit configuration value object

PURPOSE:
  Global defaults (monthly cap, default commission, ratio thresholds) live
  in an external settings store. The engine never reads ambient global
  state: each operation receives a Settings value sourced once per request
  through a SettingsSource, falling back to the hardcoded defaults below
  when the external store has nothing.

DEFAULTS (regulatory/business constants):
  Monthly cap:          130h, 160h for calendar year 2027
  Default commission:   0.54
  Restricted-ratio max: 40% (BCBA), 60% (BCaBA)
*/
package fieldwork

import (
	"context"

	"github.com/shopspring/decimal"
)

// Settings carries every tunable the validator, rate resolver, and billing
// cycle consult. Zero fields are not meaningful; construct via
// DefaultSettings and override.
type Settings struct {
	MonthlyCap        decimal.Decimal
	MonthlyCap2027    decimal.Decimal
	DefaultCommission decimal.Decimal
	RestrictedMaxBCBA  decimal.Decimal // percentage, e.g. 40
	RestrictedMaxBCaBA decimal.Decimal // percentage, e.g. 60
}

func DefaultSettings() Settings {
	return Settings{
		MonthlyCap:        decimal.NewFromInt(130),
		MonthlyCap2027:    decimal.NewFromInt(160),
		DefaultCommission: decimal.NewFromFloat(0.54),
		RestrictedMaxBCBA:  decimal.NewFromInt(40),
		RestrictedMaxBCaBA: decimal.NewFromInt(60),
	}
}

// CapForYear returns the monthly hour cap applicable to a calendar year.
// 2027 carries a temporarily raised cap.
func (s Settings) CapForYear(year int) decimal.Decimal {
	if year == 2027 {
		return s.MonthlyCap2027
	}
	return s.MonthlyCap
}

// CapFor returns the cap for a trainee in a given month, honoring the
// per-trainee override when present.
func (s Settings) CapFor(trainee *TraineeProfile, m Month) decimal.Decimal {
	if trainee != nil && trainee.MonthlyCapOverride != nil {
		return *trainee.MonthlyCapOverride
	}
	return s.CapForYear(m.Year)
}

// RestrictedMaxFor returns the ratio threshold (as a percentage) for a
// certification track. Unknown tracks get the stricter BCBA threshold.
func (s Settings) RestrictedMaxFor(track CertTrack) decimal.Decimal {
	if track == TrackBCaBA {
		return s.RestrictedMaxBCaBA
	}
	return s.RestrictedMaxBCBA
}

// =============================================================================
// SETTINGS SOURCE - Per-request settings resolution
// =============================================================================

// SettingsSource supplies the Settings snapshot for one unit of work.
// Implementations wrap the external settings store; StaticSettings serves
// tests and deployments without one.
type SettingsSource interface {
	Current(ctx context.Context) (Settings, error)
}

// StaticSettings always returns the same Settings value.
type StaticSettings struct {
	S Settings
}

func (s StaticSettings) Current(ctx context.Context) (Settings, error) { return s.S, nil }

// Defaults is a SettingsSource returning DefaultSettings.
func Defaults() SettingsSource { return StaticSettings{S: DefaultSettings()} }
