package tiers

import (
	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
)

// Resolve selects the effective presentation configuration for a donation
// amount.
//
// Behavior modes:
//   - basic: tiers are ignored, the base configuration is returned as-is.
//   - donation-levels: a tier is always used, the amount-matching tier if
//     one exists, else the first enabled tier, else the base configuration.
//   - auto (default): the amount-matching enabled tier if one exists, else
//     the base configuration.
//
// Matching is first enabled tier in configuration order whose inclusive
// [min, max] range contains the amount. Overlapping ranges are a tenant
// configuration mistake; resolution stays order-dependent on purpose.
func Resolve(cfg *models.TenantAlertConfig, amount int64, currency string) (models.AlertDisplaySettings, *models.DonationLevel) {
	if cfg == nil {
		return models.AlertDisplaySettings{}, nil
	}

	mode := cfg.BehaviorMode
	if mode == "" {
		mode = models.BehaviorAuto
	}

	if mode == models.BehaviorBasic {
		return cfg.Settings, nil
	}

	matched := matchLevel(cfg.Levels, amount, currency)

	if matched == nil && mode == models.BehaviorDonationLevels {
		matched = firstEnabled(cfg.Levels)
	}

	if matched == nil {
		return cfg.Settings, nil
	}

	return Merge(cfg.Settings, matched.Overrides), matched
}

func matchLevel(levels []models.DonationLevel, amount int64, currency string) *models.DonationLevel {
	for i := range levels {
		level := &levels[i]
		if !level.Enabled {
			continue
		}
		if level.Currency != "" && currency != "" && level.Currency != currency {
			continue
		}
		if amount >= level.MinAmount && amount <= level.MaxAmount {
			return level
		}
	}
	return nil
}

func firstEnabled(levels []models.DonationLevel) *models.DonationLevel {
	for i := range levels {
		if levels[i].Enabled {
			return &levels[i]
		}
	}
	return nil
}

// Merge layers tier overrides onto the base configuration section by
// section. A tier that defines its own media (image or sound URL) replaces
// that section wholesale so a tier's cosmetic choice is never mixed with an
// unrelated base asset.
func Merge(base models.AlertDisplaySettings, overrides *models.AlertDisplaySettings) models.AlertDisplaySettings {
	if overrides == nil {
		return base
	}

	merged := base
	merged.Image = mergeImage(base.Image, overrides.Image)
	merged.Sound = mergeSound(base.Sound, overrides.Sound)
	merged.Animation = mergeAnimation(base.Animation, overrides.Animation)
	merged.Style = mergeStyle(base.Style, overrides.Style)
	merged.Position = mergePosition(base.Position, overrides.Position)
	if overrides.Display != nil {
		merged.Display = overrides.Display
	}
	merged.General = mergeGeneral(base.General, overrides.General)
	return merged
}

func mergeImage(base, override models.ImageSettings) models.ImageSettings {
	if override.URL != "" {
		// Tier media replaces the section wholesale
		return override
	}
	if override.Width != 0 {
		base.Width = override.Width
	}
	if override.Height != 0 {
		base.Height = override.Height
	}
	return base
}

func mergeSound(base, override models.SoundSettings) models.SoundSettings {
	if override.URL != "" {
		return override
	}
	if override.Volume != 0 {
		base.Volume = override.Volume
	}
	return base
}

func mergeAnimation(base, override models.AnimationSettings) models.AnimationSettings {
	if override.AnimationIn != "" {
		base.AnimationIn = override.AnimationIn
	}
	if override.AnimationOut != "" {
		base.AnimationOut = override.AnimationOut
	}
	if override.FadeIn != 0 {
		base.FadeIn = override.FadeIn
	}
	if override.FadeOut != 0 {
		base.FadeOut = override.FadeOut
	}
	if override.Duration != 0 {
		base.Duration = override.Duration
	}
	return base
}

func mergeStyle(base, override models.StyleSettings) models.StyleSettings {
	if override.Font != "" {
		base.Font = override.Font
	}
	if override.FontSize != 0 {
		base.FontSize = override.FontSize
	}
	if override.FontWeight != "" {
		base.FontWeight = override.FontWeight
	}
	if override.TextColor != "" {
		base.TextColor = override.TextColor
	}
	if override.AccentColor != "" {
		base.AccentColor = override.AccentColor
	}
	return base
}

func mergePosition(base, override models.PositionSettings) models.PositionSettings {
	if override.Horizontal != "" {
		base.Horizontal = override.Horizontal
	}
	if override.Vertical != "" {
		base.Vertical = override.Vertical
	}
	if override.OffsetX != 0 {
		base.OffsetX = override.OffsetX
	}
	if override.OffsetY != 0 {
		base.OffsetY = override.OffsetY
	}
	return base
}

func mergeGeneral(base, override models.GeneralSettings) models.GeneralSettings {
	if override.TemplateText != "" {
		base.TemplateText = override.TemplateText
	}
	if override.TTSEnabled {
		base.TTSEnabled = true
	}
	if override.TTSLanguage != "" {
		base.TTSLanguage = override.TTSLanguage
	}
	return base
}
