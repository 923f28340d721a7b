package pipeline

import (
	"context"
	"strings"
)

// Activity-level multipliers applied to BMR to derive TDEE. Unrecognized
// levels fall back to sedentary.
var activityMultipliers = map[string]float64{
	"sedentary":    1.2,
	"light":        1.375,
	"moderate":     1.55,
	"active":       1.725,
	"extra-active": 1.9,
}

const defaultActivityMultiplier = 1.2

// fetchProfile loads the user profile and recomputes the derived energy
// scalars. A missing profile or incomplete physiological fields leave BMR
// and TDEE nil; downstream stages treat nil TDEE as "cannot compute net
// calories".
func (p *Pipeline) fetchProfile(ctx context.Context, st *TurnContext) {
	if st.UserID == "" {
		return
	}
	profile, err := p.store.Profile(ctx, st.UserID)
	if err != nil {
		p.logger.Printf("profile fetch failed for %s: %v", st.UserID, err)
		return
	}
	if profile == nil {
		return
	}
	DeriveEnergy(profile)
	st.Profile = profile
}

// DeriveEnergy recomputes BMR (Mifflin-St Jeor) and TDEE on the profile.
// Incomplete physiological fields clear both.
func DeriveEnergy(profile *UserProfile) {
	profile.BMR = nil
	profile.TDEE = nil
	if profile.Age <= 0 || profile.HeightCm <= 0 || profile.WeightKg <= 0 {
		return
	}

	var offset float64
	switch strings.ToLower(profile.Sex) {
	case "male":
		offset = 5
	case "female":
		offset = -161
	default:
		// average of the male and female offsets
		offset = -78
	}

	bmr := 10*profile.WeightKg + 6.25*profile.HeightCm - 5*float64(profile.Age) + offset

	multiplier, ok := activityMultipliers[strings.ToLower(profile.ActivityLevel)]
	if !ok {
		multiplier = defaultActivityMultiplier
	}
	tdee := bmr * multiplier

	profile.BMR = &bmr
	profile.TDEE = &tdee
}
