package ratelimit

import "ig-automation/internal/domain"

// Tier: ступень лимитов по возрасту аккаунта.
type Tier string

const (
	TierNew    Tier = "new"
	TierMid    Tier = "mid"
	TierWarmed Tier = "warmed"
)

const (
	newAccountMaxAge = 7
	midAccountMaxAge = 30
	midMultiplier    = 1.5
)

// Limits содержит часовые и дневные лимиты по типам действий.
type Limits struct {
	Tier   Tier
	Hourly map[domain.ActionType]int
	Daily  map[domain.ActionType]int
}

var (
	newHourly = map[domain.ActionType]int{
		domain.ActionLike:          10,
		domain.ActionFollow:        5,
		domain.ActionUnfollow:      5,
		domain.ActionComment:       3,
		domain.ActionPost:          1,
		domain.ActionStory:         2,
		domain.ActionReel:          1,
		domain.ActionDirectMessage: 5,
		domain.ActionViewStory:     20,
		domain.ActionViewFeed:      30,
	}
	newDaily = map[domain.ActionType]int{
		domain.ActionLike:          50,
		domain.ActionFollow:        20,
		domain.ActionUnfollow:      20,
		domain.ActionComment:       10,
		domain.ActionPost:          3,
		domain.ActionStory:         5,
		domain.ActionReel:          2,
		domain.ActionDirectMessage: 20,
		domain.ActionViewStory:     100,
		domain.ActionViewFeed:      200,
	}
	warmedHourly = map[domain.ActionType]int{
		domain.ActionLike:          60,
		domain.ActionFollow:        30,
		domain.ActionUnfollow:      30,
		domain.ActionComment:       20,
		domain.ActionPost:          5,
		domain.ActionStory:         10,
		domain.ActionReel:          3,
		domain.ActionDirectMessage: 30,
		domain.ActionViewStory:     100,
		domain.ActionViewFeed:      120,
	}
	warmedDaily = map[domain.ActionType]int{
		domain.ActionLike:          500,
		domain.ActionFollow:        200,
		domain.ActionUnfollow:      200,
		domain.ActionComment:       100,
		domain.ActionPost:          20,
		domain.ActionStory:         30,
		domain.ActionReel:          10,
		domain.ActionDirectMessage: 150,
		domain.ActionViewStory:     800,
		domain.ActionViewFeed:      1000,
	}

	midHourly = scale(newHourly, midMultiplier)
	midDaily  = scale(newDaily, midMultiplier)
)

// LimitsForAge возвращает лимиты для аккаунта указанного возраста.
func LimitsForAge(ageDays int) Limits {
	switch {
	case ageDays < newAccountMaxAge:
		return Limits{Tier: TierNew, Hourly: newHourly, Daily: newDaily}
	case ageDays < midAccountMaxAge:
		return Limits{Tier: TierMid, Hourly: midHourly, Daily: midDaily}
	default:
		return Limits{Tier: TierWarmed, Hourly: warmedHourly, Daily: warmedDaily}
	}
}

func scale(src map[domain.ActionType]int, factor float64) map[domain.ActionType]int {
	out := make(map[domain.ActionType]int, len(src))
	for action, limit := range src {
		out[action] = int(float64(limit) * factor)
	}
	return out
}
