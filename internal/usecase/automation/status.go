package automation

import (
	"sort"

	"ig-automation/internal/usecase/ratelimit"
)

// Label: обобщённый статус аккаунта.
type Label string

const (
	LabelCriticalRisk   Label = "CRITICAL_RISK"
	LabelHighRisk       Label = "HIGH_RISK"
	LabelUnhealthy      Label = "UNHEALTHY"
	LabelNeedsAttention Label = "NEEDS_ATTENTION"
	LabelExcellent      Label = "EXCELLENT"
	LabelGood           Label = "GOOD"
)

// LabelFor выводит статус из оценок здоровья и риска.
func LabelFor(health, risk int) Label {
	switch {
	case risk > 70:
		return LabelCriticalRisk
	case risk > 50:
		return LabelHighRisk
	case health < 30:
		return LabelUnhealthy
	case health < 50:
		return LabelNeedsAttention
	case health >= 80 && risk < 20:
		return LabelExcellent
	default:
		return LabelGood
	}
}

// CanWarm сообщает, можно ли прогревать аккаунт.
func CanWarm(health, risk int) bool {
	return health > 20 && risk < 70
}

// SuggestActions предлагает действия по оценкам.
func SuggestActions(health, risk int) []string {
	var actions []string
	switch {
	case risk > 50:
		actions = append(actions,
			"⚠️ Приостановить всю активность на 48 часов",
			"🔄 Сменить IP/прокси",
			"📱 Проверить устройство",
		)
	case risk > 30:
		actions = append(actions,
			"⏱️ Снизить активность на 50%",
			"🎯 Фокус на просмотре контента",
		)
	}
	if health < 50 {
		actions = append(actions,
			"🔥 Начать прогрев аккаунта",
			"📸 Добавить фото профиля и био",
			"👀 Больше просматривать, меньше действий",
		)
	}
	if len(actions) == 0 {
		actions = append(actions, "✅ Продолжать текущую стратегию")
	}
	return actions
}

// Status: полный статус аккаунта.
type Status struct {
	AccountID        int64                 `json:"account_id"`
	Username         string                `json:"username"`
	HealthScore      int                   `json:"health_score"`
	BanRiskScore     int                   `json:"ban_risk_score"`
	Label            Label                 `json:"status"`
	Recommendations  []string              `json:"recommendations"`
	RiskMitigation   []string              `json:"risk_mitigation"`
	ActionStats      ratelimit.ActionStats `json:"action_stats"`
	CanWarm          bool                  `json:"can_warm"`
	SuggestedActions []string              `json:"suggested_actions"`
}

// Digest: краткая сводка по аккаунту для ежедневных рекомендаций.
type Digest struct {
	Username    string   `json:"username"`
	Label       Label    `json:"status"`
	HealthScore int      `json:"health_score"`
	BanRisk     int      `json:"ban_risk"`
	Actions     []string `json:"actions"`
}

func sortedIDs(m map[int64]Digest) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
