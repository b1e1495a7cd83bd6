package lifecycle

import "fmt"

// Stage: этап жизненного цикла аккаунта.
type Stage string

const (
	StageNew        Stage = "NEW"
	StageWarming    Stage = "WARMING"
	StageActive     Stage = "ACTIVE"
	StageMature     Stage = "MATURE"
	StageRestricted Stage = "RESTRICTED"
	StageUnknown    Stage = "UNKNOWN"
)

var stageTitles = map[Stage]string{
	StageNew:        "Новый аккаунт",
	StageWarming:    "Прогревающийся",
	StageActive:     "Активный",
	StageMature:     "Зрелый",
	StageRestricted: "Ограниченный",
}

// Title возвращает название этапа для пользователя.
func (s Stage) Title() string {
	if t, ok := stageTitles[s]; ok {
		return t
	}
	return "Неизвестный этап"
}

// Stages возвращает известные этапы в порядке развития аккаунта.
func Stages() []Stage {
	return []Stage{StageNew, StageWarming, StageActive, StageMature, StageRestricted}
}

// StageFor определяет этап по активности и возрасту. Функция детерминирована.
func StageFor(isActive bool, ageDays int) Stage {
	switch {
	case !isActive:
		return StageRestricted
	case ageDays < 3:
		return StageNew
	case ageDays < 14:
		return StageWarming
	case ageDays < 90:
		return StageActive
	default:
		return StageMature
	}
}

// Range: рекомендуемый суточный диапазон количества действий.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Ключи суточных действий в рекомендациях.
const (
	DailyFollows      = "follows"
	DailyLikes        = "likes"
	DailyComments     = "comments"
	DailyStoriesViews = "stories_views"
)

// Recommendation: набор рекомендаций для этапа.
type Recommendation struct {
	Description  string           `json:"description"`
	DailyActions map[string]Range `json:"daily_actions"`
	Recommended  []string         `json:"recommended_actions"`
	Avoid        []string         `json:"avoid_actions"`
	Duration     string           `json:"duration"`
}

func daily(follows, likes, comments, stories Range) map[string]Range {
	return map[string]Range{
		DailyFollows:      follows,
		DailyLikes:        likes,
		DailyComments:     comments,
		DailyStoriesViews: stories,
	}
}

var recommendations = map[Stage]Recommendation{
	StageNew: {
		Description:  "Новый аккаунт требует осторожного начала",
		DailyActions: daily(Range{5, 10}, Range{10, 20}, Range{0, 2}, Range{5, 15}),
		Recommended:  []string{"Заполнить профиль полностью", "Загрузить аватар", "Опубликовать 1-2 поста", "Минимальная активность"},
		Avoid:        []string{"Массовые подписки", "Частые лайки", "Автоматизация"},
		Duration:     "3-7 дней",
	},
	StageWarming: {
		Description:  "Постепенное увеличение активности",
		DailyActions: daily(Range{10, 25}, Range{20, 50}, Range{2, 8}, Range{15, 40}),
		Recommended:  []string{"Регулярные посты (через день)", "Взаимодействие с подписчиками", "Просмотр ленты", "Stories активность"},
		Avoid:        []string{"Резкие скачки активности", "Одинаковые интервалы действий"},
		Duration:     "7-14 дней",
	},
	StageActive: {
		Description:  "Полноценная активность с ограничениями",
		DailyActions: daily(Range{25, 75}, Range{50, 150}, Range{8, 25}, Range{40, 100}),
		Recommended:  []string{"Регулярные публикации", "Активное взаимодействие", "Использование Stories", "Reels публикации"},
		Avoid:        []string{"Превышение лимитов", "Спам-активность"},
		Duration:     "14-90 дней",
	},
	StageMature: {
		Description:  "Зрелый аккаунт с максимальными возможностями",
		DailyActions: daily(Range{50, 200}, Range{100, 500}, Range{15, 50}, Range{100, 300}),
		Recommended:  []string{"Полная автоматизация", "Массовые кампании", "Активная монетизация", "Использование всех функций"},
		Avoid:        []string{"Резкие изменения поведения"},
		Duration:     "Постоянно",
	},
	StageRestricted: {
		Description:  "Аккаунт с ограничениями - восстановление",
		DailyActions: daily(Range{0, 5}, Range{5, 15}, Range{0, 2}, Range{5, 20}),
		Recommended:  []string{"Минимальная активность", "Ожидание снятия ограничений", "Качественный контент", "Ручные действия"},
		Avoid:        []string{"Любая автоматизация", "Массовые действия", "Частая активность"},
		Duration:     "До снятия ограничений",
	},
}

// StageRecommendations возвращает рекомендации для этапа.
func StageRecommendations(stage Stage) Recommendation {
	if rec, ok := recommendations[stage]; ok {
		return rec
	}
	return Recommendation{
		Description:  "Неизвестный этап",
		DailyActions: map[string]Range{},
		Recommended:  []string{},
		Avoid:        []string{},
		Duration:     "Неопределено",
	}
}
