package sysload

import (
	"time"

	"ig-automation/internal/domain"
)

// Level: диапазон нагрузки в процентах и соответствующие ему лимиты.
type Level struct {
	Name   string
	Min    int
	Max    int
	Limits domain.AdaptiveLimits
}

func level(name string, min, max, workers, batch int, delay time.Duration, timeout float64, description string, critical bool) Level {
	return Level{
		Name: name,
		Min:  min,
		Max:  max,
		Limits: domain.AdaptiveLimits{
			MaxWorkers:          workers,
			BatchSize:           batch,
			DelayBetweenBatches: delay,
			TimeoutMultiplier:   timeout,
			Description:         description,
			Critical:            critical,
		},
	}
}

var levels = []Level{
	level("МИНИМАЛЬНАЯ", 0, 10, 8, 12, 2*time.Second, 0.6, "Максимальная активность бота", false),
	level("ОЧЕНЬ НИЗКАЯ", 11, 20, 6, 10, 3*time.Second, 0.7, "Высокая активность бота", false),
	level("НИЗКАЯ", 21, 35, 5, 8, 5*time.Second, 0.8, "Повышенная активность бота", false),
	level("УМЕРЕННАЯ", 36, 50, 4, 6, 8*time.Second, 1.0, "Стандартная активность бота", false),
	level("СРЕДНЯЯ", 51, 65, 3, 5, 12*time.Second, 1.2, "Ограниченная активность бота", false),
	level("ПОВЫШЕННАЯ", 66, 75, 2, 4, 18*time.Second, 1.5, "Сниженная активность бота", false),
	level("ВЫСОКАЯ", 76, 85, 2, 3, 25*time.Second, 2.0, "Минимальная активность бота", false),
	level("КРИТИЧЕСКАЯ", 86, 100, 1, 1, 60*time.Second, 3.0, "ЭКСТРЕННАЯ ОСТАНОВКА - защита системы", true),
}

var emergency = level("ЗАЩИТНЫЙ РЕЖИМ", 0, 100, 1, 1, 120*time.Second, 5.0, "ЭКСТРЕННАЯ ОСТАНОВКА - система перегружена", true)

// Levels возвращает уровни нагрузки по возрастанию.
func Levels() []Level {
	out := make([]Level, len(levels))
	copy(out, levels)
	return out
}

// Emergency возвращает защитный уровень, включаемый при превышении предельных значений.
func Emergency() Level { return emergency }

// LevelFor подбирает уровень по проценту нагрузки. Вне диапазонов возвращает СРЕДНЯЯ.
func LevelFor(percent int) Level {
	for _, l := range levels {
		if percent >= l.Min && percent <= l.Max {
			return l
		}
	}
	return levels[4]
}
