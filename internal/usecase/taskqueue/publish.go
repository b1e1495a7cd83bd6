package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"ig-automation/internal/domain"
)

var videoExtensions = map[string]struct{}{
	".mp4":  {},
	".mov":  {},
	".avi":  {},
	".mkv":  {},
	".webm": {},
}

// publication описывает, как опубликовать задачу и каким действием это учитывать.
type publication struct {
	action domain.ActionType
	reel   bool
	run    func(ctx context.Context) (string, error)
}

func decodeOptions(raw json.RawMessage) (domain.TaskOptions, error) {
	var opts domain.TaskOptions
	if len(raw) == 0 || string(raw) == "null" {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return domain.TaskOptions{}, err
	}
	return opts, nil
}

func fullCaption(task domain.PublishTask) string {
	caption := strings.TrimSpace(task.Caption)
	hashtags := strings.TrimSpace(task.Hashtags)
	switch {
	case hashtags == "":
		return caption
	case caption == "":
		return hashtags
	default:
		return caption + "\n\n" + hashtags
	}
}

func isVideoPath(path string) bool {
	_, ok := videoExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// jsonPaths разбирает media_path, сохранённый JSON-массивом.
func jsonPaths(raw string) ([]string, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "[") {
		return nil, false
	}
	var paths []string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return nil, false
	}
	return paths, true
}

// mediaPaths возвращает пути из media_path: JSON-массив или один путь.
func mediaPaths(raw string) []string {
	if paths, ok := jsonPaths(raw); ok {
		return paths
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return []string{raw}
}

func reelUsertags(opts domain.TaskOptions, accountID int64) []string {
	for _, distributed := range opts.DistributedUsertags {
		if distributed.AccountID == accountID {
			return distributed.Tags
		}
	}
	return opts.Usertags
}

func planPublication(publisher domain.Publisher, task domain.PublishTask, opts domain.TaskOptions) publication {
	caption := fullCaption(task)
	accountID := task.AccountID

	isReel := task.TaskType == domain.TaskReel ||
		(task.TaskType == domain.TaskVideo && isVideoPath(task.MediaPath))

	switch {
	case isReel:
		reelOpts := domain.ReelOptions{
			Hashtags:      opts.Hashtags,
			Usertags:      reelUsertags(opts, accountID),
			Location:      opts.Location,
			ThumbnailPath: opts.ThumbnailPath,
			CoverTime:     opts.CoverTime,
		}
		return publication{
			action: domain.ActionReel,
			reel:   true,
			run: func(ctx context.Context) (string, error) {
				return publisher.PublishReel(ctx, accountID, task.MediaPath, caption, reelOpts)
			},
		}
	case task.TaskType == domain.TaskStory:
		storyOpts := domain.StoryOptions{
			Mentions: opts.Mentions,
			Link:     opts.Link,
			Text:     opts.StoryText,
		}
		if storyOpts.Link == "" {
			storyOpts.Link = opts.StoryLink
		}
		if storyOpts.Text != "" {
			storyOpts.TextColor = opts.StoryTextColor
			if storyOpts.TextColor == "" {
				storyOpts.TextColor = "#ffffff"
			}
		}
		paths := mediaPaths(task.MediaPath)
		return publication{
			action: domain.ActionStory,
			run: func(ctx context.Context) (string, error) {
				return publisher.PublishStory(ctx, accountID, paths, caption, storyOpts)
			},
		}
	case task.TaskType == domain.TaskCarousel:
		paths, ok := jsonPaths(task.MediaPath)
		if !ok {
			paths = opts.MediaPaths
		}
		if len(paths) == 0 {
			paths = mediaPaths(task.MediaPath)
		}
		return publication{
			action: domain.ActionPost,
			run: func(ctx context.Context) (string, error) {
				return publisher.PublishCarousel(ctx, accountID, paths, caption)
			},
		}
	default:
		// mosaic и неизвестные типы публикуются как фото
		return publication{
			action: domain.ActionPost,
			run: func(ctx context.Context) (string, error) {
				return publisher.PublishPhoto(ctx, accountID, task.MediaPath, caption)
			},
		}
	}
}

// mediaURL строит ссылку на опубликованный контент.
func mediaURL(mediaID string, reel bool, taskType domain.TaskType) string {
	if mediaID == "" {
		return "Ссылка недоступна"
	}
	switch {
	case reel:
		return fmt.Sprintf("https://www.instagram.com/reel/%s/", mediaID)
	case taskType == domain.TaskStory:
		return fmt.Sprintf("https://www.instagram.com/stories/highlight/%s/", mediaID)
	default:
		return fmt.Sprintf("https://www.instagram.com/p/%s/", mediaID)
	}
}

func contentLabel(taskType domain.TaskType, reel bool) string {
	if reel || taskType == domain.TaskVideo {
		return "Reels"
	}
	name := string(taskType)
	if name == "" {
		return "Photo"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
