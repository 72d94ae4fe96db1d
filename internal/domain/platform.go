package domain

import (
	"sort"
	"strings"
)

// Идентификаторы поддерживаемых платформ.
const (
	PlatformShortVideo    = "shortvideo"
	PlatformMicroblog     = "microblog"
	PlatformForum         = "forum"
	PlatformQA            = "qa"
	PlatformNews          = "news"
	PlatformPublicAccount = "publicaccount"
)

// FieldMapping описывает, где в JSON-ответе платформы лежат поля контента.
// Пути задаются через точку: "data.items".
type FieldMapping struct {
	ItemsPath     string
	IDField       string
	TitleField    string
	BodyField     string
	CreatedField  string
	CommentsPath  string
	CommentID     string
	CommentText   string
	CommentTime   string
	TimeInSeconds bool
}

// PlatformMapping — настройки платформы.
type PlatformMapping struct {
	Platform    string
	DisplayName string
	PageSize    int
	Fields      FieldMapping
}

var defaultFields = FieldMapping{
	ItemsPath:    "items",
	IDField:      "id",
	TitleField:   "title",
	BodyField:    "content",
	CreatedField: "create_time",
	CommentsPath: "comments",
	CommentID:    "id",
	CommentText:  "content",
	CommentTime:  "create_time",
}

var platforms = map[string]PlatformMapping{
	PlatformShortVideo: {
		Platform:    PlatformShortVideo,
		DisplayName: "Short video",
		PageSize:    10,
		Fields: FieldMapping{
			ItemsPath:     "data.videos",
			IDField:       "aweme_id",
			TitleField:    "title",
			BodyField:     "desc",
			CreatedField:  "create_time",
			CommentsPath:  "data.comments",
			CommentID:     "cid",
			CommentText:   "text",
			CommentTime:   "create_time",
			TimeInSeconds: true,
		},
	},
	PlatformMicroblog: {
		Platform:    PlatformMicroblog,
		DisplayName: "Microblog",
		PageSize:    10,
		Fields: FieldMapping{
			ItemsPath:     "data.cards",
			IDField:       "mid",
			TitleField:    "title",
			BodyField:     "text",
			CreatedField:  "created_at",
			CommentsPath:  "data.comments",
			CommentID:     "id",
			CommentText:   "text",
			CommentTime:   "created_at",
			TimeInSeconds: true,
		},
	},
	PlatformForum: {
		Platform:    PlatformForum,
		DisplayName: "Forum",
		PageSize:    10,
		Fields:      defaultFields,
	},
	PlatformQA: {
		Platform:    PlatformQA,
		DisplayName: "Q&A",
		PageSize:    20,
		Fields: FieldMapping{
			ItemsPath:    "data",
			IDField:      "id",
			TitleField:   "question",
			BodyField:    "answer",
			CreatedField: "created_time",
			CommentsPath: "data",
			CommentID:    "id",
			CommentText:  "content",
			CommentTime:  "created_time",
		},
	},
	PlatformNews: {
		Platform:    PlatformNews,
		DisplayName: "News search",
		PageSize:    10,
		Fields: FieldMapping{
			ItemsPath:    "results",
			IDField:      "url",
			TitleField:   "title",
			BodyField:    "snippet",
			CreatedField: "published_at",
		},
	},
	PlatformPublicAccount: {
		Platform:    PlatformPublicAccount,
		DisplayName: "Public account articles",
		PageSize:    10,
		Fields: FieldMapping{
			ItemsPath:     "articles",
			IDField:       "link",
			TitleField:    "title",
			BodyField:     "digest",
			CreatedField:  "publish_time",
			TimeInSeconds: true,
		},
	},
}

// LookupPlatform возвращает настройки платформы или ConfigError.
func LookupPlatform(name string) (PlatformMapping, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return PlatformMapping{}, NewConfigError("platform", "platform is required")
	}
	m, ok := platforms[key]
	if !ok {
		return PlatformMapping{}, NewConfigError("platform", "unsupported platform "+name)
	}
	return m, nil
}

// SupportedPlatforms возвращает отсортированный список платформ.
func SupportedPlatforms() []string {
	out := make([]string, 0, len(platforms))
	for name := range platforms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
