package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch — временная ошибка получения страницы платформы.
	ErrFetch = errors.New("fetch error")
	// ErrStorage — ошибка хранилища контента или прогресса.
	ErrStorage = errors.New("storage error")
	// ErrParse — ответ LLM не удалось разобрать.
	ErrParse = errors.New("parse error")
	// ErrLLMCall — сетевая ошибка, таймаут или квота при вызове LLM.
	ErrLLMCall = errors.New("llm call error")
	// ErrNotFound возвращается, если запись не найдена.
	ErrNotFound = errors.New("not found")
)

// ConfigError — ошибка конфигурации или неподдерживаемой платформы.
// Единственный класс ошибок, который не восстанавливается автоматически.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// NewConfigError создаёт ошибку конфигурации.
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// IsConfigError сообщает, является ли err ошибкой конфигурации.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
