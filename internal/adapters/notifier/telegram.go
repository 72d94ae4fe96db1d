package notifier

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
)

// New возвращает Telegram-уведомитель, а без токена или при недоступном боте — запись в лог.
func New(token string, chatID int64, logger zerolog.Logger) domain.Notifier {
	if token == "" || chatID == 0 {
		return NewLog(logger)
	}
	tg, err := NewTelegram(token, chatID, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("notifier: бот недоступен, отчёты пойдут в лог")
		return NewLog(logger)
	}
	return tg
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет отчёты в чат через Bot API.
type Telegram struct {
	bot    sender
	chatID int64
	log    zerolog.Logger
}

// NewTelegram подключается к Bot API по токену.
func NewTelegram(token string, chatID int64, logger zerolog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegram(bot, chatID, logger), nil
}

func newTelegram(bot sender, chatID int64, logger zerolog.Logger) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, log: logger}
}

// Notify реализует domain.Notifier. Длинный текст уходит несколькими сообщениями.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	for _, part := range SplitMessage(text, messageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(t.chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := t.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(t.chatID, 10), start, err)
		if err != nil {
			t.log.Error().Err(err).Int64("chat", t.chatID).Msg("notifier: не удалось отправить отчёт")
			return err
		}
	}
	return nil
}

// Log пишет отчёты в лог, когда бот не настроен.
type Log struct {
	log zerolog.Logger
}

// NewLog создаёт уведомитель в лог.
func NewLog(logger zerolog.Logger) *Log { return &Log{log: logger} }

// Notify реализует domain.Notifier.
func (l *Log) Notify(_ context.Context, text string) error {
	l.log.Info().Str("report", text).Msg("notifier: отчёт")
	return nil
}
