package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"aiwatch/internal/config"
	"aiwatch/internal/model"
	"aiwatch/pkg/logx"
)

// Telegram message length limit.
const tgMaxLength = 4096

// Telegram sends HTML messages into a forum supergroup, routed to a
// topic per kind and importance.
type Telegram struct {
	bot     *tele.Bot
	chatID  int64
	topics  *Topics
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegram(cfg config.TelegramConfig, topics *Topics, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Telegram{
		bot:     bot,
		chatID:  cfg.ChatID,
		topics:  topics,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log.With(logx.String("comp", "notify.telegram")),
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) SendRecord(ctx context.Context, kind model.Kind, rec model.Record) error {
	text := renderRecordHTML(kind, rec)
	key := topicKeyPrefix(kind) + "_" + string(rec.Importance)
	return t.sendHTML(ctx, text, t.topics.ThreadID(key))
}

func (t *Telegram) SendDigest(ctx context.Context, kind model.Kind, records []model.Record) error {
	text := renderDigestHTML(kind, records)
	if text == "" {
		return nil
	}
	key := topicKeyPrefix(kind) + "_digest"
	return t.sendHTML(ctx, text, t.topics.ThreadID(key))
}

// sendHTML splits over-limit messages at line boundaries and sends each
// chunk under the rate limit.
func (t *Telegram) sendHTML(ctx context.Context, text string, threadID int) error {
	chunks := splitHTMLMessage(text, tgMaxLength)
	if len(chunks) > 1 {
		t.log.Info("splitting long message",
			logx.Int("chars", len(text)), logx.Int("parts", len(chunks)))
	}

	opt := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              threadID,
	}
	for _, chunk := range chunks {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := t.bot.Send(&tele.Chat{ID: t.chatID}, chunk, opt); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// CreateForumTopic provisions one forum topic and returns its thread ID.
func (t *Telegram) CreateForumTopic(name string, iconColor int) (int, error) {
	params := map[string]any{
		"chat_id":    t.chatID,
		"name":       name,
		"icon_color": iconColor,
	}
	data, err := t.bot.Raw("createForumTopic", params)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Result struct {
			MessageThreadID int `json:"message_thread_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, err
	}
	if resp.Result.MessageThreadID == 0 {
		return 0, errors.New("createForumTopic returned no thread id")
	}
	return resp.Result.MessageThreadID, nil
}

// splitHTMLMessage splits at line boundaries so HTML tags stay intact,
// and appends (i/n) page markers when more than one chunk results.
func splitHTMLMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var (
		chunks  []string
		current []string
		curLen  int
	)
	for _, line := range strings.Split(text, "\n") {
		added := len(line)
		if len(current) > 0 {
			added++ // joining newline
		}
		if len(current) > 0 && curLen+added > maxLength {
			chunks = append(chunks, strings.Join(current, "\n"))
			current = []string{line}
			curLen = len(line)
		} else {
			current = append(current, line)
			curLen += added
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}

	if len(chunks) > 1 {
		total := len(chunks)
		for i := range chunks {
			chunks[i] = fmt.Sprintf("%s\n\n(%d/%d)", chunks[i], i+1, total)
		}
	}
	return chunks
}
