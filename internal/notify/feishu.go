package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"aiwatch/internal/config"
	"aiwatch/internal/model"
	"aiwatch/pkg/logx"
)

// Feishu posts interactive cards to incoming webhooks, one per kind.
type Feishu struct {
	httpc          *http.Client
	releaseWebhook string
	blogWebhook    string
	log            logx.Logger
}

func NewFeishu(cfg config.FeishuConfig, log logx.Logger) *Feishu {
	return &Feishu{
		httpc:          &http.Client{Timeout: 15 * time.Second},
		releaseWebhook: strings.TrimSpace(cfg.ReleaseWebhookURL),
		blogWebhook:    strings.TrimSpace(cfg.BlogWebhookURL),
		log:            log.With(logx.String("comp", "notify.feishu")),
	}
}

func (f *Feishu) Name() string { return "feishu" }

var feishuImportanceColor = map[model.Importance]string{
	model.ImportanceHigh:   "red",
	model.ImportanceMedium: "yellow",
	model.ImportanceLow:    "green",
}

var feishuImportanceLabel = map[model.Importance]string{
	model.ImportanceHigh:   "🔥 重要",
	model.ImportanceMedium: "✅ 关注",
	model.ImportanceLow:    "ℹ️ 了解",
}

type cardElement map[string]any

func markdownElement(content string) cardElement {
	return cardElement{
		"tag":  "div",
		"text": map[string]any{"tag": "lark_md", "content": content},
	}
}

func hrElement() cardElement { return cardElement{"tag": "hr"} }

func linkButtonElement(text, url string) cardElement {
	return cardElement{
		"tag": "action",
		"actions": []any{map[string]any{
			"tag":  "button",
			"text": map[string]any{"tag": "plain_text", "content": text},
			"url":  url,
			"type": "default",
		}},
	}
}

func cardPayload(title, headerColor string, elements []cardElement) map[string]any {
	return map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"config": map[string]any{"wide_screen_mode": true, "enable_forward": true},
			"header": map[string]any{
				"title":    map[string]any{"tag": "plain_text", "content": title},
				"template": headerColor,
			},
			"elements": elements,
		},
	}
}

func (f *Feishu) webhookFor(kind model.Kind) string {
	if kind == model.KindPost {
		return f.blogWebhook
	}
	return f.releaseWebhook
}

func (f *Feishu) SendRecord(ctx context.Context, kind model.Kind, rec model.Record) error {
	color, ok := feishuImportanceColor[rec.Importance]
	if !ok {
		color = "yellow"
	}
	lbl, ok := feishuImportanceLabel[rec.Importance]
	if !ok {
		lbl = feishuImportanceLabel[model.ImportanceMedium]
	}

	meta := recordMeta(kind, rec)
	headline := fmt.Sprintf("**%s** | *%s*", lbl, meta)
	if kind == model.KindPost && rec.Category != "" {
		headline = fmt.Sprintf("**%s** | [%s] *%s*", lbl, rec.Category, meta)
	}

	elements := []cardElement{
		markdownElement(headline),
		hrElement(),
		markdownElement(rec.DisplaySummary()),
		linkButtonElement("查看原文", rec.URL),
	}
	payload := cardPayload(rec.DisplayTitle(), color, elements)
	return f.post(ctx, f.webhookFor(kind), payload)
}

func (f *Feishu) SendDigest(ctx context.Context, kind model.Kind, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}

	title, headerColor, unit := "AI Daily Digest", "blue", "条更新"
	if kind == model.KindPost {
		title, headerColor, unit = "📖 AI 编程博客每日精选", "purple", "篇文章"
	}

	var elements []cardElement
	origins, groups := groupByOrigin(records)
	for _, origin := range origins {
		displayOrigin := origin
		if kind == model.KindRelease {
			displayOrigin = strings.ToUpper(origin)
		}
		elements = append(elements, markdownElement("**"+displayOrigin+"**"))

		var lines []string
		for _, r := range groups[origin] {
			lines = append(lines, fmt.Sprintf("%s [%s](%s)", emoji(r.Importance), r.DisplayTitle(), r.URL))
		}
		elements = append(elements, markdownElement(strings.Join(lines, "\n")), hrElement())
	}
	elements = append(elements, markdownElement(fmt.Sprintf("共 %d %s", len(records), unit)))

	return f.post(ctx, f.webhookFor(kind), cardPayload(title, headerColor, elements))
}

func (f *Feishu) post(ctx context.Context, webhook string, payload map[string]any) error {
	if webhook == "" {
		return fmt.Errorf("feishu: no webhook configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("feishu post: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("feishu response: %w", err)
	}
	if result.Code != 0 {
		return fmt.Errorf("feishu error %d: %s", result.Code, result.Msg)
	}
	return nil
}
