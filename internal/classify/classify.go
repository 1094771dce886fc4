// Package classify calls an OpenAI-compatible chat-completions endpoint
// to filter, rate and translate fetched items.
//
// Failures surface as ErrClassification; the pipeline decides per kind
// whether to fall back or drop.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aiwatch/internal/config"
	"aiwatch/internal/model"
	"aiwatch/pkg/logx"
)

// ErrClassification marks any classifier failure: missing credentials,
// transport errors, non-200 responses or malformed verdict JSON.
var ErrClassification = errors.New("classification failed")

const (
	defaultBaseURL = "https://api.openai.com/v1"

	// Content sent to the model is capped; release notes and article
	// bodies can be arbitrarily long.
	releaseContentCap = 2000
	postContentCap    = 3000
)

type Client struct {
	httpc    *http.Client
	apiKey   string
	model    string
	baseURL  string
	language string
	log      logx.Logger
}

func New(cfg config.ClassifierConfig, log logx.Logger) *Client {
	timeout, _ := config.ParseDurationOrDefault("classifier.timeout", cfg.Timeout, 60*time.Second)
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		httpc:    &http.Client{Timeout: timeout},
		apiKey:   strings.TrimSpace(cfg.APIKey),
		model:    cfg.Model,
		baseURL:  base,
		language: cfg.Language,
		log:      log.With(logx.String("comp", "classify")),
	}
}

// ClassifyRelease rates a vendor release or release-routed item.
func (c *Client) ClassifyRelease(ctx context.Context, it model.Item) (model.Verdict, error) {
	system := fmt.Sprintf(releaseSystemPrompt, c.language, c.language, c.language)
	user := fmt.Sprintf("Vendor: %s\nProduct: %s\nTitle: %s\nVersion: %s\nSummary: %s\nContent: %s",
		it.Origin, orNA(it.OriginCategory), it.Title, orNA(it.Version), it.Summary,
		truncate(it.Content, releaseContentCap))
	return c.complete(ctx, it, system, user)
}

// ClassifyPost rates a blog or sitemap article.
func (c *Client) ClassifyPost(ctx context.Context, it model.Item) (model.Verdict, error) {
	system := fmt.Sprintf(postSystemPrompt, c.language)
	user := fmt.Sprintf("Blog: %s\nCategory: %s\nTitle: %s\nSummary: %s\nContent: %s",
		it.Origin, it.OriginCategory, it.Title, it.Summary,
		truncate(it.Content, postContentCap))
	return c.complete(ctx, it, system, user)
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat respFormat    `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type verdictJSON struct {
	Relevant          bool   `json:"relevant"`
	Importance        string `json:"importance"`
	Category          string `json:"category"`
	TitleTranslated   string `json:"title_translated"`
	SummaryTranslated string `json:"summary_translated"`
}

func (c *Client) complete(ctx context.Context, it model.Item, system, user string) (model.Verdict, error) {
	if c.apiKey == "" {
		return model.Verdict{}, fmt.Errorf("%w: no API key configured", ErrClassification)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: respFormat{Type: "json_object"},
	})
	if err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %v", ErrClassification, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.Verdict{}, fmt.Errorf("%w: status %d: %s", ErrClassification, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return model.Verdict{}, fmt.Errorf("%w: decode response: %v", ErrClassification, err)
	}
	if len(cr.Choices) == 0 {
		return model.Verdict{}, fmt.Errorf("%w: empty choices", ErrClassification)
	}

	var vj verdictJSON
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &vj); err != nil {
		return model.Verdict{}, fmt.Errorf("%w: verdict JSON: %v", ErrClassification, err)
	}

	v := model.Verdict{
		Relevant:          vj.Relevant,
		Importance:        model.ParseImportance(vj.Importance),
		Category:          vj.Category,
		TitleTranslated:   vj.TitleTranslated,
		SummaryTranslated: vj.SummaryTranslated,
	}
	if v.Relevant {
		if v.TitleTranslated == "" {
			v.TitleTranslated = it.Title
		}
		if v.SummaryTranslated == "" {
			v.SummaryTranslated = it.Summary
		}
	}

	c.log.Debug("classified item",
		logx.String("source_id", it.SourceID),
		logx.Bool("relevant", v.Relevant),
		logx.String("importance", string(v.Importance)),
		logx.Duration("took", time.Since(start)))
	return v, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
