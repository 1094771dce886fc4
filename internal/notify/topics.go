package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"aiwatch/pkg/logx"
)

// topicDef describes one forum topic the bot provisions in the target
// supergroup. Icon colors are the palette Telegram accepts for topics.
type topicDef struct {
	key       string
	name      string
	iconColor int
}

var topicDefs = []topicDef{
	{"release_high", "AI新闻 - 重要", 0xFB6F5F},
	{"release_medium", "AI新闻 - 关注", 0x6FB9F0},
	{"release_low", "AI新闻 - 了解", 0x8EEE98},
	{"release_digest", "AI新闻 - 每日摘要", 0xFFD67E},
	{"blog_high", "AI博客 - 重要", 0xFB6F5F},
	{"blog_medium", "AI博客 - 关注", 0x6FB9F0},
	{"blog_digest", "AI博客 - 每日摘要", 0xCB86DB},
}

// TopicCreator creates a forum topic and returns its message thread ID.
type TopicCreator interface {
	CreateForumTopic(name string, iconColor int) (int, error)
}

// Topics maps routing keys ({release|blog}_{importance|digest}) to forum
// thread IDs, persisted as a JSON file so topics are created once.
type Topics struct {
	mu      sync.RWMutex
	path    string
	threads map[string]int
	log     logx.Logger
}

func NewTopics(path string, log logx.Logger) *Topics {
	return &Topics{
		path:    path,
		threads: make(map[string]int),
		log:     log.With(logx.String("comp", "notify.topics")),
	}
}

// Load reads the persisted topic map. A missing file is not an error.
func (t *Topics) Load() error {
	b, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	m := make(map[string]int)
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("topics %s: %w", t.path, err)
	}
	t.mu.Lock()
	t.threads = m
	t.mu.Unlock()
	return nil
}

func (t *Topics) save() error {
	t.mu.RLock()
	b, err := json.MarshalIndent(t.threads, "", "  ")
	t.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(t.path, b, 0o644)
}

// Ensure creates any topics missing from the persisted map and saves the
// result. Call once at startup.
func (t *Topics) Ensure(creator TopicCreator) error {
	if err := t.Load(); err != nil {
		return err
	}

	created := 0
	for _, def := range topicDefs {
		if t.ThreadID(def.key) != 0 {
			continue
		}
		threadID, err := creator.CreateForumTopic(def.name, def.iconColor)
		if err != nil {
			return fmt.Errorf("create topic %q: %w", def.name, err)
		}
		t.mu.Lock()
		t.threads[def.key] = threadID
		t.mu.Unlock()
		t.log.Info("created forum topic",
			logx.String("name", def.name), logx.Int("thread_id", threadID))
		created++
	}

	if created > 0 {
		if err := t.save(); err != nil {
			return err
		}
	}
	t.log.Info("forum topics ready",
		logx.Int("total", len(topicDefs)), logx.Int("created", created))
	return nil
}

// ThreadID returns the thread for a routing key, or 0 when unknown so the
// message lands in the group's general topic.
func (t *Topics) ThreadID(key string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.threads[key]
}
