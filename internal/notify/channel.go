// Package notify delivers push messages and daily digests to the
// configured channels: Telegram forum topics and Feishu webhook cards.
package notify

import (
	"context"

	"aiwatch/internal/model"
)

// Channel is one delivery target. Implementations render records in
// their own format.
type Channel interface {
	Name() string
	// SendRecord pushes a single classified record.
	SendRecord(ctx context.Context, kind model.Kind, rec model.Record) error
	// SendDigest pushes a daily digest built from records.
	SendDigest(ctx context.Context, kind model.Kind, records []model.Record) error
}

// topicKeyPrefix maps a record kind to its Telegram topic key prefix.
func topicKeyPrefix(kind model.Kind) string {
	if kind == model.KindPost {
		return "blog"
	}
	return "release"
}
