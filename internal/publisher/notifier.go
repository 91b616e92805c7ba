// Package publisher announces completed runs to downstream consumers.
package publisher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

// RunNotification is published once per completed phase.
type RunNotification struct {
	RunID          string         `json:"run_id"`
	Phase          string         `json:"phase"`
	Category       string         `json:"category,omitempty"`
	ArtifactURI    string         `json:"artifact_uri,omitempty"`
	ArtifactSHA256 string         `json:"artifact_sha256,omitempty"`
	Counts         map[string]int `json:"counts,omitempty"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// Attributes are copied onto the transport message for subscription filters.
func (n RunNotification) Attributes() map[string]string {
	attrs := map[string]string{"phase": n.Phase}
	if n.Category != "" {
		attrs["category"] = n.Category
	}
	return attrs
}

// Notifier publishes run notifications. Failures are logged and never
// returned; a nil Notifier is a no-op.
type Notifier struct {
	pub    corpus.Publisher
	topic  string
	logger *zap.Logger
}

// NewNotifier returns a Notifier. A nil publisher disables notifications.
func NewNotifier(pub corpus.Publisher, topic string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{pub: pub, topic: topic, logger: logger}
}

// Notify publishes n.
func (n *Notifier) Notify(ctx context.Context, note RunNotification) {
	if n == nil || n.pub == nil {
		return
	}
	id, err := n.pub.Publish(ctx, n.topic, note)
	if err != nil {
		n.logger.Warn("run notification failed",
			zap.String("run_id", note.RunID),
			zap.String("phase", note.Phase),
			zap.Error(err),
		)
		return
	}
	n.logger.Debug("run notification published",
		zap.String("run_id", note.RunID),
		zap.String("message_id", id),
	)
}
