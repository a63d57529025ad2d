package notify

import (
	"context"
	"log/slog"

	"github.com/mwidz/offerlens/internal/pipeline"
	"github.com/mwidz/offerlens/internal/store"
)

// Ensure LogNotifier implements pipeline.Notifier.
var _ pipeline.Notifier = (*LogNotifier)(nil)

// LogNotifier announces apply-worthy offers as structured log messages.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs each offer via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyApply logs the offer with company, title, fit score, and URL.
// Returns nil (stdout logging does not fail).
func (n *LogNotifier) NotifyApply(ctx context.Context, offer store.Offer) error {
	args := []any{"url", offer.Link.URL, "fit", offer.Analysis.FitScore}
	if offer.Detail != nil {
		args = append(args, "company", offer.Detail.Company, "title", offer.Detail.Title)
	}
	if offer.Analysis.ShortSummary != "" {
		args = append(args, "summary", offer.Analysis.ShortSummary)
	}
	n.logger.Info("offer worth applying to", args...)
	return nil
}
