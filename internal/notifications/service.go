package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loom/internal/config"
)

const userAgent = "Loom-Go/0.1.0"

// Service defines the notification surface exposed to the pipeline.
type Service interface {
	NotifyRunStarted(ctx context.Context, runID string, totalItems, totalBatches int) error
	NotifyRunResumed(ctx context.Context, runID string, completedBatches, totalBatches int) error
	NotifyBatchCompleted(ctx context.Context, batch, totalBatches int, quality float64) error
	NotifyBatchFailed(ctx context.Context, batch int, cause error) error
	NotifyRunPaused(ctx context.Context, completedBatches, totalBatches int) error
	NotifyRunCompleted(ctx context.Context, completed, failed int, duration time.Duration) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, runID string, totalItems, totalBatches int) error {
	data := payload{
		title:   "Loom - Run Started",
		message: fmt.Sprintf("Started run %s: %d items in %d batches", strings.TrimSpace(runID), totalItems, totalBatches),
		tags:    []string{"loom", "run", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunResumed(ctx context.Context, runID string, completedBatches, totalBatches int) error {
	data := payload{
		title:   "Loom - Run Resumed",
		message: fmt.Sprintf("Resumed run %s at batch %d of %d", strings.TrimSpace(runID), completedBatches+1, totalBatches),
		tags:    []string{"loom", "run", "resumed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, batch, totalBatches int, quality float64) error {
	data := payload{
		title:   "Loom - Batch Complete",
		message: fmt.Sprintf("Batch %d/%d integrated (quality %.2f)", batch, totalBatches, quality),
		tags:    []string{"loom", "batch", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchFailed(ctx context.Context, batch int, cause error) error {
	message := fmt.Sprintf("Batch %d failed", batch)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, strings.TrimSpace(cause.Error()))
	}
	data := payload{
		title:    "Loom - Batch Failed",
		message:  message,
		tags:     []string{"loom", "batch", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunPaused(ctx context.Context, completedBatches, totalBatches int) error {
	data := payload{
		title:   "Loom - Run Paused",
		message: fmt.Sprintf("Paused after batch %d of %d; resume to continue", completedBatches, totalBatches),
		tags:    []string{"loom", "run", "paused"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, completed, failed int, duration time.Duration) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var title, message string
	if failed == 0 {
		title = "Loom - Run Complete"
		message = fmt.Sprintf("Run complete: %d batches integrated in %s", completed, durationText)
	} else {
		title = "Loom - Run Complete (with errors)"
		message = fmt.Sprintf("Run complete: %d succeeded, %d failed in %s", completed, failed, durationText)
	}

	data := payload{
		title:    title,
		message:  message,
		tags:     []string{"loom", "run", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Loom - Error",
		message:  builder.String(),
		tags:     []string{"loom", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Loom - Test",
		message:  "Notification system test",
		tags:     []string{"loom", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context, string, int, int) error           { return nil }
func (noopService) NotifyRunResumed(context.Context, string, int, int) error           { return nil }
func (noopService) NotifyBatchCompleted(context.Context, int, int, float64) error      { return nil }
func (noopService) NotifyBatchFailed(context.Context, int, error) error                { return nil }
func (noopService) NotifyRunPaused(context.Context, int, int) error                    { return nil }
func (noopService) NotifyRunCompleted(context.Context, int, int, time.Duration) error  { return nil }
func (noopService) NotifyError(context.Context, error, string) error                   { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
