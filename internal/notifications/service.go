package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"strato/internal/config"
)

const userAgent = "Strato/0.1.0"

// Service defines the notification surface exposed to control-plane components.
type Service interface {
	NotifyJobSubmitted(ctx context.Context, name, jobID string) error
	NotifyJobCompleted(ctx context.Context, name, jobID string, exitCode int, duration time.Duration) error
	NotifyJobFailed(ctx context.Context, name, jobID, reason string) error
	NotifyDeployApplied(ctx context.Context, target, requestID string, duration time.Duration) error
	NotifyDeployFailed(ctx context.Context, target, requestID string, err error) error
	NotifyForcedReclamation(ctx context.Context, volumeID, instanceID string) error
	NotifyError(ctx context.Context, err error, context string) error
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
		jobs:     cfg.Notifications.Jobs,
		deploys:  cfg.Notifications.Deploys,
		volumes:  cfg.Notifications.Volumes,
		errors:   cfg.Notifications.Errors,
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
	jobs     bool
	deploys  bool
	volumes  bool
	errors   bool
}

func (n *ntfyService) NotifyJobSubmitted(ctx context.Context, name, jobID string) error {
	if !n.jobs {
		return nil
	}
	data := payload{
		title:   "Strato - Job Submitted",
		message: fmt.Sprintf("Submitted %s (%s)", strings.TrimSpace(name), jobID),
		tags:    []string{"strato", "job", "submitted"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, name, jobID string, exitCode int, duration time.Duration) error {
	if !n.jobs {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	data := payload{
		title:   "Strato - Job Complete",
		message: fmt.Sprintf("%s (%s) finished with exit %d in %s", strings.TrimSpace(name), jobID, exitCode, duration),
		tags:    []string{"strato", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, name, jobID, reason string) error {
	if !n.jobs {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Strato - Job Failed",
		message:  fmt.Sprintf("%s (%s) failed: %s", strings.TrimSpace(name), jobID, reason),
		tags:     []string{"strato", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDeployApplied(ctx context.Context, target, requestID string, duration time.Duration) error {
	if !n.deploys {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	data := payload{
		title:   "Strato - Deploy Applied",
		message: fmt.Sprintf("Applied %s (%s) in %s", strings.TrimSpace(target), requestID, duration),
		tags:    []string{"strato", "deploy", "applied"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDeployFailed(ctx context.Context, target, requestID string, err error) error {
	if !n.deploys {
		return nil
	}
	reason := "unknown"
	if err != nil {
		reason = strings.TrimSpace(err.Error())
	}
	data := payload{
		title:    "Strato - Deploy Failed",
		message:  fmt.Sprintf("Apply of %s (%s) failed: %s", strings.TrimSpace(target), requestID, reason),
		tags:     []string{"strato", "deploy", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyForcedReclamation(ctx context.Context, volumeID, instanceID string) error {
	if !n.volumes {
		return nil
	}
	message := fmt.Sprintf("Volume %s did not detach in time and was force-detached and deleted", volumeID)
	if instanceID = strings.TrimSpace(instanceID); instanceID != "" {
		message = fmt.Sprintf("%s (was attached to %s)", message, instanceID)
	}
	data := payload{
		title:    "Strato - Volume Reclaimed",
		message:  message,
		tags:     []string{"strato", "volume", "reclaimed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
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
		title:    "Strato - Error",
		message:  builder.String(),
		tags:     []string{"strato", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Strato - Test",
		message:  "Notification system test",
		tags:     []string{"strato", "test"},
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

func (noopService) NotifyJobSubmitted(context.Context, string, string) error { return nil }
func (noopService) NotifyJobCompleted(context.Context, string, string, int, time.Duration) error {
	return nil
}
func (noopService) NotifyJobFailed(context.Context, string, string, string) error { return nil }
func (noopService) NotifyDeployApplied(context.Context, string, string, time.Duration) error {
	return nil
}
func (noopService) NotifyDeployFailed(context.Context, string, string, error) error { return nil }
func (noopService) NotifyForcedReclamation(context.Context, string, string) error   { return nil }
func (noopService) NotifyError(context.Context, error, string) error                { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
