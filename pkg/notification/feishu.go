package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"capway/pkg/config"
	"capway/pkg/logger"
)

// SLOViolation describes a capability that crossed its latency objective.
type SLOViolation struct {
	CapabilityKey string
	TargetP95Ms   float64
	ObservedP95Ms float64
	SampleCount   int
	SuccessRate   float64
	DetectedAt    time.Time
}

// FeishuNotifier sends alerts to Feishu (Lark)
type FeishuNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewFeishuNotifier creates a new Feishu notifier
func NewFeishuNotifier() *FeishuNotifier {
	// Priority: config file > environment variable
	var webhookURL string
	if config.GlobalConfig != nil && config.GlobalConfig.Notification.FeishuWebhookURL != "" {
		webhookURL = config.GlobalConfig.Notification.FeishuWebhookURL
		logger.Info("Using Feishu webhook URL from config file")
	} else {
		webhookURL = os.Getenv("FEISHU_WEBHOOK_URL")
		if webhookURL != "" {
			logger.Info("Using Feishu webhook URL from environment variable")
		}
	}

	if webhookURL == "" {
		logger.Warn("Feishu webhook URL not configured (check config file or FEISHU_WEBHOOK_URL env), SLO alerts will be disabled")
	}

	return &FeishuNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a webhook URL is configured.
func (f *FeishuNotifier) Enabled() bool {
	return f.webhookURL != ""
}

// SendSLOViolation sends an SLO violation alert to Feishu
func (f *FeishuNotifier) SendSLOViolation(ctx context.Context, violation SLOViolation) error {
	if f.webhookURL == "" {
		logger.WarnCtx(ctx, "Feishu webhook URL not configured, skipping notification")
		return nil
	}

	message := f.buildSLOViolationMessage(violation)

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal Feishu message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", f.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Feishu notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Feishu API returned status code: %d", resp.StatusCode)
	}

	logger.InfoCtx(ctx, "Feishu SLO alert sent for capability: %s", violation.CapabilityKey)
	return nil
}

// buildSLOViolationMessage builds a Feishu message card for an SLO violation
func (f *FeishuNotifier) buildSLOViolationMessage(violation SLOViolation) map[string]interface{} {
	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"template": "red",
				"title": map[string]interface{}{
					"content": "🚨 SLO Budget Exceeded",
					"tag":     "plain_text",
				},
			},
			"elements": []interface{}{
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": fmt.Sprintf("**Capability**: %s\nObserved p95 latency is over the configured objective. Low-priority traffic may be shed until it recovers.", violation.CapabilityKey),
						"tag":     "lark_md",
					},
				},
				map[string]interface{}{
					"tag": "hr",
				},
				map[string]interface{}{
					"tag": "div",
					"fields": []interface{}{
						map[string]interface{}{
							"is_short": true,
							"text": map[string]interface{}{
								"content": fmt.Sprintf("**Target p95**\n%.1f ms", violation.TargetP95Ms),
								"tag":     "lark_md",
							},
						},
						map[string]interface{}{
							"is_short": true,
							"text": map[string]interface{}{
								"content": fmt.Sprintf("**Observed p95**\n%.1f ms", violation.ObservedP95Ms),
								"tag":     "lark_md",
							},
						},
					},
				},
				map[string]interface{}{
					"tag": "div",
					"fields": []interface{}{
						map[string]interface{}{
							"is_short": true,
							"text": map[string]interface{}{
								"content": fmt.Sprintf("**Sample Count**\n%d", violation.SampleCount),
								"tag":     "lark_md",
							},
						},
						map[string]interface{}{
							"is_short": true,
							"text": map[string]interface{}{
								"content": fmt.Sprintf("**Success Rate**\n%.2f%%", violation.SuccessRate*100),
								"tag":     "lark_md",
							},
						},
					},
				},
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": fmt.Sprintf("**Detection Time**: %s", violation.DetectedAt.Format("2006-01-02 15:04:05")),
						"tag":     "lark_md",
					},
				},
			},
		},
	}
}
