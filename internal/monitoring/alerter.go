// Package monitoring evaluates finished jobs against alert thresholds and
// delivers webhook notifications.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/config"
	"github.com/sells-group/geobatch/internal/resilience"
	"github.com/sells-group/geobatch/pkg/geocode"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate AlertType = "job_failure_rate"
	AlertQuotaHit    AlertType = "provider_quota_hit"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	JobID     string         `json:"job_id"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a finished job record against configured thresholds and
// sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// minRowsForRateAlert keeps tiny jobs from tripping the failure-rate alert.
const minRowsForRateAlert = 5

// Evaluate checks the finished record and its results against thresholds
// and returns any alerts.
func (a *Alerter) Evaluate(rec *geocode.JobRecord, results []geocode.Result) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := rec.SuccessCount + rec.FailedCount
	if finished >= minRowsForRateAlert {
		rate := float64(rec.FailedCount) / float64(finished)
		if rate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertFailureRate,
				Severity: "high",
				JobID:    rec.JobID,
				Message: fmt.Sprintf(
					"Job %s failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d rows)",
					rec.JobID, rate*100, a.cfg.FailureRateThreshold*100,
					rec.FailedCount, finished,
				),
				Details: map[string]any{
					"failure_rate": rate,
					"threshold":    a.cfg.FailureRateThreshold,
					"failed":       rec.FailedCount,
					"finished":     finished,
				},
				Timestamp: now,
			})
		}
	}

	if a.cfg.QuotaAlerts {
		quotaHits := make(map[string]int)
		for _, r := range results {
			if r.Status == geocode.StatusOverQueryLimit {
				quotaHits[r.APIUsed]++
			}
		}
		for provider, hits := range quotaHits {
			alerts = append(alerts, Alert{
				Type:     AlertQuotaHit,
				Severity: "medium",
				JobID:    rec.JobID,
				Message: fmt.Sprintf(
					"Provider %s hit its query limit %d time(s) during job %s",
					provider, hits, rec.JobID,
				),
				Details: map[string]any{
					"provider": provider,
					"hits":     hits,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL. Delivery
// failures are logged, never fatal. Returns the number of alerts
// successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL, retrying transient
// delivery failures with backoff.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	return resilience.Run(ctx, resilience.WebhookPolicy(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "monitoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return eris.Wrap(err, "monitoring: webhook request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 400 {
			err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
			if resilience.RetryableStatus(resp.StatusCode) {
				return resilience.Retryable(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
}
