package stream

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"nightscout-easyview/internal/model"
)

const (
	entriesPath     = "api/v1/entries.json"
	maxReasonLength = 256
)

// NightscoutClient posts entries to a Nightscout instance. Duplicate entries
// are resolved by Nightscout itself.
type NightscoutClient struct {
	logger *slog.Logger
	http   *resty.Client
	url    string
}

func NewNightscoutClient(baseURL, secret string, tlsCfg *tls.Config, timeout time.Duration, logger *slog.Logger) *NightscoutClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"api-secret":   HashSecret(secret),
		})
	if tlsCfg != nil {
		hc.SetTLSClientConfig(tlsCfg)
	}
	return &NightscoutClient{logger: logger, http: hc, url: baseURL}
}

// HashSecret returns the SHA-1 hex digest Nightscout expects in api-secret.
func HashSecret(secret string) string {
	sum := sha1.Sum([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func (c *NightscoutClient) Name() string {
	return "nightscout"
}

func (c *NightscoutClient) Upload(ctx context.Context, entries []model.Entry) (model.UploadResult, error) {
	if len(entries) == 0 {
		return model.UploadResult{}, nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(entries).
		Post(entriesPath)
	if err != nil {
		return model.UploadResult{}, fmt.Errorf("nightscout upload: %w: %v", model.ErrNetwork, err)
	}
	if err := classifyStatus(resp); err != nil {
		return model.UploadResult{StatusCode: resp.StatusCode()}, fmt.Errorf("nightscout upload: %w", err)
	}
	c.logger.Debug("submitted entries to nightscout", "count", len(entries), "status", resp.StatusCode())
	return model.UploadResult{Accepted: len(entries), StatusCode: resp.StatusCode()}, nil
}

// LastEntryTime reports the timestamp of the newest entry Nightscout holds.
func (c *NightscoutClient) LastEntryTime(ctx context.Context) (time.Time, bool, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("count", "1").
		Get(entriesPath)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("nightscout last entry: %w: %v", model.ErrNetwork, err)
	}
	if err := classifyStatus(resp); err != nil {
		return time.Time{}, false, fmt.Errorf("nightscout last entry: %w", err)
	}
	var latest []struct {
		Date int64 `json:"date"`
	}
	if err := json.Unmarshal(resp.Body(), &latest); err != nil {
		return time.Time{}, false, fmt.Errorf("nightscout last entry: %w: %v", model.ErrParse, err)
	}
	if len(latest) == 0 || latest[0].Date <= 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(latest[0].Date).UTC(), true, nil
}

func (c *NightscoutClient) Close(context.Context) error {
	return nil
}

func classifyStatus(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code <= 299:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: http %d", model.ErrAuth, code)
	default:
		return &model.ServerError{StatusCode: code, Reason: serverReason(resp.Body(), code)}
	}
}

func serverReason(body []byte, code int) string {
	var msg struct {
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &msg); err == nil {
		if msg.Message != "" {
			return msg.Message
		}
		if msg.Description != "" {
			return msg.Description
		}
	}
	reason := strings.TrimSpace(string(body))
	if reason == "" {
		return http.StatusText(code)
	}
	return truncate(reason, maxReasonLength)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
