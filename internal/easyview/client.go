package easyview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"nightscout-easyview/internal/model"
)

const (
	loginPath    = "login"
	statusPath   = "logindata"
	downloadPath = "download"

	downloadTimeLayout = "2006-01-02 15:04:05"
	downloadEdge       = 30 * time.Second
)

// The follower API only answers requests that look like the Android app.
var appHeaders = map[string]string{
	"DevInfo":    "Android 12;Xiamoi vayu;Android 12",
	"AppTag":     "v=1.2.70(112);n=eyfo;p=android",
	"User-Agent": "okhttp/3.5.0",
}

type Options struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	SessionTTL time.Duration
}

// Client talks to the EasyView follower API. It holds no session state;
// callers own the model.Session returned by Login.
type Client struct {
	logger     *slog.Logger
	http       *resty.Client
	username   string
	password   string
	sessionTTL time.Duration
	now        func() time.Time
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeaders(appHeaders).
		SetCookieJar(nil)
	return &Client{
		logger:     logger,
		http:       hc,
		username:   opts.Username,
		password:   opts.Password,
		sessionTTL: opts.SessionTTL,
		now:        time.Now,
	}
}

func (c *Client) Login(ctx context.Context) (model.Session, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"apptype":   "Follow",
			"user_name": c.username,
			"password":  c.password,
			"platform":  "google",
			"user_type": "M",
		}).
		Post(loginPath)
	if err != nil {
		return model.Session{}, fmt.Errorf("easyview login: %w: %v", model.ErrNetwork, err)
	}
	switch code := resp.StatusCode(); {
	case code >= 500:
		return model.Session{}, fmt.Errorf("easyview login: %w: http %d", model.ErrNetwork, code)
	case code < 200 || code > 299:
		return model.Session{}, fmt.Errorf("easyview login: %w: http %d", model.ErrAuth, code)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return model.Session{}, fmt.Errorf("easyview login: %w: response is not a json object", model.ErrAuth)
	}
	if res, ok := resultCode(body); ok && !strings.EqualFold(res, resultOK) {
		return model.Session{}, fmt.Errorf("easyview login: %w: res=%q", model.ErrAuth, res)
	}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return model.Session{}, fmt.Errorf("easyview login: %w: no session cookie in response", model.ErrAuth)
	}

	now := c.now()
	s := model.Session{Account: c.username, Cookies: cookies, CreatedAt: now}
	if c.sessionTTL > 0 {
		s.ExpiresAt = now.Add(c.sessionTTL)
	}
	c.logger.Info("logged in to easyview", "account", c.username)
	return s, nil
}

// FetchLatest returns the current sensor status of the single followed user.
func (c *Client) FetchLatest(ctx context.Context, s model.Session) ([]model.Reading, error) {
	body, err := c.get(ctx, s, statusPath, nil)
	if err != nil {
		return nil, err
	}
	readings, err := decodeStatusV1(body)
	if err != nil {
		return nil, fmt.Errorf("easyview %s: %w", statusPath, err)
	}
	return readings, nil
}

// FetchHistory returns the readings recorded strictly inside (from, to) for
// the followed user. Rows that do not decode are skipped.
func (c *Client) FetchHistory(ctx context.Context, s model.Session, owner, device string, from, to time.Time) ([]model.Reading, error) {
	params := map[string]string{
		"flag":      "sg",
		"st":        from.Add(downloadEdge).UTC().Format(downloadTimeLayout),
		"et":        to.Add(-downloadEdge).UTC().Format(downloadTimeLayout),
		"user_name": owner,
	}
	body, err := c.get(ctx, s, downloadPath, params)
	if err != nil {
		return nil, err
	}
	readings, skipped, err := decodeDownloadV1(body, owner, device)
	if err != nil {
		return nil, fmt.Errorf("easyview %s: %w", downloadPath, err)
	}
	if skipped > 0 {
		c.logger.Debug("skipped malformed history rows", "count", skipped)
	}
	return readings, nil
}

func (c *Client) get(ctx context.Context, s model.Session, path string, params map[string]string) ([]byte, error) {
	req := c.http.R().SetContext(ctx).SetCookies(s.Cookies)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("easyview %s: %w: %v", path, model.ErrNetwork, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, fmt.Errorf("easyview %s: %w: http %d", path, model.ErrSessionExpired, code)
	case code >= 500:
		return nil, fmt.Errorf("easyview %s: %w: http %d", path, model.ErrNetwork, code)
	case code < 200 || code > 299:
		return nil, fmt.Errorf("easyview %s: %w: http %d", path, model.ErrParse, code)
	}
	return resp.Body(), nil
}
