// File: internal/captcha/client.go

// Package captcha talks to the remote solving service and drives the two
// captcha surfaces the portal presents: sitekey-addressed widgets solved
// for a token, and the custom numeric grid solved cell by cell.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/blswatch/internal/challenge"
	"github.com/xkilldash9x/blswatch/internal/config"
)

const (
	defaultBaseURL = "https://api.2captcha.com"
	createTaskPath = "/createTask"
	getResultPath  = "/getTaskResult"
	getBalancePath = "/getBalance"

	hcaptchaTaskType  = "HCaptchaTaskProxyless"
	turnstileTaskType = "TurnstileTaskProxyless"
	recaptchaTaskType = "RecaptchaV2TaskProxyless"
	imageTaskType     = "ImageToTextTask"

	zeroBalanceCode = "ERROR_ZERO_BALANCE"
)

// Client is a 2captcha-protocol client. Result polling is paced by a rate
// limiter so concurrent solves never hammer the service.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at an alternate endpoint. Used by tests.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(cfg config.SolverConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     cfg.APIKey,
		baseURL:    defaultBaseURL,
		timeout:    cfg.Timeout,
		limiter:    rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		logger:     logger.Named("solver"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      any    `json:"task"`
}

type widgetTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type imageTask struct {
	Type      string `json:"type"`
	Body      string `json:"body"`
	Numeric   int    `json:"numeric"`
	MinLength int    `json:"minLength"`
	MaxLength int    `json:"maxLength"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	TaskID           int64  `json:"taskId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}

type resultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type getResultResponse struct {
	ErrorID  int    `json:"errorId"`
	Status   string `json:"status"`
	Solution struct {
		Token              string `json:"token"`
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
		Text               string `json:"text"`
	} `json:"solution"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}

// answer returns whichever solution field the task type populated.
func (r *getResultResponse) answer() string {
	switch {
	case r.Solution.Token != "":
		return r.Solution.Token
	case r.Solution.GRecaptchaResponse != "":
		return r.Solution.GRecaptchaResponse
	default:
		return r.Solution.Text
	}
}

type balanceRequest struct {
	ClientKey string `json:"clientKey"`
}

type balanceResponse struct {
	ErrorID          int     `json:"errorId"`
	Balance          float64 `json:"balance"`
	ErrorCode        string  `json:"errorCode"`
	ErrorDescription string  `json:"errorDescription"`
}

// SolveWidget submits a proxyless widget task for the given family and
// blocks until the service returns a token or the solve times out.
func (c *Client) SolveWidget(ctx context.Context, family challenge.Family, siteKey, pageURL string) (string, error) {
	if siteKey == "" {
		return "", errors.New("site key required")
	}
	if pageURL == "" {
		return "", errors.New("page url required")
	}

	var taskType string
	switch family {
	case challenge.FamilyHCaptcha:
		taskType = hcaptchaTaskType
	case challenge.FamilyTurnstile:
		taskType = turnstileTaskType
	case challenge.FamilyReCaptcha:
		taskType = recaptchaTaskType
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCaptcha, family)
	}

	return c.solve(ctx, widgetTask{Type: taskType, WebsiteURL: pageURL, WebsiteKey: siteKey})
}

// RecognizeDigits submits one base64 cell image for numeric recognition.
// The portal's grid numbers are 2 to 4 digits long.
func (c *Client) RecognizeDigits(ctx context.Context, b64 string) (string, error) {
	if b64 == "" {
		return "", errors.New("image payload required")
	}
	answer, err := c.solve(ctx, imageTask{
		Type:      imageTaskType,
		Body:      b64,
		Numeric:   1,
		MinLength: 2,
		MaxLength: 4,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// Balance returns the remaining account balance in USD.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	var resp balanceResponse
	if err := c.postJSON(ctx, getBalancePath, balanceRequest{ClientKey: c.apiKey}, &resp); err != nil {
		return 0, err
	}
	if resp.ErrorID != 0 {
		return 0, fmt.Errorf("solver getBalance error: %s - %s", resp.ErrorCode, resp.ErrorDescription)
	}
	return resp.Balance, nil
}

// solve runs the createTask/getTaskResult cycle for one task.
func (c *Client) solve(ctx context.Context, task any) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("solver api key not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var created createTaskResponse
	if err := c.postJSON(ctx, createTaskPath, createTaskRequest{ClientKey: c.apiKey, Task: task}, &created); err != nil {
		return "", err
	}
	if created.ErrorID != 0 {
		if strings.EqualFold(created.ErrorCode, zeroBalanceCode) {
			return "", ErrZeroBalance
		}
		return "", fmt.Errorf("solver createTask error: %s - %s", created.ErrorCode, created.ErrorDescription)
	}
	c.logger.Debug("Solver task created", zap.Int64("taskId", created.TaskID))

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("solve abandoned while polling: %w", err)
		}

		var result getResultResponse
		if err := c.postJSON(ctx, getResultPath, resultRequest{ClientKey: c.apiKey, TaskID: created.TaskID}, &result); err != nil {
			return "", err
		}
		if result.ErrorID != 0 {
			if strings.EqualFold(result.ErrorCode, zeroBalanceCode) {
				return "", ErrZeroBalance
			}
			return "", fmt.Errorf("solver getTaskResult error: %s - %s", result.ErrorCode, result.ErrorDescription)
		}

		switch strings.ToLower(result.Status) {
		case "processing":
			continue
		case "ready":
			answer := result.answer()
			if answer == "" {
				return "", errors.New("solver returned an empty solution")
			}
			return answer, nil
		default:
			return "", fmt.Errorf("unexpected solver status: %q", result.Status)
		}
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode solver request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("solver request error: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return fmt.Errorf("solver http error: %s", res.Status)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode solver response: %w", err)
	}
	return nil
}
