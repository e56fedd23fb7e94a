// Package captcha wraps the external challenge solving vendor. The
// vendor is a black box: given a site key and the page it appears on,
// it either returns a solution token or fails after its own internal
// retries.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

var ErrSolveFailed = errors.New("captcha solving failed")

type Client struct {
	http   *resty.Client
	apiKey string

	// how often the vendor is polled for a finished task
	PollInterval time.Duration
}

type ClientOptions struct {
	BaseUrl string
	ApiKey  string
}

func NewClient(opts ClientOptions) *Client {
	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "lib/captcha/http")

	return &Client{
		http:         client,
		apiKey:       opts.ApiKey,
		PollInterval: time.Second * 5,
	}
}

type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      task   `json:"task"`
}

type task struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type createTaskResponse struct {
	ErrorId          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	TaskId           int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorId          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

// SolveRecaptcha submits a reCAPTCHA task to the vendor and polls
// until it is solved. The vendor performs its own retries internally;
// a vendor-side failure comes back as ErrSolveFailed and is not
// retried here.
func (c *Client) SolveRecaptcha(ctx context.Context, siteKey, pageUrl string) (string, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(createTaskRequest{
			ClientKey: c.apiKey,
			Task: task{
				Type:       "RecaptchaV2TaskProxyless",
				WebsiteURL: pageUrl,
				WebsiteKey: siteKey,
			},
		}).
		Post("/createTask")
	if err != nil {
		return "", err
	}

	var created createTaskResponse
	err = json.Unmarshal(res.Body(), &created)
	if err != nil {
		return "", err
	}
	if created.ErrorId != 0 {
		return "", fmt.Errorf("%w: %s", ErrSolveFailed, created.ErrorDescription)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.PollInterval):
		}

		res, err := c.http.R().
			SetContext(ctx).
			SetBody(map[string]any{
				"clientKey": c.apiKey,
				"taskId":    created.TaskId,
			}).
			Post("/getTaskResult")
		if err != nil {
			return "", err
		}

		var result taskResultResponse
		err = json.Unmarshal(res.Body(), &result)
		if err != nil {
			return "", err
		}
		if result.ErrorId != 0 {
			return "", fmt.Errorf("%w: %s", ErrSolveFailed, result.ErrorDescription)
		}
		if result.Status != "ready" {
			continue
		}
		if result.Solution.GRecaptchaResponse == "" {
			return "", fmt.Errorf("%w: vendor returned an empty solution", ErrSolveFailed)
		}
		return result.Solution.GRecaptchaResponse, nil
	}
}
