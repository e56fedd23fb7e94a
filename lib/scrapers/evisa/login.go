package evisa

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/reddmonchick/VisaScraper/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

const loginPath = "/front/login"

// CheckSession probes an existing token with a cheap request against
// the batch application page. A dead session gets bounced to the login
// page, a live one lands on the application list.
func (c *Client) CheckSession(ctx context.Context, token string) bool {
	ctx, span := tracer.Start(ctx, "client:CheckSession")
	defer span.End()

	if token == "" {
		return false
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetCookie(&http.Cookie{Name: sessionCookie, Value: token}).
		SetHeader("x-requested-with", "XMLHttpRequest").
		Get("/web/applications/batch")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session probe request failed")
		return false
	}

	finalPath := ""
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalPath = res.RawResponse.Request.URL.Path
	}
	return res.StatusCode() == http.StatusOK && !strings.Contains(finalPath, "login")
}

// Login performs the full login dance: fetch the login page, pull the
// anti-forgery token and the captcha site key out of its markup, have
// the vendor solve the challenge, submit credentials, and read the new
// session token off the response cookies.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(loginPath)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse login page html")
		return "", err
	}

	csrfToken := htmlutil.InputValue(doc, "csrf_token")
	siteKey := doc.Find("div.g-recaptcha").First().AttrOr("data-sitekey", "")
	if csrfToken == "" || siteKey == "" {
		span.SetStatus(codes.Error, "login page is missing csrf token or captcha markup")
		return "", fmt.Errorf("%w: csrf token or captcha markup not found", ErrAuthExpired)
	}

	loginUrl := c.Absolute(loginPath)
	challenge, err := c.solver.SolveRecaptcha(ctx, siteKey, loginUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "captcha vendor failed")
		return "", fmt.Errorf("%w: %w", ErrAuthExpired, err)
	}

	res, err = c.Http.R().
		SetContext(ctx).
		SetHeader("origin", c.BaseUrl.String()).
		SetHeader("referer", loginUrl).
		SetFormData(map[string]string{
			"csrf_token":           csrfToken,
			"_username":            username,
			"_password":            password,
			"g-recaptcha-response": challenge,
		}).
		Post(loginPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit login form")
		return "", err
	}

	for _, cookie := range res.Cookies() {
		if cookie.Name == sessionCookie && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	// the cookie may have been set on an intermediate redirect and
	// live in the jar instead of on the final response
	for _, cookie := range c.Http.GetClient().Jar.Cookies(c.BaseUrl) {
		if cookie.Name == sessionCookie && cookie.Value != "" {
			return cookie.Value, nil
		}
	}

	span.SetStatus(codes.Error, "login response carried no session cookie")
	return "", fmt.Errorf("%w: credentials rejected", ErrAuthExpired)
}
