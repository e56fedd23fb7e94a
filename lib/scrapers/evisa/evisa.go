// Package evisa scrapes the immigration portal: session login behind a
// reCAPTCHA gate, and the paginated batch-application / stay-permit
// data endpoints.
package evisa

import (
	"context"
	"errors"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lib/scrapers/evisa")

var (
	// the session token is missing, rejected, or could not be renewed
	ErrAuthExpired = errors.New("session expired and login did not yield a usable token")
	// a single raw item is too malformed to become a record
	ErrRecordShape = errors.New("malformed record item")
	// the portal hiccupped on a data request, worth retrying
	ErrTransientFetch = errors.New("transient fetch failure")
)

const sessionCookie = "PHPSESSID"

// CaptchaSolver is the external challenge vendor, consumed as a black
// box.
type CaptchaSolver interface {
	SolveRecaptcha(ctx context.Context, siteKey, pageUrl string) (string, error)
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	solver CaptchaSolver
}

type ClientOptions struct {
	BaseUrl string
	Solver  CaptchaSolver
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/evisa/http")

	return &Client{
		BaseUrl: baseUrl,
		Http:    client,
		solver:  opts.Solver,
	}, nil
}

// Absolute resolves a portal-relative href against the base url.
func (c *Client) Absolute(href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return c.BaseUrl.ResolveReference(ref).String()
}
