package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

const telegramBaseUrl = "https://api.telegram.org"

type TelegramOptions struct {
	Token  string `json:"token"`
	ChatId string `json:"chat_id"`
	// overrides the production API host, used by tests
	BaseUrl string `json:"base_url,omitempty"`
}

// TelegramSender posts messages to a Telegram chat through the bot
// API.
type TelegramSender struct {
	http   *resty.Client
	token  string
	chatId string
}

func NewTelegramSender(opts TelegramOptions) *TelegramSender {
	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		baseUrl = telegramBaseUrl
	}

	client := resty.New()
	client.SetBaseURL(baseUrl)
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "services/notify/telegram")

	return &TelegramSender{
		http:   client,
		token:  opts.Token,
		chatId: opts.ChatId,
	}
}

type telegramResponse struct {
	Ok          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramSender) Send(ctx context.Context, text string) error {
	res, err := t.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    t.chatId,
			"text":       text,
			"parse_mode": "HTML",
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return err
	}

	if res.StatusCode() == http.StatusTooManyRequests {
		var body telegramResponse
		retryAfter := time.Second
		if json.Unmarshal(res.Body(), &body) == nil && body.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(body.Parameters.RetryAfter) * time.Second
		}
		return RateLimitedError{RetryAfter: retryAfter}
	}
	if res.StatusCode() != http.StatusOK {
		return fmt.Errorf("telegram sendMessage returned status %d: %s", res.StatusCode(), res.String())
	}
	return nil
}
