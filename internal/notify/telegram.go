package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// Telegram sends through the Bot API. The recipient is the chat id.
type Telegram struct {
	Token   string
	BaseURL string
	Client  *http.Client
}

func NewTelegram(token string) *Telegram {
	return &Telegram{Token: token, BaseURL: telegramAPI, Client: defaultClient()}
}

type telegramPayload struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, m Message) error {
	if m.Recipient == "" {
		return fmt.Errorf("telegram: empty chat id")
	}
	text := "<b>" + html.EscapeString(m.Title) + "</b>\n\n" + html.EscapeString(m.Body)
	body, err := json.Marshal(telegramPayload{ChatID: m.Recipient, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}
	url := strings.TrimRight(t.BaseURL, "/") + "/bot" + t.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		// the request URL carries the token
		return fmt.Errorf("send telegram message: %s", strings.ReplaceAll(err.Error(), t.Token, "***"))
	}
	defer resp.Body.Close()

	var tr telegramResponse
	_ = json.NewDecoder(resp.Body).Decode(&tr)
	if resp.StatusCode != http.StatusOK || !tr.OK {
		if tr.Description != "" {
			return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, tr.Description)
		}
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}
