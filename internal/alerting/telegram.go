package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// telegramAPI is a minimal Bot API client.
type telegramAPI struct {
	botToken string
	baseURL  string
	client   *http.Client
}

func newTelegramAPI(botToken, baseURL string, timeout time.Duration) *telegramAPI {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &telegramAPI{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (a *telegramAPI) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", a.baseURL, a.botToken, method)
}

func (a *telegramAPI) sendMessage(ctx context.Context, chatID, text string, html bool) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if html {
		payload["parse_mode"] = "HTML"
		payload["disable_web_page_preview"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = a.do(req)
	return err
}

func (a *telegramAPI) sendPhoto(ctx context.Context, chatID string, photo []byte, filename, caption string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"chat_id":    chatID,
		"caption":    caption,
		"parse_mode": "HTML",
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write %s field: %w", k, err)
		}
	}
	part, err := mw.CreateFormFile("photo", filename)
	if err != nil {
		return fmt.Errorf("create photo part: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return fmt.Errorf("write photo part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("sendPhoto"), &buf)
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	_, err = a.do(req)
	return err
}

type update struct {
	UpdateID    int64    `json:"update_id"`
	Message     *message `json:"message"`
	ChannelPost *message `json:"channel_post"`
}

type message struct {
	Text string `json:"text"`
	Chat struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"chat"`
}

func (a *telegramAPI) getUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(int(timeout/time.Second)))
	q.Set("allowed_updates", `["message","channel_post"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create telegram request: %w", err)
	}

	result, err := a.do(req)
	if err != nil {
		return nil, err
	}
	var updates []update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (a *telegramAPI) do(req *http.Request) (json.RawMessage, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read telegram response: %w", err)
	}

	var res apiResponse
	decodeErr := json.Unmarshal(payload, &res)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && res.Description != "" {
			return nil, fmt.Errorf("telegram status %d: %s", resp.StatusCode, res.Description)
		}
		return nil, fmt.Errorf("telegram status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode telegram response: %w", decodeErr)
	}
	if !res.OK {
		return nil, fmt.Errorf("telegram returned ok=false: %s", res.Description)
	}
	return res.Result, nil
}
