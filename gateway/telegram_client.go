package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// TelegramClient 通过 Bot API sendMessage 发送纯文本消息。
type TelegramClient struct {
	APIURL     string
	BotToken   string
	HTTPClient *http.Client
}

type sendMessageReq struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResp struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// SendMessage 投递 text 到 chatID；只有 2xx 且 ok=true 才算送达。
func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text string) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	body, err := json.Marshal(sendMessageReq{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	endpoint := c.APIURL + "/bot" + c.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		// 不把 token 带进错误信息
		return fmt.Errorf("build sendMessage request failed")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage: %w", redactURLError(err))
	}
	defer resp.Body.Close()

	var sr sendMessageResp
	decodeErr := json.NewDecoder(resp.Body).Decode(&sr)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && sr.Description != "" {
			return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, sr.Description)
		}
		return fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: decode: %v", ErrBadPayload, decodeErr)
	}
	if !sr.OK {
		return fmt.Errorf("%w: telegram not ok: %s", ErrBadPayload, sr.Description)
	}
	return nil
}
