package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gatekeeper-backend/internal/logger"
)

// Client talks to the bot API over HTTPS, one POST per method.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode %s params: %w", method, err)
	}

	logger.ExternalServiceCall("bot-api", method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.ExternalServiceResult("bot-api", method, err)
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		logger.ExternalServiceResult("bot-api", method, err)
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	if !decoded.OK {
		apiErr := &Error{
			Method:      method,
			Code:        decoded.ErrorCode,
			Description: decoded.Description,
		}
		if decoded.Parameters != nil && decoded.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(decoded.Parameters.RetryAfter) * time.Second
		}
		logger.ExternalServiceResult("bot-api", method, apiErr)
		return apiErr
	}

	logger.ExternalServiceResult("bot-api", method, nil)
	if result != nil {
		if err := json.Unmarshal(decoded.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (*Message, error) {
	var msg Message
	if err := c.call(ctx, "sendMessage", params, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

type chatTarget struct {
	ChatID int64 `json:"chat_id"`
}

type memberTarget struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", struct {
		ChatID    int64 `json:"chat_id"`
		MessageID int64 `json:"message_id"`
	}{chatID, messageID}, nil)
}

func (c *Client) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	return c.call(ctx, "approveChatJoinRequest", memberTarget{chatID, userID}, nil)
}

func (c *Client) DeclineJoinRequest(ctx context.Context, chatID, userID int64) error {
	return c.call(ctx, "declineChatJoinRequest", memberTarget{chatID, userID}, nil)
}

func (c *Client) BanMember(ctx context.Context, chatID, userID int64) error {
	return c.call(ctx, "banChatMember", memberTarget{chatID, userID}, nil)
}

func (c *Client) GetChat(ctx context.Context, chatID int64) (*ChatInfo, error) {
	var info ChatInfo
	if err := c.call(ctx, "getChat", chatTarget{chatID}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetChatAdministrators(ctx context.Context, chatID int64) ([]ChatMember, error) {
	var members []ChatMember
	if err := c.call(ctx, "getChatAdministrators", chatTarget{chatID}, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (c *Client) GetFilePath(ctx context.Context, fileID string) (string, error) {
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := c.call(ctx, "getFile", struct {
		FileID string `json:"file_id"`
	}{fileID}, &file); err != nil {
		return "", err
	}
	if file.FilePath == "" {
		return "", &Error{Method: "getFile", Code: 400, Description: "file too big"}
	}
	return file.FilePath, nil
}

// FileURL builds the direct download URL for a previously resolved file path.
func (c *Client) FileURL(filePath string) string {
	return fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, filePath)
}
