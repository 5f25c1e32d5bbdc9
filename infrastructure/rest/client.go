package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"local-language/contract"
	"local-language/domain"
	"local-language/domain/event"
	"local-language/errors"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const (
	DefaultTimeout  = 10 * time.Second
	maxResponseSize = 10 * 1024 * 1024
)

var (
	_ contract.ChatAPI    = (*Client)(nil)
	_ contract.Translator = (*Client)(nil)
)

// Client talks to the chat backend over HTTP. Every non 2xx answer becomes
// an *errors.APIError.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	validate   *validator.Validate
}

func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("chat api url: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		validate:   validator.New(),
	}, nil
}

type conversationDTO struct {
	ID             string     `json:"id"`
	Participant1ID string     `json:"participant1_id"`
	Participant2ID string     `json:"participant2_id"`
	CreatedAt      time.Time  `json:"created_at"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
}

type userDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	PreferredLanguage string `json:"preferred_language"`
}

type createConversationDTO struct {
	Participant1ID string `json:"participant1_id"`
	Participant2ID string `json:"participant2_id"`
}

type sendMessageDTO struct {
	ConversationID     string `json:"conversation_id"`
	SenderID           string `json:"sender_id"`
	ClientID           string `json:"client_id"`
	Text               string `json:"text"`
	Language           string `json:"language"`
	TranslatedLanguage string `json:"translated_language,omitempty"`
	IsVoice            bool   `json:"is_voice"`
}

type translateDTO struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language,omitempty"`
	TargetLanguage string `json:"target_language"`
}

type translationDTO struct {
	TranslatedText string  `json:"translated_text"`
	TargetLanguage string  `json:"target_language"`
	Sentiment      *string `json:"sentiment,omitempty"`
}

type languagesDTO struct {
	Languages []string `json:"languages"`
}

func (c *Client) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	var dto conversationDTO
	if err := c.get(ctx, "/chat/conversations/"+url.PathEscape(conversationID), &dto); err != nil {
		return domain.Conversation{}, fmt.Errorf("get conversation %s: %w", conversationID, err)
	}
	return toConversation(dto), nil
}

func (c *Client) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var dtos []conversationDTO
	if err := c.get(ctx, "/chat/conversations/user/"+url.PathEscape(userID), &dtos); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return lo.Map(dtos, func(dto conversationDTO, _ int) domain.Conversation { return toConversation(dto) }), nil
}

// CreateConversation returns the existing conversation when the pair
// already has one.
func (c *Client) CreateConversation(ctx context.Context, userID, partnerID string) (domain.Conversation, error) {
	var dto conversationDTO
	in := createConversationDTO{Participant1ID: userID, Participant2ID: partnerID}
	if err := c.post(ctx, "/chat/conversations", in, &dto); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return toConversation(dto), nil
}

func (c *Client) FetchHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	path := "/chat/messages/" + url.PathEscape(conversationID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var payloads []event.MessagePayload
	if err := c.get(ctx, path, &payloads); err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", conversationID, err)
	}
	return lo.Map(payloads, func(p event.MessagePayload, _ int) domain.Message {
		message := p.ToMessage()
		message.Status = message.Status.AtLeastSent()
		return message
	}), nil
}

// SendMessage persists one message. The returned record carries the server
// id; the correlation id is echoed back when the server does not.
func (c *Client) SendMessage(ctx context.Context, request domain.SendRequest) (domain.Message, error) {
	if err := c.validate.Struct(request); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	in := sendMessageDTO{
		ConversationID:     request.ConversationID,
		SenderID:           request.SenderID,
		ClientID:           request.CorrelationID,
		Text:               request.Text,
		Language:           request.SourceLanguage,
		TranslatedLanguage: request.TargetLanguage,
		IsVoice:            request.IsVoice,
	}
	var payload event.MessagePayload
	if err := c.post(ctx, "/chat/messages", in, &payload); err != nil {
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}
	if payload.ID == "" {
		return domain.Message{}, fmt.Errorf("send message: %w: missing id", errors.ErrInvalidMessage)
	}
	message := payload.ToMessage()
	if message.CorrelationID == "" {
		message.CorrelationID = request.CorrelationID
	}
	message.Status = message.Status.AtLeastSent()
	return message, nil
}

func (c *Client) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var dto userDTO
	if err := c.get(ctx, "/auth/users/"+url.PathEscape(userID), &dto); err != nil {
		return domain.User{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	return toUser(dto), nil
}

func (c *Client) FindUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var dto userDTO
	if err := c.get(ctx, "/auth/users/search?email="+url.QueryEscape(email), &dto); err != nil {
		return domain.User{}, fmt.Errorf("find user %s: %w", email, err)
	}
	return toUser(dto), nil
}

func (c *Client) Languages(ctx context.Context) ([]string, error) {
	var dto languagesDTO
	if err := c.get(ctx, "/chat/languages", &dto); err != nil {
		return nil, fmt.Errorf("languages: %w", err)
	}
	return dto.Languages, nil
}

func (c *Client) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (domain.Translation, error) {
	var dto translationDTO
	in := translateDTO{Text: text, SourceLanguage: sourceLanguage, TargetLanguage: targetLanguage}
	if err := c.post(ctx, "/chat/translate", in, &dto); err != nil {
		return domain.Translation{}, fmt.Errorf("translate: %w", err)
	}
	return domain.Translation{Text: dto.TranslatedText, Language: dto.TargetLanguage, Sentiment: dto.Sentiment}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errors.APIError{Status: resp.StatusCode, Detail: detail(data)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// detail extracts the {"detail": ...} message of the backend, or the raw
// body.
func detail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return string(body)
}

func toConversation(dto conversationDTO) domain.Conversation {
	return domain.Conversation{
		ID:             dto.ID,
		Participant1ID: dto.Participant1ID,
		Participant2ID: dto.Participant2ID,
		CreatedAt:      dto.CreatedAt,
		LastMessageAt:  dto.LastMessageAt,
	}
}

func toUser(dto userDTO) domain.User {
	return domain.User{ID: dto.ID, Name: dto.Name, Email: dto.Email, PreferredLanguage: dto.PreferredLanguage}
}
