package livechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// BacklogEntry is one prior message returned when a conversation is resumed.
type BacklogEntry struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	Sender         string `json:"sender"`
	Timestamp      string `json:"timestamp"`
	ReadByCustomer bool   `json:"read_by_customer"`
}

// ConversationStarter is the request/response collaborator that assigns the
// conversation id. Resolve is the fallback used to end a chat while the
// channel is disconnected.
type ConversationStarter interface {
	StartOrResume(ctx context.Context, identity Identity) (conversationID string, backlog []BacklogEntry, err error)
	Resolve(ctx context.Context, conversationID, resolvedBy string) error
}

// APIStarter calls the chat server's REST endpoints.
type APIStarter struct {
	BaseURL string
	Client  *http.Client
}

func NewAPIStarter(baseURL string) *APIStarter {
	return &APIStarter{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type startReq struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

type startRespData struct {
	ConversationID  string         `json:"conversation_id"`
	InitialMessages []BacklogEntry `json:"initial_messages"`
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *APIStarter) StartOrResume(ctx context.Context, identity Identity) (string, []BacklogEntry, error) {
	body, err := json.Marshal(startReq{
		UserID: identity.UserID,
		Name:   identity.Name,
		Email:  identity.Email,
		Phone:  identity.Phone,
	})
	if err != nil {
		return "", nil, err
	}

	url := fmt.Sprintf("%s/api/chat/conversations/start", s.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("livechat: start conversation: status %d", resp.StatusCode)
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", nil, err
	}
	if env.Code != 0 {
		return "", nil, fmt.Errorf("livechat: start conversation: %s", env.Message)
	}

	var data startRespData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", nil, err
	}
	if data.ConversationID == "" {
		return "", nil, fmt.Errorf("livechat: start conversation: empty conversation id")
	}
	return data.ConversationID, data.InitialMessages, nil
}

func (s *APIStarter) Resolve(ctx context.Context, conversationID, resolvedBy string) error {
	body, err := json.Marshal(map[string]string{"resolved_by": resolvedBy})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/chat/conversations/%s/resolve", s.BaseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("livechat: resolve conversation: status %d", resp.StatusCode)
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if env.Code != 0 {
		return fmt.Errorf("livechat: resolve conversation: %s", env.Message)
	}
	return nil
}
