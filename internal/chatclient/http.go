package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/pkg/errs"
)

// HTTPHistory: клиент History/Send/Seen API.
type HTTPHistory struct {
	baseURL string
	creds   Credentials
	client  *http.Client
}

// NewHTTPHistory: baseURL вида http://host:8080. client может быть nil.
func NewHTTPHistory(baseURL string, creds Credentials, client *http.Client) *HTTPHistory {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPHistory{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		client:  client,
	}
}

func (h *HTTPHistory) History(ctx context.Context, key domain.ConversationKey) ([]domain.Message, error) {
	var out []domain.Message
	if err := h.do(ctx, http.MethodGet, conversationPath(key, "messages"), nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Message{}
	}
	return out, nil
}

// Send: отправка без websocket. Сервис так же публикует сообщение в комнату.
func (h *HTTPHistory) Send(ctx context.Context, key domain.ConversationKey, body string) (domain.Message, error) {
	in := map[string]string{"sender": string(h.creds.Identity.Role), "body": body}
	var out domain.Message
	if err := h.do(ctx, http.MethodPost, conversationPath(key, "messages"), in, &out); err != nil {
		return domain.Message{}, err
	}
	return out, nil
}

// MarkSeen с пустым messageID отмечает все непрочитанные от собеседника.
func (h *HTTPHistory) MarkSeen(ctx context.Context, key domain.ConversationKey, messageID string) ([]domain.Message, error) {
	var in any
	if messageID != "" {
		in = map[string]string{"message_id": messageID}
	}
	var out []domain.Message
	if err := h.do(ctx, http.MethodPost, conversationPath(key, "seen"), in, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HTTPHistory) FarmersForDoctor(ctx context.Context, doctorID string) ([]string, error) {
	var out []string
	err := h.do(ctx, http.MethodGet, "/doctors/"+url.PathEscape(doctorID)+"/conversations", nil, &out)
	return out, err
}

func (h *HTTPHistory) DoctorsForFarmer(ctx context.Context, farmerID string) ([]string, error) {
	var out []string
	err := h.do(ctx, http.MethodGet, "/farmers/"+url.PathEscape(farmerID)+"/conversations", nil, &out)
	return out, err
}

// --- helpers ---

func conversationPath(key domain.ConversationKey, tail string) string {
	return "/conversations/" + url.PathEscape(key.FarmerID) + "/" + url.PathEscape(key.DoctorID) + "/" + tail
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Message string         `json:"message"`
		Meta    map[string]any `json:"meta"`
	} `json:"error"`
}

func (h *HTTPHistory) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	h.creds.applyHeaders(req.Header)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return &RemoteError{Status: resp.StatusCode, Code: errs.CodeInternal, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%w: decode %s %s: %v", domain.ErrTransport, method, path, err)
	}
	if resp.StatusCode >= 400 || env.Error != nil {
		re := &RemoteError{Status: resp.StatusCode}
		if env.Error != nil {
			re.Message = env.Error.Message
			re.Code, _ = env.Error.Meta["code"].(string)
		}
		return re
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode %s %s data: %v", domain.ErrTransport, method, path, err)
	}
	return nil
}
