package reader

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
)

// Timeouts per call class. Control calls are cheap; a user_set_image_list
// payload can carry megabytes of encoded images.
const (
	controlTimeout = 5 * time.Second
	bulkTimeout    = 90 * time.Second

	// how much of an error response body is kept for logs/messages
	maxBodyEcho = 200
)

// Client is a thin typed wrapper over the reader's .fcgi HTTP API. The
// session token travels as a query parameter on every authenticated call.
// No call retries internally; retry policy belongs to the caller.
type Client struct {
	control *http.Client
	bulk    *http.Client
}

func NewClient() *Client {
	return &Client{
		control: &http.Client{Timeout: controlTimeout},
		bulk:    &http.Client{Timeout: bulkTimeout},
	}
}

// Filter is one condition of a load_objects/modify_objects where clause.
type Filter struct {
	Object   string `json:"object"`
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// UserImage is one item of a bulk image upload.
type UserImage struct {
	UserID    uint   `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
	Image     string `json:"image"` // base64 JPEG
}

// Login opens a session. The reader answers {"session": "..."}.
func (c *Client) Login(ctx context.Context, addr, user, pass string) (string, error) {
	form := url.Values{}
	form.Set("login", user)
	form.Set("password", pass)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s/login.fcgi", addr), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.control.Do(req)
	if err != nil {
		return "", &NetworkError{Op: "login", Addr: addr, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Addr: addr, Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, readEcho(resp.Body))}
	}
	var payload struct {
		Session string `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &AuthError{Addr: addr, Reason: "unparsable login response"}
	}
	if payload.Session == "" {
		return "", &AuthError{Addr: addr, Reason: "login response carries no session"}
	}
	return payload.Session, nil
}

// SessionValid asks whether a token is still accepted.
func (c *Client) SessionValid(ctx context.Context, addr, session string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		endpoint(addr, "session_is_valid", session), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.control.Do(req)
	if err != nil {
		return false, &NetworkError{Op: "session_is_valid", Addr: addr, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	var payload struct {
		Valid bool `json:"session_is_valid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, nil
	}
	return payload.Valid, nil
}

// LoadObjects queries reader-side records ("users", "devices", ...).
func (c *Client) LoadObjects(ctx context.Context, addr, session, object string, where []Filter) ([]map[string]any, error) {
	body := map[string]any{"object": object}
	if len(where) > 0 {
		body["where"] = where
	}
	var payload map[string]json.RawMessage
	if err := c.post(ctx, c.control, "load_objects", addr, session, body, &payload); err != nil {
		return nil, err
	}
	var records []map[string]any
	if raw, ok := payload[object]; ok {
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, &DeviceError{Op: "load_objects", Addr: addr, Status: http.StatusOK, Body: "unparsable object list"}
		}
	}
	return records, nil
}

// CreateObjects inserts records on the reader and returns the assigned ids.
func (c *Client) CreateObjects(ctx context.Context, addr, session, object string, values []map[string]any) ([]int, error) {
	var payload struct {
		IDs []int `json:"ids"`
	}
	body := map[string]any{"object": object, "values": values}
	if err := c.post(ctx, c.control, "create_objects", addr, session, body, &payload); err != nil {
		return nil, err
	}
	return payload.IDs, nil
}

// ModifyObjects updates matching records on the reader.
func (c *Client) ModifyObjects(ctx context.Context, addr, session, object string, values map[string]any, where []Filter) error {
	body := map[string]any{"object": object, "values": values, "where": where}
	return c.post(ctx, c.control, "modify_objects", addr, session, body, nil)
}

// SetConfiguration applies named configuration sections (monitor,
// online_client, general, onvif, video_stream, ...).
func (c *Client) SetConfiguration(ctx context.Context, addr, session string, sections map[string]map[string]string) error {
	return c.post(ctx, c.control, "set_configuration", addr, session, sections, nil)
}

// MasterPassword rotates the reader admin password.
func (c *Client) MasterPassword(ctx context.Context, addr, session, password string) error {
	return c.post(ctx, c.control, "master_password", addr, session, map[string]string{"password": password}, nil)
}

// SetUserImages pushes face images in bulk. match:false means the reader
// stores the images without running identification against them.
func (c *Client) SetUserImages(ctx context.Context, addr, session string, images []UserImage) error {
	body := map[string]any{"match": false, "user_images": images}
	return c.post(ctx, c.bulk, "user_set_image_list", addr, session, body, nil)
}

func (c *Client) post(ctx context.Context, hc *http.Client, op, addr, session string, in, out any) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(addr, op, session), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Addr: addr, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &DeviceError{Op: op, Addr: addr, Status: resp.StatusCode, Body: readEcho(resp.Body)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &DeviceError{Op: op, Addr: addr, Status: resp.StatusCode, Body: "unparsable response"}
		}
	}
	return nil
}

func endpoint(addr, op, session string) string {
	return fmt.Sprintf("http://%s/%s.fcgi?session=%s", addr, op, url.QueryEscape(session))
}

func readEcho(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxBodyEcho))
	return string(b)
}
