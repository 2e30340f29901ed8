package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"dm_chat/internal/model"

	"github.com/gorilla/websocket"
)

type (
	// APIError is a non 2xx answer from the server.
	APIError struct {
		Status  int
		Message string `json:"error"`
	}
)

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *App) url(scheme, path string, query url.Values) string {
	u := url.URL{
		Scheme:   scheme,
		Host:     c.host,
		Path:     path,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func (c *App) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url("http", path, query), body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *App) resolveIdentity(ctx context.Context, profile model.Profile) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/identity", nil, profile, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c *App) listUsers(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	err := c.call(ctx, http.MethodGet, "/users", nil, nil, &users)
	return users, err
}

func (c *App) postMessage(ctx context.Context, to, body string) (*model.Message, error) {
	var msg model.Message
	in := struct {
		Body string `json:"body"`
	}{Body: body}
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/conversations/%s/messages", to), nil, in, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *App) dialSubscription(ctx context.Context, to, cursor string) (*websocket.Conn, error) {
	params := url.Values{
		"cursor": []string{cursor},
	}
	header := http.Header{
		"Authorization": []string{"Bearer " + c.token},
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url("ws", fmt.Sprintf("/conversations/%s/subscribe", to), params), header)
	if err != nil {
		return nil, err
	}

	return conn, nil
}
