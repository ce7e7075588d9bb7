package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type isosClient struct {
	baseURL  string
	token    string
	username string
	password string
	http     *http.Client
	// retryFor bounds how long requests answered with 503 are retried. Zero disables retries.
	retryFor time.Duration
}

func newClient() *isosClient {
	return &isosClient{
		baseURL:  serverURL,
		token:    token,
		username: username,
		password: password,
		retryFor: 10 * time.Second,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	var payload struct {
		Kind  string `json:"kind"`
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(e.body), &payload) == nil && payload.Error != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.code, payload.Kind, payload.Error)
	}
	return fmt.Sprintf("server returned %d: %s", e.code, e.body)
}

// do sends a request and decodes a JSON response into v. Requests answered with
// 503 Service Unavailable are retried with exponential backoff.
func (c *isosClient) do(method, path string, body any, v any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
	}

	attempt := func() error {
		var reader io.Reader
		if data != nil {
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("request creation failed: %w", err))
		}
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("request failed: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(resp.Body)
			serr := &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(respBody))}
			if resp.StatusCode == http.StatusServiceUnavailable {
				return serr
			}
			return backoff.Permanent(serr)
		}

		if v != nil {
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return backoff.Permanent(fmt.Errorf("decode error: %w", err))
			}
		}
		return nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if c.retryFor > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 200 * time.Millisecond
		eb.MaxInterval = 2 * time.Second
		eb.MaxElapsedTime = c.retryFor
		b = eb
	}
	return backoff.Retry(attempt, b)
}

func (c *isosClient) getJSON(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

func (c *isosClient) postJSON(path string, body, v any) error {
	return c.do(http.MethodPost, path, body, v)
}

func (c *isosClient) patchJSON(path string, body, v any) error {
	return c.do(http.MethodPatch, path, body, v)
}

func (c *isosClient) deleteJSON(path string, body, v any) error {
	return c.do(http.MethodDelete, path, body, v)
}

// credentials returns the body credentials sent when no token is configured.
func (c *isosClient) credentials() map[string]any {
	if c.token != "" || c.username == "" {
		return map[string]any{}
	}
	return map[string]any{"username": c.username, "password": c.password}
}
