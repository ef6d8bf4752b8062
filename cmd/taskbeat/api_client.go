package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taskbeat/internal/daemon"
	"taskbeat/internal/queue"
	"taskbeat/internal/task"
)

const maxResponseBody = 8 << 20

// apiClient talks to a running daemon's HTTP API.
type apiClient struct {
	addr  string
	base  string
	token string
	http  *http.Client
}

// apiError is a non-2xx API response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

func newAPIClient(addr, token string) (*apiClient, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return nil, fmt.Errorf("api address %q: %w", addr, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	hostPort := net.JoinHostPort(host, port)
	return &apiClient{
		addr:  hostPort,
		base:  "http://" + hostPort,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Beat asks the daemon to run a poll cycle for queueName.
func (c *apiClient) Beat(ctx context.Context, queueName string) error {
	return c.do(ctx, http.MethodPost, "/api/queues/"+url.PathEscape(queueName)+"/$beat", nil, nil)
}

// Status returns the daemon runtime status.
func (c *apiClient) Status(ctx context.Context) (daemon.Status, error) {
	var status daemon.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

// Enqueue submits req to queueName through the daemon.
func (c *apiClient) Enqueue(ctx context.Context, queueName string, req task.Request) (*queue.Entry, error) {
	var entry queue.Entry
	if err := c.do(ctx, http.MethodPost, "/api/queues/"+url.PathEscape(queueName)+"/entries", req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.addr)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			message = payload.Error
		}
		return &apiError{Status: resp.StatusCode, Message: message}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
