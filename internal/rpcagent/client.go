// Package rpcagent implements the Inter-Agent RPC client and registry: a
// plain net/http transport for one agent process to call tools or actions
// exposed by another, with a concurrency-safe directory of known peers.
package rpcagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is the wire envelope exchanged between agents.
type Message struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Action string `json:"action"`
	Sync   bool   `json:"sync"`
	Args   any    `json:"args"`
}

func newRequestMessage(from, to, action string, args any, sync bool) Message {
	return Message{ID: uuid.New().String(), From: from, To: to, Action: action, Sync: sync, Args: args}
}

// Client sends requests to remote agents over HTTP and tracks them in a Registry.
type Client struct {
	httpClient   *http.Client
	localAgentID string
	registry     *Registry
	timeout      time.Duration
}

// NewClient builds a Client identified as localAgentID, with requests
// bounded by timeout.
func NewClient(localAgentID string, timeout time.Duration) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		localAgentID: localAgentID,
		registry:     NewRegistry(),
		timeout:      timeout,
	}
}

// Registry returns the client's agent directory.
func (c *Client) Registry() *Registry { return c.registry }

// CallSync sends a synchronous request to remoteAgentID and returns its parsed response.
func (c *Client) CallSync(ctx context.Context, remoteAgentID, action string, args any) (json.RawMessage, error) {
	agent, err := c.registry.Find(remoteAgentID)
	if err != nil {
		return nil, &AgentNotFoundError{AgentID: remoteAgentID}
	}

	message := newRequestMessage(c.localAgentID, remoteAgentID, action, args, true)
	return c.sendRequest(ctx, agent.BaseURL, message)
}

// CallAsync sends a fire-and-forget request, returning its message ID
// without waiting for a response body to be meaningful.
func (c *Client) CallAsync(ctx context.Context, remoteAgentID, action string, args any) (string, error) {
	agent, err := c.registry.Find(remoteAgentID)
	if err != nil {
		return "", &AgentNotFoundError{AgentID: remoteAgentID}
	}

	message := newRequestMessage(c.localAgentID, remoteAgentID, action, args, false)
	_, _ = c.sendRequest(ctx, agent.BaseURL, message)
	return message.ID, nil
}

func (c *Client) sendRequest(ctx context.Context, baseURL string, message Message) (json.RawMessage, error) {
	url := strings.TrimRight(baseURL, "/") + "/messages"

	body, err := json.Marshal(message)
	if err != nil {
		return nil, &SerializationError{Detail: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		if readErr != nil {
			return nil, &NetworkError{Err: readErr}
		}
		if len(respBody) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(respBody) {
			return nil, &SerializationError{Detail: fmt.Sprintf("failed to parse response: %s", string(respBody))}
		}
		return json.RawMessage(respBody), nil

	case http.StatusRequestTimeout:
		return nil, &TimeoutError{Detail: "Request to remote agent timed out"}

	case http.StatusNotFound:
		return nil, &AgentNotFoundError{AgentID: "remote agent endpoint not found"}

	default:
		return nil, &RemoteError{AgentID: baseURL, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody)), Code: resp.StatusCode}
	}
}

// DiscoverAgent fetches agent metadata from baseURL's /metadata endpoint
// (offline discovery, independent of the registry).
func (c *Client) DiscoverAgent(ctx context.Context, baseURL string) (AgentInfo, error) {
	url := strings.TrimRight(baseURL, "/") + "/metadata"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return AgentInfo{}, &NetworkError{Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AgentInfo{}, &NetworkError{Err: fmt.Errorf("discovery failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return AgentInfo{}, &NetworkError{Err: fmt.Errorf("discovery failed with status %d", resp.StatusCode)}
	}

	var info AgentInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return AgentInfo{}, &SerializationError{Detail: err.Error()}
	}
	return info, nil
}

// Ping checks whether a registered remote agent's /health endpoint responds
// successfully, updating the registry's online status as a side effect.
func (c *Client) Ping(ctx context.Context, remoteAgentID string) (bool, error) {
	agent, err := c.registry.Find(remoteAgentID)
	if err != nil {
		return false, &AgentNotFoundError{AgentID: remoteAgentID}
	}

	url := strings.TrimRight(agent.BaseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, &NetworkError{Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = c.registry.UpdateStatus(remoteAgentID, false)
		return false, nil
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	_ = c.registry.UpdateStatus(remoteAgentID, healthy)
	return healthy, nil
}
