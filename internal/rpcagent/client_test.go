package rpcagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func registerTestAgent(t *testing.T, client *Client, id, baseURL string) {
	t.Helper()
	client.Registry().Register(AgentInfo{ID: id, Name: id, BaseURL: baseURL, Online: true})
}

func TestCallSyncReturnsDecodedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Fatalf("server failed to decode request: %v", err)
		}
		if msg.Action != "ping" {
			t.Fatalf("want action %q, got %q", "ping", msg.Action)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"pong":true}`))
	}))
	defer server.Close()

	client := NewClient("local-agent", 2*time.Second)
	registerTestAgent(t, client, "remote-agent", server.URL)

	raw, err := client.CallSync(context.Background(), "remote-agent", "ping", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Pong bool `json:"pong"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !decoded.Pong {
		t.Fatalf("want pong true")
	}
}

func TestCallSyncUnknownAgentReturnsAgentNotFound(t *testing.T) {
	client := NewClient("local-agent", time.Second)

	_, err := client.CallSync(context.Background(), "ghost", "ping", nil)
	if _, ok := err.(*AgentNotFoundError); !ok {
		t.Fatalf("want AgentNotFoundError, got %T: %v", err, err)
	}
}

func TestCallSyncMapsRequestTimeoutStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestTimeout)
	}))
	defer server.Close()

	client := NewClient("local-agent", 2*time.Second)
	registerTestAgent(t, client, "remote-agent", server.URL)

	_, err := client.CallSync(context.Background(), "remote-agent", "slow", nil)
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("want TimeoutError, got %T: %v", err, err)
	}
}

func TestCallSyncMapsNotFoundStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient("local-agent", 2*time.Second)
	registerTestAgent(t, client, "remote-agent", server.URL)

	_, err := client.CallSync(context.Background(), "remote-agent", "missing-action", nil)
	if _, ok := err.(*AgentNotFoundError); !ok {
		t.Fatalf("want AgentNotFoundError, got %T: %v", err, err)
	}
}

func TestCallSyncMapsOtherErrorStatusToRemoteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := NewClient("local-agent", 2*time.Second)
	registerTestAgent(t, client, "remote-agent", server.URL)

	_, err := client.CallSync(context.Background(), "remote-agent", "explode", nil)
	remoteErr, ok := err.(*RemoteError)
	if !ok {
		t.Fatalf("want RemoteError, got %T: %v", err, err)
	}
	if remoteErr.Code != http.StatusInternalServerError {
		t.Fatalf("want code %d, got %d", http.StatusInternalServerError, remoteErr.Code)
	}
}

func TestCallAsyncReturnsMessageIDImmediately(t *testing.T) {
	released := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-released
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()
	defer close(released)

	client := NewClient("local-agent", 100*time.Millisecond)
	registerTestAgent(t, client, "remote-agent", server.URL)

	id, err := client.CallAsync(context.Background(), "remote-agent", "fire-and-forget", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatalf("want non-empty message id")
	}
}

func TestDiscoverAgentDecodesMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metadata" {
			t.Fatalf("want path /metadata, got %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(AgentInfo{ID: "discovered", Name: "Discovered Agent", Capabilities: []string{"summarize"}})
	}))
	defer server.Close()

	client := NewClient("local-agent", 2*time.Second)
	info, err := client.DiscoverAgent(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.ID != "discovered" {
		t.Fatalf("want id %q, got %q", "discovered", info.ID)
	}
}

func TestPingUpdatesRegistryStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient("local-agent", 2*time.Second)
	client.Registry().Register(AgentInfo{ID: "remote-agent", BaseURL: server.URL, Online: false})

	healthy, err := client.Ping(context.Background(), "remote-agent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !healthy {
		t.Fatalf("want healthy ping")
	}

	agent, err := client.Registry().Find("remote-agent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !agent.Online {
		t.Fatalf("want registry to reflect online status after ping")
	}
}

func TestPingUnreachableAgentMarksOffline(t *testing.T) {
	client := NewClient("local-agent", 100*time.Millisecond)
	client.Registry().Register(AgentInfo{ID: "remote-agent", BaseURL: "http://127.0.0.1:1", Online: true})

	healthy, err := client.Ping(context.Background(), "remote-agent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if healthy {
		t.Fatalf("want unreachable agent to report unhealthy")
	}

	agent, _ := client.Registry().Find("remote-agent")
	if agent.Online {
		t.Fatalf("want registry to mark agent offline after failed ping")
	}
}
