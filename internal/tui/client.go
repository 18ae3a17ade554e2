package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the crewd API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

func (c *Client) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// ListTasks fetches tasks from the API
func (c *Client) ListTasks(status string) ([]TaskItem, error) {
	path := "/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var tasks []struct {
		TaskID     string `json:"task_id"`
		TaskType   string `json:"task_type"`
		Status     string `json:"status"`
		Priority   int    `json:"priority"`
		AssignedTo string `json:"assigned_to"`
	}
	if err := c.get(path, &tasks); err != nil {
		return nil, err
	}

	items := make([]TaskItem, len(tasks))
	for i, t := range tasks {
		items[i] = TaskItem{
			ID:         t.TaskID,
			TaskType:   t.TaskType,
			Status:     t.Status,
			Priority:   t.Priority,
			AssignedTo: t.AssignedTo,
		}
	}
	return items, nil
}

// ListLocks fetches the active locks
func (c *Client) ListLocks() ([]LockItem, error) {
	var result struct {
		Locks []struct {
			ResourceKey  string    `json:"resource_key"`
			OwnerAgentID string    `json:"owner_agent_id"`
			Reason       string    `json:"reason"`
			ExpiresAt    time.Time `json:"expires_at"`
		} `json:"locks"`
	}
	if err := c.get("/locks", &result); err != nil {
		return nil, err
	}

	items := make([]LockItem, len(result.Locks))
	for i, l := range result.Locks {
		items[i] = LockItem{
			ResourceKey: l.ResourceKey,
			OwnerID:     l.OwnerAgentID,
			Reason:      l.Reason,
			ExpiresAt:   l.ExpiresAt.Local().Format("15:04:05"),
		}
	}
	return items, nil
}

// ListAgents fetches registered agent sessions
func (c *Client) ListAgents() ([]AgentItem, error) {
	var sessions []struct {
		SessionID     string    `json:"session_id"`
		AgentID       string    `json:"agent_id"`
		AgentType     string    `json:"agent_type"`
		Status        string    `json:"status"`
		LastHeartbeat time.Time `json:"last_heartbeat"`
	}
	if err := c.get("/agents", &sessions); err != nil {
		return nil, err
	}

	items := make([]AgentItem, len(sessions))
	for i, s := range sessions {
		items[i] = AgentItem{
			SessionID:     s.SessionID,
			AgentID:       s.AgentID,
			AgentType:     s.AgentType,
			Status:        s.Status,
			LastHeartbeat: s.LastHeartbeat.Local().Format("15:04:05"),
		}
	}
	return items, nil
}

// ListHandoffs fetches the most recent handoff documents
func (c *Client) ListHandoffs(limit int) ([]HandoffItem, error) {
	var docs []struct {
		AgentName string    `json:"agent_name"`
		Summary   string    `json:"summary"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := c.get(fmt.Sprintf("/handoffs?limit=%d", limit), &docs); err != nil {
		return nil, err
	}

	items := make([]HandoffItem, len(docs))
	for i, d := range docs {
		items[i] = HandoffItem{
			AgentName: d.AgentName,
			Summary:   d.Summary,
			CreatedAt: d.CreatedAt.Local().Format("Jan 2 15:04"),
		}
	}
	return items, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}
