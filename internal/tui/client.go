package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fentz26/cropcare/internal/models"
)

// Request timeouts. Refresh and analysis wait on the text generator.
const (
	DefaultClientTimeout = 10 * time.Second
	GenerationTimeout    = 90 * time.Second
)

// Client wraps HTTP calls to the cropcare API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// ListPlants fetches an owner's plants
func (c *Client) ListPlants(owner string) ([]models.Plant, error) {
	path := "/plants"
	if owner != "" {
		path += "?owner=" + url.QueryEscape(owner)
	}
	var plants []models.Plant
	if err := c.do(DefaultClientTimeout, http.MethodGet, path, nil, &plants); err != nil {
		return nil, err
	}
	return plants, nil
}

// GetPlant fetches a single plant
func (c *Client) GetPlant(id string) (*models.Plant, error) {
	var p models.Plant
	if err := c.do(DefaultClientTimeout, http.MethodGet, "/plants/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RefreshPlan regenerates a plant's plan
func (c *Client) RefreshPlan(id string) (*models.CarePlan, error) {
	var plan models.CarePlan
	if err := c.do(GenerationTimeout, http.MethodPost, "/plants/"+url.PathEscape(id)+"/refresh", nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ToggleAction sets an action's completed flag
func (c *Client) ToggleAction(id string, day int, actionID string, completed bool) (*models.CarePlan, error) {
	path := fmt.Sprintf("/plants/%s/days/%d/actions/%s/toggle", url.PathEscape(id), day, url.PathEscape(actionID))
	var plan models.CarePlan
	if err := c.do(DefaultClientTimeout, http.MethodPost, path, map[string]bool{"completed": completed}, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// AnalyzeAction fetches detailed guidance for an action
func (c *Client) AnalyzeAction(id string, day, index int) (*models.TaskAnalysis, error) {
	path := fmt.Sprintf("/plants/%s/days/%d/actions/%d/analysis", url.PathEscape(id), day, index)
	var a models.TaskAnalysis
	if err := c.do(GenerationTimeout, http.MethodGet, path, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	var health struct {
		OK bool `json:"ok"`
	}
	if err := c.do(DefaultClientTimeout, http.MethodGet, "/health", nil, &health); err != nil {
		return false, err
	}
	return health.OK, nil
}

func (c *Client) do(timeout time.Duration, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("API error: %s", apiErr.Error)
		}
		return fmt.Errorf("API error: %s", string(data))
	}
	return json.Unmarshal(data, out)
}
