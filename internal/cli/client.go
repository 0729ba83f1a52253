package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// RunResponse — run из API.
type RunResponse struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Kind             string   `json:"kind"`
	ParentRunID      string   `json:"parent_run_id,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	RunCount         int      `json:"run_count"`
	MaxRetries       int      `json:"max_retries"`
	CurrentStateType string   `json:"current_state_type,omitempty"`
	StateVersion     int      `json:"state_version"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

// StateResponse — состояние run из API.
type StateResponse struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Name          string `json:"name"`
	Timestamp     string `json:"timestamp"`
	Message       string `json:"message,omitempty"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
	RetryCount    int    `json:"retry_count,omitempty"`
	TransitionID  string `json:"transition_id,omitempty"`
}

// SetStateResponse — вердикт оркестратора по предложенному переходу.
type SetStateResponse struct {
	Status        string         `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	RetryAfterSec float64        `json:"retry_after_sec,omitempty"`
	State         *StateResponse `json:"state,omitempty"`
}

// LimitResponse — v1-лимит конкурентности из API.
type LimitResponse struct {
	ID          string   `json:"id"`
	Tag         string   `json:"tag"`
	Limit       int      `json:"limit"`
	ActiveSlots []string `json:"active_slots"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// LimitV2Response — v2-лимит конкурентности из API.
type LimitV2Response struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Limit              int     `json:"limit"`
	ActiveSlots        int     `json:"active_slots"`
	DeniedSlots        int     `json:"denied_slots"`
	SlotDecayPerSecond float64 `json:"slot_decay_per_second"`
	AvgSlotsOccupied   float64 `json:"avg_slots_occupied"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// IncrementV2Response — результат захвата слотов v2.
type IncrementV2Response struct {
	Token    string            `json:"token"`
	Acquired map[string]int    `json:"acquired"`
	Limits   []LimitV2Response `json:"limits"`
}

// --- Request types ---

// CreateRunRequest — создание run.
type CreateRunRequest struct {
	Name          string   `json:"name"`
	Kind          string   `json:"kind"`
	ParentRunID   string   `json:"parent_run_id,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	MaxRetries    int      `json:"max_retries,omitempty"`
	RetryDelaySec int      `json:"retry_delay_sec,omitempty"`
	ScheduledTime string   `json:"scheduled_time,omitempty"`
}

// StateInput — предлагаемое состояние.
type StateInput struct {
	Type         string `json:"type"`
	Name         string `json:"name,omitempty"`
	Message      string `json:"message,omitempty"`
	TransitionID string `json:"transition_id,omitempty"`
}

// SetStateRequest — предложение перехода состояния.
type SetStateRequest struct {
	State StateInput `json:"state"`
	Force bool       `json:"force,omitempty"`
}

// CreateLimitRequest — создание v1-лимита.
type CreateLimitRequest struct {
	Tag   string `json:"tag"`
	Limit int    `json:"limit"`
}

// MutateSlotsRequest — захват или освобождение слотов v1.
type MutateSlotsRequest struct {
	Names      []string `json:"names"`
	TaskRunID  string   `json:"task_run_id"`
	Wait       bool     `json:"wait,omitempty"`
	TimeoutSec int      `json:"timeout_sec,omitempty"`
}

// CreateLimitV2Request — создание v2-лимита.
type CreateLimitV2Request struct {
	Name               string  `json:"name"`
	Limit              int     `json:"limit"`
	SlotDecayPerSecond float64 `json:"slot_decay_per_second,omitempty"`
}

// UpdateLimitV2Request — частичное обновление v2-лимита.
type UpdateLimitV2Request struct {
	Limit              *int     `json:"limit,omitempty"`
	SlotDecayPerSecond *float64 `json:"slot_decay_per_second,omitempty"`
	ResetDenied        bool     `json:"reset_denied,omitempty"`
}

// IncrementV2Request — захват слотов v2.
type IncrementV2Request struct {
	Names []string `json:"names"`
	Slots int      `json:"slots"`
	Mode  string   `json:"mode,omitempty"`
}

// DecrementV2Request — освобождение слотов v2.
type DecrementV2Request struct {
	Names []string `json:"names"`
	Slots int      `json:"slots"`
	Token string   `json:"token,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Cadence API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Runs ---

// CreateRun создаёт run.
func (c *Client) CreateRun(req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// ListRunStates возвращает историю состояний run.
func (c *Client) ListRunStates(id string) ([]StateResponse, error) {
	var states []StateResponse
	err := c.list("/api/v1/runs/"+id+"/states", &states)
	return states, err
}

// SetRunState предлагает оркестратору переход состояния.
func (c *Client) SetRunState(id string, req SetStateRequest) (*SetStateResponse, error) {
	var result SetStateResponse
	err := c.post("/api/v1/runs/"+id+"/set_state", req, &result)
	return &result, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*SetStateResponse, error) {
	var result SetStateResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &result)
	return &result, err
}

// --- Concurrency limits v1 ---

// ListLimits возвращает все v1-лимиты.
func (c *Client) ListLimits() ([]LimitResponse, error) {
	var limits []LimitResponse
	err := c.list("/api/v1/concurrency_limits", &limits)
	return limits, err
}

// CreateLimit создаёт v1-лимит.
func (c *Client) CreateLimit(req CreateLimitRequest) (*LimitResponse, error) {
	var lim LimitResponse
	err := c.post("/api/v1/concurrency_limits", req, &lim)
	return &lim, err
}

// GetLimit возвращает v1-лимит по тегу.
func (c *Client) GetLimit(tag string) (*LimitResponse, error) {
	var lim LimitResponse
	err := c.get("/api/v1/concurrency_limits/"+tag, &lim)
	return &lim, err
}

// DeleteLimit удаляет v1-лимит.
func (c *Client) DeleteLimit(tag string) error {
	return c.delete("/api/v1/concurrency_limits/" + tag)
}

// IncrementLimits занимает слоты в лимитах names для task run.
func (c *Client) IncrementLimits(req MutateSlotsRequest) error {
	return c.post("/api/v1/concurrency_limits/increment", req, nil)
}

// DecrementLimits освобождает слоты task run в лимитах names.
func (c *Client) DecrementLimits(req MutateSlotsRequest) error {
	return c.post("/api/v1/concurrency_limits/decrement", req, nil)
}

// --- Concurrency limits v2 ---

// ListLimitsV2 возвращает все v2-лимиты.
func (c *Client) ListLimitsV2() ([]LimitV2Response, error) {
	var limits []LimitV2Response
	err := c.list("/api/v1/v2/concurrency_limits", &limits)
	return limits, err
}

// CreateLimitV2 создаёт v2-лимит.
func (c *Client) CreateLimitV2(req CreateLimitV2Request) (*LimitV2Response, error) {
	var lim LimitV2Response
	err := c.post("/api/v1/v2/concurrency_limits", req, &lim)
	return &lim, err
}

// GetLimitV2 возвращает v2-лимит по имени.
func (c *Client) GetLimitV2(name string) (*LimitV2Response, error) {
	var lim LimitV2Response
	err := c.get("/api/v1/v2/concurrency_limits/"+name, &lim)
	return &lim, err
}

// UpdateLimitV2 частично обновляет v2-лимит.
func (c *Client) UpdateLimitV2(name string, req UpdateLimitV2Request) (*LimitV2Response, error) {
	var lim LimitV2Response
	err := c.patch("/api/v1/v2/concurrency_limits/"+name, req, &lim)
	return &lim, err
}

// DeleteLimitV2 удаляет v2-лимит.
func (c *Client) DeleteLimitV2(name string) error {
	return c.delete("/api/v1/v2/concurrency_limits/" + name)
}

// IncrementLimitsV2 захватывает слоты в лимитах names.
func (c *Client) IncrementLimitsV2(req IncrementV2Request) (*IncrementV2Response, error) {
	var result IncrementV2Response
	err := c.post("/api/v1/v2/concurrency_limits/increment", req, &result)
	return &result, err
}

// DecrementLimitsV2 освобождает слоты в лимитах names.
func (c *Client) DecrementLimitsV2(req DecrementV2Request) error {
	return c.post("/api/v1/v2/concurrency_limits/decrement", req, nil)
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) patch(path string, body any, result any) error {
	return c.doData(http.MethodPatch, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, result any) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	if resp.StatusCode == http.StatusLocked {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("no slots available, retry after %ss", ra)
		}
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
