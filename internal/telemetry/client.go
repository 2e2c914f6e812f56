package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"agents/sentinel-sensor/internal/command"
	"agents/sentinel-sensor/internal/policy"
)

const (
	heartbeatPath = "/telemetry/heartbeat"
	alertPath     = "/telemetry/alert"
	policyPath    = "/policy"

	maxResponseBytes = 4 << 20
	maxErrorBody     = 256
)

// HeartbeatRequest is the body of POST /telemetry/heartbeat.
type HeartbeatRequest struct {
	ID            string `json:"id"`
	Hostname      string `json:"hostname"`
	Status        string `json:"status"`
	Version       string `json:"version"`
	OS            string `json:"os,omitempty"`
	PolicyVersion string `json:"policyVersion,omitempty"`
}

// HeartbeatResponse is HQ's answer. Policies is nil when HQ omitted the
// field or sent null, meaning the sensor's policy set is current. Command
// elements that do not decode are left out of Commands and reported in
// RejectedCommands; they do not spoil the rest of the response.
type HeartbeatResponse struct {
	Policies         *[]policy.Policy  `json:"policies"`
	PolicyVersion    string            `json:"policyVersion,omitempty"`
	Commands         []command.Command `json:"commands"`
	RejectedCommands []error           `json:"-"`
}

type heartbeatBody struct {
	Policies      *[]policy.Policy  `json:"policies"`
	PolicyVersion string            `json:"policyVersion"`
	Commands      []json.RawMessage `json:"commands"`
}

// Client speaks HQ's JSON-over-HTTP API. It performs exactly one attempt per
// call; retry policy belongs to the caller.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the HQ API rooted at base, e.g.
// "http://localhost:3000/api".
func NewClient(base string, httpClient *http.Client) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: httpClient,
	}
}

// Heartbeat reports sensor status and returns pending policies and commands.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	body, err := c.do(ctx, http.MethodPost, heartbeatPath, req)
	if err != nil {
		return HeartbeatResponse{}, err
	}
	var wire heartbeatBody
	if err := decode(body, &wire); err != nil {
		return HeartbeatResponse{}, fmt.Errorf("heartbeat: %w", err)
	}

	resp := HeartbeatResponse{Policies: wire.Policies, PolicyVersion: wire.PolicyVersion}
	for i, raw := range wire.Commands {
		var cmd command.Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			resp.RejectedCommands = append(resp.RejectedCommands, fmt.Errorf("command %d: %w", i, err))
			continue
		}
		resp.Commands = append(resp.Commands, cmd)
	}
	return resp, nil
}

// SendAlert delivers one alert. Any error means HQ did not confirm it.
func (c *Client) SendAlert(ctx context.Context, ev AlertEvent) error {
	_, err := c.do(ctx, http.MethodPost, alertPath, ev)
	return err
}

// Policies fetches the full policy set.
func (c *Client) Policies(ctx context.Context) ([]policy.Policy, error) {
	body, err := c.do(ctx, http.MethodGet, policyPath, nil)
	if err != nil {
		return nil, err
	}
	var policies []policy.Policy
	if err := decode(body, &policies); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return policies, nil
}

func decode(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	op := method + " " + path

	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody] + "..."
		}
		return nil, &ServerError{Op: op, StatusCode: resp.StatusCode, Body: msg}
	}
	return body, nil
}
