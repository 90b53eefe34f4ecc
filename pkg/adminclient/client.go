// Package adminclient talks to a running sftpdavd's admin API.
package adminclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/materials-commons/sftpdav/pkg/webapi"
)

var ErrAdminAPI = errors.New("admin api")

// ErrorResponse is the JSON body echo replies with when a handler fails.
type ErrorResponse struct {
	Message string `json:"message"`
}

type Client struct {
	r *resty.Client
}

// New creates a client for the admin API listening on addr ("host:port" or a
// full http URL).
func New(addr string, timeout time.Duration) *Client {
	baseURL := addr
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{r: r}
}

func (c *Client) PoolStatus(ctx context.Context) (*webapi.PoolStatus, error) {
	var status webapi.PoolStatus
	resp, err := c.r.R().SetContext(ctx).SetResult(&status).Get("/api/pool")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	return &status, nil
}

func (c *Client) ShowLogging(ctx context.Context) (*webapi.LoggingState, error) {
	var state webapi.LoggingState
	resp, err := c.r.R().SetContext(ctx).SetResult(&state).Get("/api/show-logging")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	return &state, nil
}

// SetLogging changes the server's log level and output. An empty argument
// leaves that setting as it is.
func (c *Client) SetLogging(ctx context.Context, level, output string) (*webapi.LoggingState, error) {
	var (
		state webapi.LoggingState
		resp  *resty.Response
		err   error
	)

	req := c.r.R().SetContext(ctx).SetResult(&state)

	switch {
	case level != "" && output != "":
		resp, err = req.SetBody(webapi.LoggingState{LogLevel: level, LogOutput: output}).Post("/api/set-logging")
	case level != "":
		resp, err = req.SetBody(map[string]string{"log_level": level}).Post("/api/set-logging-level")
	case output != "":
		resp, err = req.SetBody(map[string]string{"log_output": output}).Post("/api/set-logging-output")
	default:
		return c.ShowLogging(ctx)
	}

	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	return &state, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Join(ErrAdminAPI, err)
	}

	if resp.IsError() {
		return ToErrorFromResponse(resp)
	}

	return nil
}

// ToErrorFromResponse turns a failed response into an error carrying the
// server's message when the body has one.
func ToErrorFromResponse(resp *resty.Response) error {
	var errorResponse ErrorResponse
	if err := json.Unmarshal(resp.Body(), &errorResponse); err != nil || errorResponse.Message == "" {
		return errors.Join(ErrAdminAPI, fmt.Errorf("(HTTP Status: %d)", resp.StatusCode()))
	}

	return errors.Join(ErrAdminAPI, fmt.Errorf("(HTTP Status: %d)- %s", resp.StatusCode(), errorResponse.Message))
}
