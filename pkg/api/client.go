// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/pingcap/crashpocket/pkg/harness"
)

// Client talks to a crashpocket server
type Client struct {
	*http.Client
	addr   string
	logger *zap.Logger
}

// NewClient creates a client of the server at addr, e.g. http://127.0.0.1:8080
func NewClient(c *http.Client, addr string) *Client {
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{Client: c, addr: strings.TrimSuffix(addr, "/"), logger: zap.L().Named("http").Named("client")}
}

// StatusError is returned for non 200 answers
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("got %d %s", e.Code, strings.TrimSpace(e.Body))
}

// Execute runs one statement on the server
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (*harness.Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	res, err := c.do(ctx, http.MethodPost, "/api/execute", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out harness.Outcome
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, errors.Annotate(err, "decode execute response")
	}
	return &out, nil
}

// Reset resets the database of a test run
func (c *Client) Reset(ctx context.Context, tool, experiment, kind string) error {
	_, err := c.do(ctx, http.MethodPost, runPath("reset", tool, experiment, kind), "", nil)
	return err
}

// Provision provisions the backend of a test run
func (c *Client) Provision(ctx context.Context, tool, experiment, kind string) error {
	_, err := c.do(ctx, http.MethodPost, runPath("provision", tool, experiment, kind), "", nil)
	return err
}

// Status returns the container state of a backend as text
func (c *Client) Status(ctx context.Context, tool, experiment, kind string) (string, error) {
	res, err := c.do(ctx, http.MethodGet, runPath("status", tool, experiment, kind), "", nil)
	if err != nil {
		return "", err
	}
	var s struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(res, &s); err != nil {
		return "", errors.Annotate(err, "decode status response")
	}
	return s.State, nil
}

func runPath(op, tool, experiment, kind string) string {
	return fmt.Sprintf("/api/%s/%s/%s/%s", op, url.PathEscape(tool), url.PathEscape(experiment), url.PathEscape(kind))
}

func (c *Client) do(ctx context.Context, method, path, bodyType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, body)
	if err != nil {
		return nil, errors.Annotate(err, "HTTP request failed")
	}
	if bodyType != "" {
		req.Header.Set("Content-Type", bodyType)
	}
	c.logger.Debug("HTTP request", zap.String("method", method), zap.String("path", path))
	resp, err := c.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer resp.Body.Close()

	res, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Annotatef(err, "read %s response failed", method)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Annotatef(&StatusError{Code: resp.StatusCode, Body: string(res)}, "%s request \"%s\"", method, path)
	}
	return res, nil
}
