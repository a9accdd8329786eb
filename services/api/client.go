// Package api wraps the UniHub REST backend: a single configured request
// pipeline plus thin per-resource wrappers.
package api

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

	"github.com/pkg/errors"

	"github.com/unihub/unihub/core"
	logsvc "github.com/unihub/unihub/services/logger"
)

const maxBodySize = 1 << 20

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token() string
}

type Client struct {
	baseURL string
	origin  string
	http    *http.Client
	tokens  TokenSource
	logger  core.Logger
}

// NewClient returns the request pipeline configured from conf. A nil logger
// discards the failure logs.
func NewClient(conf *core.Config, tokens TokenSource, logger core.Logger) *Client {
	if logger == nil {
		logger = logsvc.NewNopLogger()
	}
	timeout := conf.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(conf.APIBaseURL, "/"),
		origin:  conf.APIOrigin(),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  logger,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) put(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) del(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

// do sends one request. out may be nil, a *string (receives the raw text
// body) or anything encoding/json can decode into.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.networkError(path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return c.networkError(path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := decodeError(resp.StatusCode, data)
		apiErr.Path = path
		apiErr.protected = !isPublic(path)
		c.logFailure(method, apiErr)
		return apiErr
	}

	return decodeBody(data, out)
}

func (c *Client) networkError(path string, err error) *Error {
	msg := msgNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		msg = msgTimeout
	}
	c.logger.Warn(msg, errors.Wrap(err, path))
	return &Error{Kind: KindNetwork, Message: msg, Path: path, protected: !isPublic(path)}
}

func (c *Client) logFailure(method string, apiErr *Error) {
	switch apiErr.Kind {
	case KindForbidden:
		c.logger.Warn(fmt.Sprintf("access denied: %s %s: %s", method, apiErr.Path, apiErr.Message))
	case KindRateLimited:
		c.logger.Warn(fmt.Sprintf("rate limit exceeded: %s %s", method, apiErr.Path))
	case KindServer:
		c.logger.Error(fmt.Sprintf("server error: %s %s", method, apiErr.Path), apiErr)
	default:
		c.logger.Debug(fmt.Sprintf("%s %s: %d %s", method, apiErr.Path, apiErr.Status, apiErr.Message))
	}
}

func decodeBody(data []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	if s, ok := out.(*string); ok {
		*s = plainText(data)
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "decoding response")
}

// plainText returns the body as text; a JSON string or {"message": ...}
// object is unwrapped.
func plainText(data []byte) string {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		return str
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err == nil {
		if msg, ok := obj["message"].(string); ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

func decodeError(status int, data []byte) *Error {
	apiErr := &Error{Kind: kindOf(status), Status: status}

	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err == nil {
		switch msg := obj["message"].(type) {
		case string:
			apiErr.Message = msg
		case map[string]interface{}:
			apiErr.Fields = stringFields(msg)
		}
		if apiErr.Message == "" {
			if msg, ok := obj["error"].(string); ok {
				apiErr.Message = msg
			}
		}
		if apiErr.Message == "" && apiErr.Fields == nil {
			apiErr.Fields = stringFields(obj)
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	switch apiErr.Kind {
	case KindRateLimited:
		apiErr.Message = msgRateLimited
	case KindServer:
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
	}
	return apiErr
}

func stringFields(obj map[string]interface{}) map[string]string {
	var flds map[string]string
	for key, val := range obj {
		if msg, ok := val.(string); ok {
			if flds == nil {
				flds = make(map[string]string, len(obj))
			}
			flds[key] = msg
		}
	}
	return flds
}
