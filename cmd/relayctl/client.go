package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/gasless-relay/internal/domain"
)

// errNotFound is returned by resolve for unknown hashes.
var errNotFound = errors.New("content not found")

// apiError is a non-2xx response from the relay server.
type apiError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Code)
}

// relayClient talks to the relay server's HTTP API.
type relayClient struct {
	base   string
	wallet string
	http   *http.Client
}

func newRelayClient(base, wallet string) *relayClient {
	return &relayClient{
		base:   strings.TrimRight(base, "/"),
		wallet: wallet,
		http:   &http.Client{Timeout: 3 * time.Minute},
	}
}

func (c *relayClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.wallet != "" {
		req.Header.Set("X-Wallet-Address", c.wallet)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// commit stores body on the server and returns its hash.
func (c *relayClient) commit(ctx context.Context, body string) (string, error) {
	var out struct {
		Hash string `json:"hash"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/content", map[string]string{"body": body}, &out); err != nil {
		return "", err
	}
	return out.Hash, nil
}

// resolve fetches a committed body.
func (c *relayClient) resolve(ctx context.Context, hash string) (string, error) {
	var out struct {
		Body string `json:"body"`
	}
	err := c.do(ctx, http.MethodGet, "/api/content/"+hash, nil, &out)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return "", errNotFound
	}
	if err != nil {
		return "", err
	}
	return out.Body, nil
}

type relayReply struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash"`
	Message         string `json:"message"`
}

// relay submits a signed request.
func (c *relayClient) relay(ctx context.Context, req *domain.RelayRequest) (*relayReply, error) {
	var out relayReply
	if err := c.do(ctx, http.MethodPost, "/api/relay/comment", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
