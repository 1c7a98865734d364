package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiClient talks to a routerd instance.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(strings.TrimSpace(base), "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type domainView struct {
	Name              string `json:"name"`
	ChainID           uint64 `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

type nonceView struct {
	Domain  domainView `json:"domain"`
	Kind    string     `json:"kind"`
	Owner   string     `json:"owner"`
	Spender string     `json:"spender"`
	Nonce   uint64     `json:"nonce"`
}

type apiError struct {
	Error struct {
		Kind    string `json:"kind"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"error"`
	OperationID string `json:"operationId"`
}

func (c *apiClient) permitNonce(ctx context.Context, market, domain, owner string) (*nonceView, error) {
	var out nonceView
	path := fmt.Sprintf("/v1/permits/%s/%s/%s", url.PathEscape(market), url.PathEscape(domain), url.PathEscape(owner))
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) position(ctx context.Context, market, borrower string) (map[string]string, error) {
	out := map[string]string{}
	path := fmt.Sprintf("/v1/positions/%s/%s", url.PathEscape(market), url.PathEscape(borrower))
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var failure apiError
		if json.Unmarshal(body, &failure) == nil && failure.Error.Message != "" {
			return fmt.Errorf("%s: %s (%s %s, operation %s)", path, failure.Error.Message, failure.Error.Kind, failure.Error.Reason, failure.OperationID)
		}
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	return json.Unmarshal(body, out)
}
