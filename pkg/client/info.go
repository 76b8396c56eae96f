package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// RemoteFile is one entry of a peer's /info listing.
type RemoteFile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ListFiles fetches the peer's shared file list.
func (c *Client) ListFiles(ctx context.Context, baseURL, token string) ([]RemoteFile, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/info", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set(headerShareToken, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, UnexpectedStatusError{Status: resp.StatusCode}
	}

	var files []RemoteFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode file list: %w", err)
	}
	return files, nil
}

// Authenticate submits the share password and returns a session token.
func (c *Client) Authenticate(ctx context.Context, baseURL, password string) (string, error) {
	form := url.Values{"password": {password}}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return "", ErrUnauthorized
	default:
		return "", UnexpectedStatusError{Status: resp.StatusCode}
	}

	var reply struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("failed to decode auth reply: %w", err)
	}
	if !reply.Success {
		return "", ErrUnauthorized
	}
	return reply.Token, nil
}
