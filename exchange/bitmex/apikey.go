package bitmex

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/xyths/cryptoexchange/exchange"
)

// APIKey is a key of the authenticated account. Secret is only set on the
// response to CreateKey.
type APIKey struct {
	ID          string          `json:"id"`
	Secret      string          `json:"secret,omitempty"`
	Name        string          `json:"name"`
	Nonce       int64           `json:"nonce"`
	CIDR        string          `json:"cidr"`
	Permissions json.RawMessage `json:"permissions"`
	Enabled     bool            `json:"enabled"`
	UserID      int64           `json:"userId"`
	Created     time.Time       `json:"created"`
}

type keyRef struct {
	APIKeyID string `json:"apiKeyID"`
}

func (c *Client) ListKeys(ctx context.Context) ([]APIKey, error) {
	raw, err := c.Execute(ctx, &exchange.Request{Verb: exchange.GET, Path: pathAPIKey})
	if err != nil {
		return nil, err
	}
	var keys []APIKey
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, errors.Wrap(err, "decode api keys")
	}
	return keys, nil
}

// CreateKey creates an enabled key. An empty cidr allows any address.
func (c *Client) CreateKey(ctx context.Context, name, cidr string) (*APIKey, error) {
	body := struct {
		Name    string `json:"name"`
		CIDR    string `json:"cidr,omitempty"`
		Enabled bool   `json:"enabled"`
	}{Name: name, CIDR: cidr, Enabled: true}
	raw, err := c.Execute(ctx, &exchange.Request{Verb: exchange.POST, Path: pathAPIKey, Body: body})
	if err != nil {
		return nil, err
	}
	return decodeKey(raw)
}

func (c *Client) EnableKey(ctx context.Context, id string) (*APIKey, error) {
	return c.keyAction(ctx, pathAPIKeyEnable, id)
}

func (c *Client) DisableKey(ctx context.Context, id string) (*APIKey, error) {
	return c.keyAction(ctx, pathAPIKeyDisable, id)
}

// DeleteKey reports false when the key did not exist.
func (c *Client) DeleteKey(ctx context.Context, id string) (bool, error) {
	raw, err := c.Execute(ctx, &exchange.Request{Verb: exchange.DELETE, Path: pathAPIKey, Body: keyRef{APIKeyID: id}})
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

func (c *Client) keyAction(ctx context.Context, path, id string) (*APIKey, error) {
	raw, err := c.Execute(ctx, &exchange.Request{Verb: exchange.POST, Path: path, Body: keyRef{APIKeyID: id}})
	if err != nil {
		return nil, err
	}
	return decodeKey(raw)
}

func decodeKey(raw json.RawMessage) (*APIKey, error) {
	var k APIKey
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, errors.Wrap(err, "decode api key")
	}
	return &k, nil
}
