package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/playpenhq/playpen/utils"
)

// Client is a read-only registry consumer, used by the factory's idle
// manager to learn current occupancy.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient creates a Client against the given registry base URL.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: utils.HTTPTimeout},
	}
}

type listResponse struct {
	Servers []*ServerRecord `json:"servers"`
	Count   int             `json:"count"`
}

// List fetches all live servers, retrying transient failures.
func (c *Client) List(ctx context.Context) ([]*ServerRecord, error) {
	return utils.DoWithRetry(ctx, func() ([]*ServerRecord, error) {
		body, err := utils.DoAPI(ctx, c.hc, http.MethodGet, c.base+"/servers", nil, http.StatusOK)
		if err != nil {
			return nil, err
		}
		var resp listResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode server list: %w", err)
		}
		return resp.Servers, nil
	})
}

// Get fetches a single server by ID. Returns ErrNotFound for 404.
func (c *Client) Get(ctx context.Context, serverID string) (*ServerRecord, error) {
	body, err := utils.DoAPI(ctx, c.hc, http.MethodGet, c.base+"/servers/"+serverID, nil, http.StatusOK)
	if err != nil {
		var ae *utils.APIError
		if errors.As(err, &ae) && ae.Code == http.StatusNotFound {
			return nil, fmt.Errorf("server %s: %w", utils.ShortID(serverID), ErrNotFound)
		}
		return nil, err
	}
	var rec ServerRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode server record: %w", err)
	}
	return &rec, nil
}
