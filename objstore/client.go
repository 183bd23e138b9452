package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/hexflow/datagate/pkg/robusthttp"
)

// Client talks to the object store over HTTP. Datasets live under
// `datasets/<id>.json`, access logs under `logs/<id>/<timestamp>.json`.
type Client struct {
	Host string

	// HTTP client to use. Defaults to a retrying robusthttp client.
	C *http.Client

	// Limiter applies to dataset fetches (not log uploads), keeping refresh
	// storms from hammering the store.
	Limiter *rate.Limiter
}

var _ Store = (*Client)(nil)

func NewClient(host string) *Client {
	logger := slog.Default().With("system", "objstore")
	return &Client{
		Host:    strings.TrimSuffix(host, "/"),
		C:       robusthttp.NewClient(robusthttp.WithLogger(logger)),
		Limiter: rate.NewLimiter(rate.Limit(50), 10),
	}
}

func (c *Client) datasetURL(datasetID string) string {
	return c.Host + "/datasets/" + url.PathEscape(datasetID) + ".json"
}

func (c *Client) logURL(datasetID, tsKey string) string {
	return c.Host + "/logs/" + url.PathEscape(datasetID) + "/" + url.PathEscape(tsKey) + ".json"
}

func (c *Client) Fetch(ctx context.Context, datasetID string) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.datasetURL(datasetID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.C.Do(req)
	if err != nil {
		return nil, fmt.Errorf("object store fetch failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, datasetID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("object store returned status %d for dataset %s", resp.StatusCode, datasetID)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading dataset body: %w", err)
	}
	return b, nil
}

func (c *Client) PutLog(ctx context.Context, datasetID, tsKey string, entry []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.logURL(datasetID, tsKey), bytes.NewReader(entry))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.C.Do(req)
	if err != nil {
		return fmt.Errorf("log upload failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("log upload returned status %d", resp.StatusCode)
	}
	return nil
}
