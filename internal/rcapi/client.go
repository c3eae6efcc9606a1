// Package rcapi is the client for the colonization tracking service. All
// outbound traffic from the bridge goes through here: project lookups, supply
// snapshots, contribution attribution and fleet carrier cargo updates.
package rcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"colonybridge/internal/metrics"
	"colonybridge/internal/model"
)

// ErrNotFound is returned when the service has no record for the requested
// location or commander. It is an expected condition, not a failure.
var ErrNotFound = errors.New("not found")

// carrierAttempts is the total attempt budget for carrier cargo calls.
// Only timeout-class failures are retried; anything else fails immediately.
const carrierAttempts = 3

type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	ua      string

	// retryDelay between carrier call attempts; shortened in tests.
	retryDelay time.Duration

	mu   sync.RWMutex
	cmdr string
	key  string
}

func New(base, userAgent string, timeout time.Duration, perSec float64, log *zap.Logger) *Client {
	if perSec <= 0 {
		perSec = 4
	}
	return &Client{
		base:       base,
		http:       &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSec), 1),
		log:        log.Named("rcapi"),
		ua:         userAgent,
		retryDelay: time.Second,
	}
}

// SetCredentials records the commander identity and API key used on carrier
// cargo calls. Safe to call from any goroutine.
func (c *Client) SetCredentials(cmdr, key string) {
	c.mu.Lock()
	c.cmdr = cmdr
	c.key = key
	c.mu.Unlock()
	c.log.Debug("credentials set", zap.String("cmdr", cmdr), zap.Bool("key", key != ""))
}

// GetProject looks up the project at a system/market pair. ErrNotFound when
// no project exists there yet.
func (c *Client) GetProject(ctx context.Context, systemAddress, marketID int64) (*model.Project, error) {
	path := fmt.Sprintf("/api/system/%d/%d", systemAddress, marketID)
	var p model.Project
	if err := c.getJSON(ctx, "project", path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProjectSupply posts the full remaining-need snapshot for a build.
func (c *Client) UpdateProjectSupply(ctx context.Context, buildID string, upd model.SupplyUpdate) error {
	path := "/api/project/" + url.PathEscape(buildID)
	_, err := c.do(ctx, "supply", http.MethodPost, path, upd, nil)
	if err != nil {
		return err
	}
	c.log.Info("updated project supply", zap.String("buildId", buildID), zap.Int("maxNeed", upd.MaxNeed))
	return nil
}

// ContributeCargo attributes delivered commodities to a commander.
func (c *Client) ContributeCargo(ctx context.Context, buildID, cmdr string, diff map[string]int) error {
	path := "/api/project/" + url.PathEscape(buildID) + "/contribute/" + url.PathEscape(cmdr)
	_, err := c.do(ctx, "contribute", http.MethodPost, path, diff, nil)
	if err != nil {
		return err
	}
	c.log.Info("contributed cargo", zap.String("buildId", buildID), zap.Int("commodities", len(diff)))
	return nil
}

// MarkProjectComplete flags a finished build on the service.
func (c *Client) MarkProjectComplete(ctx context.Context, buildID string) error {
	path := "/api/project/" + url.PathEscape(buildID) + "/complete"
	_, err := c.do(ctx, "complete", http.MethodPost, path, nil, nil)
	if err != nil {
		return err
	}
	c.log.Info("marked project complete", zap.String("buildId", buildID))
	return nil
}

// RenameProject updates a build's display name.
func (c *Client) RenameProject(ctx context.Context, buildID, name string) error {
	path := "/api/project/" + url.PathEscape(buildID)
	_, err := c.do(ctx, "rename", http.MethodPatch, path, map[string]string{"buildName": name}, nil)
	return err
}

// ListCommanderCarriers fetches the carriers linked to a commander along with
// the server-side cargo baseline. A 404 means none are linked: empty, no error.
func (c *Client) ListCommanderCarriers(ctx context.Context, cmdr string) ([]model.Carrier, error) {
	path := "/api/cmdr/" + url.PathEscape(cmdr) + "/fc/all"
	var out []model.Carrier
	err := c.getJSON(ctx, "fc_list", path, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetCarrier fetches one carrier's server-side state.
func (c *Client) GetCarrier(ctx context.Context, marketID int64) (*model.Carrier, error) {
	var fc model.Carrier
	if err := c.getJSON(ctx, "fc_get", fmt.Sprintf("/api/fc/%d", marketID), &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// SupplyCarrier applies a signed cargo delta to a carrier and returns the
// updated cargo map. Retried on timeout only.
func (c *Client) SupplyCarrier(ctx context.Context, marketID int64, diff map[string]int) (map[string]int, error) {
	return c.carrierCargo(ctx, "fc_supply", http.MethodPatch, marketID, diff)
}

// ReplaceCarrierCargo replaces a carrier's cargo wholesale and returns the
// updated map. Retried on timeout only.
func (c *Client) ReplaceCarrierCargo(ctx context.Context, marketID int64, cargo map[string]int) (map[string]int, error) {
	return c.carrierCargo(ctx, "fc_replace", http.MethodPost, marketID, cargo)
}

func (c *Client) carrierCargo(ctx context.Context, endpoint, method string, marketID int64, payload map[string]int) (map[string]int, error) {
	path := fmt.Sprintf("/api/fc/%d/cargo", marketID)
	hdrs := c.credentialHeaders()
	var lastErr error
	for attempt := 1; attempt <= carrierAttempts; attempt++ {
		if attempt > 1 {
			c.log.Warn("retrying carrier cargo call",
				zap.String("endpoint", endpoint), zap.Int64("marketId", marketID), zap.Int("attempt", attempt))
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		body, err := c.do(ctx, endpoint, method, path, payload, hdrs)
		if err == nil {
			var cargo map[string]int
			if err := json.Unmarshal(body, &cargo); err != nil {
				return nil, fmt.Errorf("decode carrier cargo: %w", err)
			}
			return cargo, nil
		}
		if !isTimeout(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("carrier cargo update timed out after %d attempts: %w", carrierAttempts, lastErr)
}

func (c *Client) credentialHeaders() http.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := http.Header{}
	if c.cmdr != "" {
		h.Set("rcc-cmdr", c.cmdr)
	}
	if c.key != "" {
		h.Set("rcc-key", c.key)
	}
	return h
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, v any) error {
	body, err := c.do(ctx, endpoint, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// do performs one request. Rate limited, status-checked, body returned.
func (c *Client) do(ctx context.Context, endpoint, method, path string, payload any, extra http.Header) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var rd io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.ua)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

// isTimeout classifies an error as retryable. Server errors and malformed
// responses are not; only transport timeouts get another attempt.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
