// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnauthorized = errors.New("qBittorrent session is not authorized")
	ErrBanned       = errors.New("qBittorrent rejected login: too many failed attempts")
)

var (
	stopStartMinVersion = semver.MustParse("2.11.0")
	setTagsMinVersion   = semver.MustParse("2.11.4")
)

const (
	defaultTimeout      = 30 * time.Second
	mutateRetryAttempts = 2
	mutateRetryDelay    = 500 * time.Millisecond
)

type Config struct {
	BaseURL       string
	Username      string
	Password      string
	TLSSkipVerify bool
	Timeout       time.Duration
	UserAgent     string
}

// Client is a minimal qBittorrent WebAPI client covering authentication, the
// /sync/maindata delta protocol, bulk torrent mutations and category lookup.
type Client struct {
	cfg  Config
	http *http.Client

	mu                sync.RWMutex
	webAPIVersion     string
	supportsStopStart bool
	supportsSetTags   bool
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cookie jar")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Jar:       jar,
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}, nil
}

func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Login establishes a cookie session. Credential rejections map to
// ErrUnauthorized so callers can distinguish them from transport failures.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "login request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return errors.Wrap(err, "failed to read login response")
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return ErrBanned
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("login returned status %d", resp.StatusCode)
	case !strings.EqualFold(strings.TrimSpace(string(body)), "Ok."):
		return ErrUnauthorized
	}

	if err := c.refreshCapabilities(ctx); err != nil {
		log.Warn().Err(err).Str("host", c.cfg.BaseURL).Msg("Failed to refresh qBittorrent capabilities after login")
	}

	log.Debug().
		Str("host", c.cfg.BaseURL).
		Str("webAPIVersion", c.WebAPIVersion()).
		Msg("Authenticated against qBittorrent")

	return nil
}

// refreshCapabilities fetches the WebAPI version and recalculates feature
// support flags.
func (c *Client) refreshCapabilities(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v2/app/webapiVersion", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "webapiVersion request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webapiVersion returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return errors.Wrap(err, "failed to read webapiVersion response")
	}

	version := strings.TrimSpace(string(raw))
	if version == "" {
		return errors.New("web API version is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warn().
			Str("webAPIVersion", version).
			Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; leaving capability flags unchanged")
		return nil
	}

	c.supportsStopStart = !v.LessThan(stopStartMinVersion)
	c.supportsSetTags = !v.LessThan(setTagsMinVersion)
	return nil
}

func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) SupportsSetTags() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsSetTags
}

// MainData fetches one delta envelope. Pass hasRid=false on the first poll of
// a session so the server answers with a full snapshot.
func (c *Client) MainData(ctx context.Context, rid int64, hasRid bool) (*MainData, error) {
	path := "/api/v2/sync/maindata"
	if hasRid {
		path += "?rid=" + strconv.FormatInt(rid, 10)
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "maindata request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("maindata returned status %d", resp.StatusCode)
	}

	var data MainData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, errors.Wrap(err, "failed to decode maindata response")
	}

	return &data, nil
}

// Categories fetches the category map. This is independent of the delta
// protocol and polled on a longer period by the session.
func (c *Client) Categories(ctx context.Context) (map[string]Category, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v2/torrents/categories", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "categories request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("categories returned status %d", resp.StatusCode)
	}

	categories := make(map[string]Category)
	if err := json.NewDecoder(resp.Body).Decode(&categories); err != nil {
		return nil, errors.Wrap(err, "failed to decode categories response")
	}

	return categories, nil
}

// Pause stops the given torrents. qBittorrent 5 (WebAPI >= 2.11) renamed the
// endpoint from pause to stop.
func (c *Client) Pause(ctx context.Context, hashes []string) error {
	endpoint := "/api/v2/torrents/pause"
	if c.stopStart() {
		endpoint = "/api/v2/torrents/stop"
	}
	return c.mutate(ctx, endpoint, url.Values{"hashes": {joinHashes(hashes)}})
}

// Resume starts the given torrents (start on WebAPI >= 2.11).
func (c *Client) Resume(ctx context.Context, hashes []string) error {
	endpoint := "/api/v2/torrents/resume"
	if c.stopStart() {
		endpoint = "/api/v2/torrents/start"
	}
	return c.mutate(ctx, endpoint, url.Values{"hashes": {joinHashes(hashes)}})
}

func (c *Client) Recheck(ctx context.Context, hashes []string) error {
	return c.mutate(ctx, "/api/v2/torrents/recheck", url.Values{"hashes": {joinHashes(hashes)}})
}

func (c *Client) Delete(ctx context.Context, hashes []string, deleteFiles bool) error {
	return c.mutate(ctx, "/api/v2/torrents/delete", url.Values{
		"hashes":      {joinHashes(hashes)},
		"deleteFiles": {strconv.FormatBool(deleteFiles)},
	})
}

func (c *Client) SetCategory(ctx context.Context, hashes []string, category string) error {
	return c.mutate(ctx, "/api/v2/torrents/setCategory", url.Values{
		"hashes":   {joinHashes(hashes)},
		"category": {category},
	})
}

func (c *Client) stopStart() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsStopStart
}

// mutate fires a state-changing call. Mutations never touch the local mirror;
// their effect is observed through the next delta. Transient network failures
// get one retry, auth rejections do not.
func (c *Client) mutate(ctx context.Context, path string, form url.Values) error {
	return retry.Do(
		func() error {
			req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			resp, err := c.http.Do(req)
			if err != nil {
				return errors.Wrapf(err, "%s request failed", path)
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

			switch resp.StatusCode {
			case http.StatusOK:
				return nil
			case http.StatusForbidden, http.StatusUnauthorized:
				return ErrUnauthorized
			default:
				return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
			}
		},
		retry.Attempts(mutateRetryAttempts),
		retry.Delay(mutateRetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	)
}

func isTransient(err error) bool {
	if err == nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	// qBittorrent enforces same-origin unless the Referer matches
	req.Header.Set("Referer", c.cfg.BaseURL)
	return req, nil
}

func joinHashes(hashes []string) string {
	return strings.Join(hashes, "|")
}
