// SPDX-License-Identifier: MIT

// Package rest is the bridge's HTTPS request path: light control when streaming
// is unavailable, entertainment configuration lookup and start/stop, discovery
// and pairing.
package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"beatlight/internal/bridge"
	"beatlight/internal/config"
	applog "beatlight/internal/log"
)

const (
	// DiscoveryURL is the cloud endpoint listing bridges on the caller's network.
	DiscoveryURL = "https://discovery.meethue.com"

	// linkButtonError is the bridge's error type for an unpressed link button.
	linkButtonError = 101

	defaultTimeout = 5 * time.Second
	appKeyHeader   = "hue-application-key"
)

// ErrLinkButtonNotPressed is returned by Register until the bridge's button is pressed.
var ErrLinkButtonNotPressed = errors.New("link button not pressed")

var logger = applog.New("REST")

type settings struct {
	httpClient *http.Client
	baseURL    string
}

// Option adjusts a Client or a Discover call.
type Option func(*settings)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithBaseURL replaces the scheme and host requests are sent to.
func WithBaseURL(u string) Option {
	return func(s *settings) { s.baseURL = strings.TrimRight(u, "/") }
}

// NewHTTPClient returns a client that accepts the bridge's self-signed certificate.
func NewHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Bridges serve a certificate signed by the vendor's private root.
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &http.Client{Transport: transport, Timeout: defaultTimeout}
}

func apply(base string, opts []Option) settings {
	s := settings{baseURL: base}
	for _, opt := range opts {
		opt(&s)
	}
	if s.httpClient == nil {
		s.httpClient = NewHTTPClient()
	}
	return s
}

// Client talks CLIP v2 to one bridge.
type Client struct {
	http   *http.Client
	base   string
	appKey string
}

var _ bridge.LightController = (*Client)(nil)

// New returns a client for the bridge at address authenticated with appKey.
func New(address, appKey string, opts ...Option) *Client {
	s := apply("https://"+address, opts)
	return &Client{http: s.httpClient, base: s.baseURL, appKey: appKey}
}

// Lights lists every light service across the bridge's devices.
func (c *Client) Lights(ctx context.Context) ([]bridge.Light, error) {
	var env envelope[device]
	if err := c.do(ctx, http.MethodGet, "/clip/v2/resource/device", nil, &env); err != nil {
		return nil, fmt.Errorf("list lights: %w", err)
	}

	var lights []bridge.Light
	for _, d := range env.Data {
		for _, svc := range d.Services {
			if svc.RType == "light" {
				lights = append(lights, bridge.Light{ID: svc.RID, Name: d.Metadata.Name})
			}
		}
	}
	return lights, nil
}

// SetLightState applies one command to a light. An off state sends only the
// power change.
func (c *Client) SetLightState(ctx context.Context, lightID string, state bridge.LightState) error {
	body := lightUpdate{On: &onState{On: state.On}}
	if state.On {
		body.Dimming = &dimming{Brightness: float64(state.Brightness)}
		body.Color = &colorXY{XY: xy{X: state.XY[0], Y: state.XY[1]}}
		body.Dynamics = &dynamics{Duration: state.Transition.Milliseconds()}
	}

	path := "/clip/v2/resource/light/" + url.PathEscape(lightID)
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("set light %s: %w", lightID, err)
	}
	return nil
}

// Groups lists the entertainment configurations.
func (c *Client) Groups(ctx context.Context) ([]bridge.Group, error) {
	var env envelope[entertainmentConfiguration]
	if err := c.do(ctx, http.MethodGet, "/clip/v2/resource/entertainment_configuration", nil, &env); err != nil {
		return nil, fmt.Errorf("list entertainment configurations: %w", err)
	}
	groups := make([]bridge.Group, 0, len(env.Data))
	for _, ec := range env.Data {
		groups = append(groups, toGroup(ec))
	}
	return groups, nil
}

// Group fetches one entertainment configuration.
func (c *Client) Group(ctx context.Context, id string) (bridge.Group, error) {
	var env envelope[entertainmentConfiguration]
	path := "/clip/v2/resource/entertainment_configuration/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return bridge.Group{}, fmt.Errorf("get entertainment configuration %s: %w", id, err)
	}
	if len(env.Data) == 0 {
		return bridge.Group{}, fmt.Errorf("entertainment configuration %s not found: %w", id, bridge.ErrConfigInvalid)
	}
	return toGroup(env.Data[0]), nil
}

// StartEntertainment activates a configuration so the bridge accepts frames for it.
func (c *Client) StartEntertainment(ctx context.Context, id string) error {
	return c.entertainmentAction(ctx, id, "start")
}

// StopEntertainment releases a configuration.
func (c *Client) StopEntertainment(ctx context.Context, id string) error {
	return c.entertainmentAction(ctx, id, "stop")
}

func (c *Client) entertainmentAction(ctx context.Context, id, action string) error {
	path := "/clip/v2/resource/entertainment_configuration/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPut, path, entertainmentAction{Action: action}, nil); err != nil {
		return fmt.Errorf("%s entertainment configuration %s: %w", action, id, err)
	}
	logger.Infof("Entertainment configuration %s: %s", id, action)
	return nil
}

func toGroup(ec entertainmentConfiguration) bridge.Group {
	g := bridge.Group{ID: ec.ID, Name: ec.Metadata.Name, Status: ec.Status}
	for _, ch := range ec.Channels {
		g.Channels = append(g.Channels, ch.ChannelID)
	}
	return g
}

// Register pairs with the bridge. It fails with ErrLinkButtonNotPressed until the
// button on the bridge has been pressed.
func (c *Client) Register(ctx context.Context, deviceType string) (config.Credentials, error) {
	var results []registerResult
	req := registerRequest{DeviceType: deviceType, GenerateClientKey: true}
	if err := c.do(ctx, http.MethodPost, "/api", req, &results); err != nil {
		return config.Credentials{}, fmt.Errorf("register: %w", err)
	}

	for _, r := range results {
		switch {
		case r.Success != nil:
			return config.Credentials{
				ApplicationKey: r.Success.Username,
				SharedSecret:   r.Success.ClientKey,
			}, nil
		case r.Error != nil && r.Error.Type == linkButtonError:
			return config.Credentials{}, ErrLinkButtonNotPressed
		case r.Error != nil:
			return config.Credentials{}, fmt.Errorf("register: %s", r.Error.Description)
		}
	}
	return config.Credentials{}, errors.New("register: empty response from bridge")
}

// Discover asks the discovery service for bridges on the local network.
func Discover(ctx context.Context, opts ...Option) ([]bridge.Info, error) {
	s := apply(DiscoveryURL, opts)
	c := &Client{http: s.httpClient, base: s.baseURL}

	var found []bridge.Info
	if err := c.do(ctx, http.MethodGet, "/", nil, &found); err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	return found, nil
}

// do sends one request and decodes a JSON response into out when it is non-nil.
// Status codes map onto the bridge error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.appKey != "" {
		req.Header.Set(appKeyHeader, c.appKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, bridge.ErrTransportSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(method, path, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w: %w", path, bridge.ErrTransportSendFailed, err)
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	detail := resp.Status
	var env envelope[json.RawMessage]
	if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env) == nil && len(env.Errors) > 0 {
		detail = fmt.Sprintf("%s: %s", resp.Status, env.Errors[0].Description)
	}

	var kind error
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		kind = bridge.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = bridge.ErrConfigInvalid
	default:
		kind = bridge.ErrTransportSendFailed
	}
	return fmt.Errorf("%s %s (%s): %w", method, path, detail, kind)
}
