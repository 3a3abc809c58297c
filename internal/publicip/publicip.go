// Package publicip probes the collector's own public IPv4 and IPv6
// addresses, the self-exclusion input the swarm enumerator needs to avoid
// recording itself as a peer. Grounded on the teacher's
// pkg/dcp/utils.GetPublicIP, but switched from a generic multi-service
// fallback chain to the spec's named ipify endpoints and dual-stack split.
package publicip

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	v4Endpoint = "https://api.ipify.org?format=json"
	v6Endpoint = "https://api6.ipify.org?format=json"
)

type ipifyResponse struct {
	IP string `json:"ip"`
}

// Client probes public addresses over HTTP with a bounded timeout.
type Client struct {
	HTTP *http.Client
}

// New returns a Client with the teacher's usual 5-second timeout budget.
func New() *Client {
	return &Client{HTTP: &http.Client{Timeout: 5 * time.Second}}
}

// V4 fetches the collector's public IPv4 address via api.ipify.org.
func (c *Client) V4() (net.IP, error) {
	return c.fetch(v4Endpoint)
}

// V6 fetches the collector's public IPv6 address via api6.ipify.org. It
// returns an error (not a zero IP) when the host has no IPv6 route, so
// callers can distinguish "no v6 connectivity" from "parse failure".
func (c *Client) V6() (net.IP, error) {
	return c.fetch(v6Endpoint)
}

func (c *Client) fetch(url string) (net.IP, error) {
	resp, err := c.HTTP.Get(url)
	if err != nil {
		return nil, fmt.Errorf("public IP request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("public IP request to %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("reading public IP response from %s: %w", url, err)
	}

	var parsed ipifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing public IP response from %s: %w", url, err)
	}

	ip := net.ParseIP(parsed.IP)
	if ip == nil {
		return nil, fmt.Errorf("public IP response from %s was not a valid address: %q", url, parsed.IP)
	}
	return ip, nil
}
