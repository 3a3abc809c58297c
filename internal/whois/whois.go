// Package whois looks up the registered organization name for a peer's IP
// address against the JPNIC WHOIS service, decoding its ISO-2022-JP
// responses the way the original collector's Japanese-locale tooling
// expects. Grounded on golang.org/x/text/encoding/japanese, the pack's
// standard library for this encoding, and on the teacher's plain
// net.DialTimeout usage elsewhere in internal/torrent/tracker.go.
package whois

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

const (
	jpnicHost     = "whois.nic.ad.jp:43"
	orgMarker     = "[組織名]"
	lookupFailure = "取得失敗"
	dialTimeout   = 5 * time.Second
)

// Lookup queries JPNIC WHOIS for ip and returns the organization name
// found after the "[組織名]" marker, or lookupFailure ("取得失敗") if the
// marker is absent or the query itself fails.
func Lookup(ctx context.Context, ip net.IP) string {
	raw, err := query(ctx, ip.String())
	if err != nil {
		return lookupFailure
	}

	org := extractOrg(raw)
	if org == "" {
		return lookupFailure
	}
	return org
}

func query(ctx context.Context, target string) (string, error) {
	return queryHost(ctx, jpnicHost, target)
}

func queryHost(ctx context.Context, host, target string) (string, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", host, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(dialTimeout))
	}

	if _, err := fmt.Fprintf(conn, "%s\r\n", target); err != nil {
		return "", fmt.Errorf("writing query for %s: %w", target, err)
	}

	decoded := transform.NewReader(conn, japanese.ISO2022JP.NewDecoder())
	var sb strings.Builder
	scanner := bufio.NewScanner(decoded)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading whois response for %s: %w", target, err)
	}

	return sb.String(), nil
}

func extractOrg(raw string) string {
	idx := strings.Index(raw, orgMarker)
	if idx == -1 {
		return ""
	}
	rest := raw[idx+len(orgMarker):]
	line := rest
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		line = rest[:nl]
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "."))
}
