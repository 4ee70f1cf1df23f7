package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

const publicIPService = "https://api.ipify.org"

// detectPublicIP asks an external service for our public address so the
// host can share it alongside the code. Best effort and display only:
// nothing in the protocol trusts this value.
func detectPublicIP(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicIPService, nil)
	if err != nil {
		return localFallbackIP()
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return localFallbackIP()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return localFallbackIP()
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return localFallbackIP()
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return localFallbackIP()
	}
	return ip
}

// localFallbackIP resolves the hostname locally; this may well be a
// private address, but it is better than nothing when offline.
func localFallbackIP() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	addrs, err := net.LookupIP(hostname)
	if err != nil || len(addrs) == 0 {
		return "unknown"
	}
	return addrs[0].String()
}
