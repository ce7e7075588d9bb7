// Package main provides a minimal HTTP healthcheck binary for the isos-server
// container. It GETs the readiness endpoint and exits with code 0 on a 2xx
// response or code 1 otherwise.
// Usage: healthcheck [url]   (default http://localhost:8080/readyz)
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://localhost:8080/readyz"

func main() {
	os.Exit(check(target(os.Args[1:])))
}

func target(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if u := os.Getenv("ISOS_HEALTHCHECK_URL"); u != "" {
		return u
	}
	return defaultURL
}

func check(url string) int {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return 0
	}

	fmt.Fprintf(os.Stderr, "healthcheck failed: status %d\n", resp.StatusCode)
	return 1
}
