// Command healthcheck probes the clipt-server liveness endpoint and exits
// non-zero when the server is unhealthy. Intended as a container health probe,
// so it honors the same HTTP_ADDR the server binds to.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// healthURL builds the probe URL from the server's bind address. A bare
// ":port" bind is probed via localhost.
func healthURL(addr string) string {
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/healthz"
}

func main() {
	client := &http.Client{Timeout: 3 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(os.Getenv("HTTP_ADDR")), nil)
	if err != nil {
		os.Exit(1)
	}
	resp, err := client.Do(req)
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
