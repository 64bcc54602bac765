package main

import "testing"

func TestHealthURL(t *testing.T) {
	cases := []struct {
		addr string
		want string
	}{
		{"", "http://localhost:8080/healthz"},
		{":8080", "http://localhost:8080/healthz"},
		{":9000", "http://localhost:9000/healthz"},
		{"0.0.0.0:8080", "http://0.0.0.0:8080/healthz"},
		{"api.internal:8080", "http://api.internal:8080/healthz"},
	}
	for _, c := range cases {
		if got := healthURL(c.addr); got != c.want {
			t.Errorf("healthURL(%q) = %q, want %q", c.addr, got, c.want)
		}
	}
}
