package redis

import "testing"

func TestClientKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"", []string{"lock", "settlement:sweep"}, "lock:settlement:sweep"},
		{"settle", []string{"stats", "m1"}, "settle:stats:m1"},
		{"settle:", []string{"ratelimit", "encode:1.2.3.4"}, "settle:ratelimit:encode:1.2.3.4"},
		{"  ", []string{"settlement:claim_paid"}, "settlement:claim_paid"},
	}
	for _, tt := range tests {
		c := &Client{prefix: normalizePrefix(tt.prefix)}
		if got := c.Key(tt.parts...); got != tt.want {
			t.Errorf("Key(%q, %v) = %q, want %q", tt.prefix, tt.parts, got, tt.want)
		}
	}
}
