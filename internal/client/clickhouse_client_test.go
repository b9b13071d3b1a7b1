package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractHostPort(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"clickhouse.internal", "clickhouse.internal:9000"},
		{"tcp://clickhouse.internal:9001", "clickhouse.internal:9001"},
		{"https://ch.example.com", "ch.example.com:9440"},
		{"clickhouses://ch.example.com/", "ch.example.com:9440"},
		{"http://localhost:9000", "localhost:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, extractHostPort(tt.url))
		})
	}
	assert.Equal(t, "ch.example.com", extractHostname("https://ch.example.com"))
}
