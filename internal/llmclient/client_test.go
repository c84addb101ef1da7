package llmclient

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBuildsClientWithoutPanicking(t *testing.T) {
	c := New("", "test-key", "gpt-4o-mini", nil)
	assert.NotNil(t, c)
	assert.Equal(t, "gpt-4o-mini", c.model)
}

func TestNewWithCustomEndpointAndHTTPClient(t *testing.T) {
	c := New("http://localhost:11434/v1", "test-key", "llama3", &http.Client{})
	assert.NotNil(t, c)
}
