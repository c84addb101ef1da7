package logging

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactJSONSimpleAndNested(t *testing.T) {
	in := map[string]any{
		"api_key": "secret123",
		"user": map[string]any{
			"name":     "alice",
			"password": "hunter2",
		},
		"items": []any{
			map[string]any{"token": "tok"},
			"plain",
		},
		"note": "keepme",
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	out := RedactJSON(b)
	var v any
	require.NoError(t, json.Unmarshal(out, &v))

	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", m["api_key"])

	user := m["user"].(map[string]any)
	assert.Equal(t, "[REDACTED]", user["password"])

	items := m["items"].([]any)
	first := items[0].(map[string]any)
	assert.Equal(t, "[REDACTED]", first["token"])

	assert.Equal(t, "keepme", m["note"])
}

func TestRedactJSONMechosCredentialFields(t *testing.T) {
	in := map[string]any{
		"llm_api_key":         "sk-live-abc",
		"kafka_sasl_password": "brokerpw",
		"redis_password":      "cachepw",
		"override_token":      "dash-session-xyz",
		"intent_kind":         "move",
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	out := RedactJSON(b)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))

	assert.Equal(t, "[REDACTED]", m["llm_api_key"])
	assert.Equal(t, "[REDACTED]", m["kafka_sasl_password"])
	assert.Equal(t, "[REDACTED]", m["redis_password"])
	assert.Equal(t, "[REDACTED]", m["override_token"])
	assert.Equal(t, "move", m["intent_kind"])
}

func TestRedactJSONEmptyAndInvalid(t *testing.T) {
	empty := json.RawMessage(nil)
	assert.Nil(t, RedactJSON(empty))

	raw := json.RawMessage([]byte("notjson"))
	assert.Equal(t, "notjson", string(RedactJSON(raw)))
}
