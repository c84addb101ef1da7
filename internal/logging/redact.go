package logging

import (
	"encoding/json"
	"strings"
)

// sensitiveKeys covers both generic credential field names and the
// mechos-specific ones that show up in logged payloads: the LLM endpoint's
// API key (llmclient request options), and the broker/cache credentials
// swarmbridge and redisrelay authenticate with.
var sensitiveKeys = []string{
	"api_key", "apikey", "apiKey", "x-api-key", "authorization", "auth", "token", "access_token", "refresh_token", "password", "secret", "bearer",
	"llm_api_key", "kafka_sasl_password", "redis_password", "override_token",
}

// RedactJSON takes a JSON payload — typically a logged intent, LLM request,
// or LLM response body — and redacts sensitive values based on known key
// names, leaving everything else (positions, headings, intent kinds)
// intact for debugging.
func RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	redacted := redactValue(v)
	b, err := json.Marshal(redacted)
	if err != nil {
		return raw
	}
	return b
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, vv := range val {
			if isSensitiveKey(k) {
				val[k] = "[REDACTED]"
			} else {
				val[k] = redactValue(vv)
			}
		}
		return val
	case []any:
		for i := range val {
			val[i] = redactValue(val[i])
		}
		return val
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	low := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if low == s {
			return true
		}
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}
