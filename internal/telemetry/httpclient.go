package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TracedHTTPClient returns an http.Client whose transport emits OTel spans
// for every outbound request. It is used by the LLM client so that its
// calls show up in the same trace as the OODA tick that triggered them.
func TracedHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = otelhttp.NewTransport(rt)
	return base
}
