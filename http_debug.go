package client

import (
	"net/http"
	"net/http/httputil"
	"os"

	"github.com/rs/zerolog/log"
)

// debugTransport logs full request and response dumps, bodies included.
// Enable with SOLACE_DEBUG=true or DEBUG=true; never in production.
type debugTransport struct{ base http.RoundTripper }

func (dt *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := dt.base
	if base == nil {
		base = http.DefaultTransport
	}
	// Upgrade bodies are live streams and must not be drained.
	body := req.Header.Get("Upgrade") == ""
	if reqDump, err := httputil.DumpRequestOut(req, body); err == nil {
		log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Str("request_dump", string(reqDump)).Msg("HTTP request")
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		log.Error().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("HTTP request failed")
		return nil, err
	}

	if respDump, err := httputil.DumpResponse(resp, body); err == nil {
		log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Int("status_code", resp.StatusCode).Str("response_dump", string(respDump)).Msg("HTTP response")
	}
	return resp, nil
}

// debugLoggingRequested reports whether SOLACE_DEBUG or DEBUG is "true".
func debugLoggingRequested() bool {
	return os.Getenv("SOLACE_DEBUG") == "true" || os.Getenv("DEBUG") == "true"
}
