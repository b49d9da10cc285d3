package fetch

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// debugLogger is the package-level zerolog logger for debug output.
var debugLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// logRequest logs the outgoing request details using zerolog.
func logRequest(logger zerolog.Logger, req *http.Request, attempt int) {
	logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("host", req.Host).
		Int("attempt", attempt).
		Msg("HTTP request")
}

// logResponse logs the response details using zerolog.
func logResponse(logger zerolog.Logger, resp *http.Response, duration time.Duration) {
	logger.Debug().
		Int("status", resp.StatusCode).
		Str("status_text", resp.Status).
		Dur("duration_ms", duration).
		Int64("content_length", resp.ContentLength).
		Msg("HTTP response")
}

var (
	deprecatedMu   sync.Mutex
	deprecatedSeen = map[string]struct{}{}
)

// warnDeprecated logs a deprecation warning once per (old, new) pair
// for the lifetime of the process.
func warnDeprecated(old, replacement string) {
	deprecatedMu.Lock()
	defer deprecatedMu.Unlock()
	if _, ok := deprecatedSeen[old]; ok {
		return
	}
	deprecatedSeen[old] = struct{}{}
	debugLogger.Warn().
		Str("option", old).
		Str("use_instead", replacement).
		Msg("deprecated option")
}

// generateCurlCommand creates a cURL command equivalent for the given
// request. The generated command can be used to reproduce the request
// from the command line. Sensitive headers like Authorization are
// included as-is.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' \
//	  -H 'Content-Type: application/json' \
//	  -d '{"name":"John"}'
func generateCurlCommand(req *http.Request, body []byte) string {
	parts := []string{"curl"}

	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}

	parts = append(parts, fmt.Sprintf("'%s'", req.URL.String()))

	headerKeys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)

	for _, k := range headerKeys {
		for _, v := range req.Header[k] {
			parts = append(parts, "-H", fmt.Sprintf("'%s: %s'", k, v))
		}
	}

	if len(body) > 0 {
		bodyStr := strings.ReplaceAll(string(body), "'", "'\\''")
		parts = append(parts, "-d", fmt.Sprintf("'%s'", bodyStr))
	}

	return strings.Join(parts, " ")
}
