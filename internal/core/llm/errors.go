package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/markdave123-py/chatbase/internal/core"
)

// ErrRateLimitSignal marks provider responses that announce throttling
// without an HTTP 429, such as RESOURCE_EXHAUSTED bodies.
var ErrRateLimitSignal = errors.New("provider rate limit signal")

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider core.ProviderKind
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}

const maxMessageLen = 300

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`),
	regexp.MustCompile(`(?i)(api[_-]?key|key|token)=([^&\s"]+)`),
}

// Redact strips the given secrets and anything shaped like a credential,
// then caps the message length.
func Redact(msg string, secrets ...string) string {
	for _, s := range secrets {
		if len(s) >= 4 {
			msg = strings.ReplaceAll(msg, s, "[REDACTED]")
		}
	}
	for _, re := range secretPatterns {
		msg = re.ReplaceAllStringFunc(msg, func(m string) string {
			if i := strings.Index(m, "="); i > 0 {
				return m[:i+1] + "[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	if r := []rune(msg); len(r) > maxMessageLen {
		msg = string(r[:maxMessageLen]) + "…"
	}
	return msg
}
