package provider

import (
	"context"
	"regexp"
	"time"
)

// Exchange is one request/response pair with a bank, with secrets masked
type Exchange struct {
	Gateway      string        `json:"gateway"`
	Op           Op            `json:"op"`
	Method       string        `json:"method"`
	URL          string        `json:"url"`
	RequestBody  string        `json:"request_body,omitempty"`
	StatusCode   int           `json:"status_code"`
	ResponseBody string        `json:"response_body,omitempty"`
	Duration     time.Duration `json:"duration"`
	Attempt      int           `json:"attempt"`
	Error        string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// ExchangeLogger records bank exchanges for audit
type ExchangeLogger interface {
	LogExchange(ctx context.Context, ex Exchange) error
}

var secretPatterns = []*regexp.Regexp{
	// JSON: "password":"..."
	regexp.MustCompile(`(?i)("(?:password|userpassword|pin|loginaccount|api_?key|pwd|terminal_pass|merchant_id|signdata|sign)"\s*:\s*")[^"]*(")`),
	// XML: <password>...</password>
	regexp.MustCompile(`(?i)(<(?:[a-z0-9]+:)?(?:password|userpassword|pin|loginaccount|string2|terminal_pass|encryptedcredentials)>)[^<]*(</)`),
	// form: password=...&
	regexp.MustCompile(`(?i)((?:^|&)(?:password|pin|sign|pwd)=)[^&]*()`),
}

// MaskSecrets blanks credential values in a JSON, XML or form body
func MaskSecrets(body string) string {
	for _, re := range secretPatterns {
		body = re.ReplaceAllString(body, "${1}***${2}")
	}
	return body
}

const maxLoggedBody = 4096

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "...(truncated)"
}
