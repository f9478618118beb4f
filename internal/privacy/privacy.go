// Package privacy redacts credentials from URLs and free-form messages before
// they reach logs, API responses or telemetry.
package privacy

import (
	"net/url"
	"regexp"
	"strings"
)

const redacted = "redacted"

var (
	urlPattern = regexp.MustCompile(`\b(?:https?|tcp|ssl|mqtts?|wss?)://[^\s"']+`)

	// key=value pairs outside a parseable URL
	secretPairPattern = regexp.MustCompile(`(?i)\b(api_key|apikey|token|password|secret|auth_token)=([^&\s"']+)`)

	// bare Flickr keys and secrets
	hexKeyPattern = regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)

	sensitiveKeys = map[string]struct{}{
		"api_key":    {},
		"apikey":     {},
		"token":      {},
		"auth_token": {},
		"password":   {},
		"secret":     {},
		"signature":  {},
		"api_sig":    {},
	}
)

// RedactURL returns rawURL with its password and sensitive query values
// replaced. Host and path are kept for debugging.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), redacted)
		}
	}

	if u.RawQuery != "" {
		q := u.Query()
		changed := false
		for key := range q {
			if _, ok := sensitiveKeys[strings.ToLower(key)]; ok {
				q.Set(key, redacted)
				changed = true
			}
		}
		if changed {
			u.RawQuery = q.Encode()
		}
	}
	return u.String()
}

// ScrubMessage redacts URLs, secret key=value pairs and long hex keys in message.
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, RedactURL)
	message = secretPairPattern.ReplaceAllString(message, "${1}="+redacted)
	return hexKeyPattern.ReplaceAllString(message, redacted)
}
