package tollgate

import (
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// redactArgs mirrors the gateway's internal/domain/redact.Redact: it
// strips secrets and bulky content out of a tool call's argument tree
// before the tree ever leaves the agent process. Only this redacted copy
// travels over the wire as args_redacted; args_hash is computed locally
// over the raw, unredacted args and never needs to cross the network
// itself.
const redactedPlaceholder = "[REDACTED]"

const (
	maxArrayElements      = 3
	arrayTruncateThreshold = 10
	longStringThreshold   = 500
	base64LikeThreshold   = 100
	highEntropyMinLength  = 32
)

var sensitiveKeyList = []string{
	"credential", "password", "secret", "token", "apikey", "api_key",
	"body", "content", "output", "blob", "attachment", "privatekey",
	"private_key", "authorization", "cookie",
}

var (
	base64ish     = regexp.MustCompile(`^[A-Za-z0-9+/=_-]+$`)
	htmlTagPrefix = regexp.MustCompile(`^\s*<[a-zA-Z!]`)
)

func redactArgs(args map[string]interface{}) map[string]interface{} {
	out, _ := redactValue("", args)
	redacted, _ := out.(map[string]interface{})
	if redacted == nil {
		redacted = map[string]interface{}{}
	}
	return redacted
}

func redactValue(path string, v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, sub := range val {
			if path == "" && k == approvalTokenField {
				continue
			}
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if isSensitiveKey(k) {
				result[k] = redactedPlaceholder
				continue
			}
			redacted, drop := redactValue(childPath, sub)
			if !drop {
				result[k] = redacted
			}
		}
		return result, false

	case []interface{}:
		if len(val) > arrayTruncateThreshold {
			sample := make([]interface{}, 0, maxArrayElements)
			for i := 0; i < maxArrayElements && i < len(val); i++ {
				redacted, _ := redactValue(path, val[i])
				sample = append(sample, redacted)
			}
			return sample, false
		}
		result := make([]interface{}, len(val))
		for i, el := range val {
			redacted, _ := redactValue(path, el)
			result[i] = redacted
		}
		return result, false

	case string:
		return redactString(val), false

	default:
		return val, false
	}
}

func redactString(s string) interface{} {
	if host, ok := extractURLHost(s); ok {
		return "[URL:" + host + "]"
	}
	if domain, ok := extractEmailDomain(s); ok {
		return "[EMAIL:*@" + domain + "]"
	}
	if isSensitiveByShape(s) {
		return "[REDACTED:" + strconv.Itoa(len(s)) + " chars]"
	}
	return s
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeyList {
		if strings.Contains(lower, kw) {
			return true
		}
		if strings.HasPrefix(lower, kw+"_") || strings.HasSuffix(lower, "_"+kw) {
			return true
		}
		if strings.HasPrefix(lower, "x_"+kw) || strings.HasSuffix(lower, kw+"_x") {
			return true
		}
	}
	return false
}

func isSensitiveByShape(s string) bool {
	if len(s) > longStringThreshold {
		return true
	}
	if len(s) > base64LikeThreshold && base64ish.MatchString(s) {
		return true
	}
	if len(s) >= highEntropyMinLength && isHighEntropyAlnum(s) {
		return true
	}
	if htmlTagPrefix.MatchString(s) {
		return true
	}
	return false
}

func isHighEntropyAlnum(s string) bool {
	var hasUpper, hasLower, hasDigit bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case r == ' ' || r == '\t' || r == '\n':
			return false
		}
	}
	count := 0
	if hasUpper {
		count++
	}
	if hasLower {
		count++
	}
	if hasDigit {
		count++
	}
	return count >= 2
}

func extractURLHost(s string) (string, bool) {
	if !urlPrefix.MatchString(s) {
		return "", false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", false
	}
	return u.Hostname(), true
}

func extractEmailDomain(s string) (string, bool) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", false
	}
	at := strings.LastIndex(addr.Address, "@")
	if at < 0 {
		return "", false
	}
	return addr.Address[at+1:], true
}
