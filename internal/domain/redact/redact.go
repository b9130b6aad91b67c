// Package redact strips secrets and bulky content out of tool-call argument
// trees before they are persisted as part of an audit Request record, while
// extracting a flat map of safe metadata an operator can still search on.
package redact

import (
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const redactedPlaceholder = "[REDACTED]"

// maxArrayElements is the number of elements kept (sampled from the front)
// before an array is summarized instead of echoed in full.
const maxArrayElements = 3

// arrayTruncateThreshold is the array length above which truncation kicks in.
const arrayTruncateThreshold = 10

// longStringThreshold marks any string above this length as sensitive by
// shape, regardless of its key.
const longStringThreshold = 500

// base64LikeThreshold is the minimum length for a string to be considered
// base64-like (loosely: alnum plus +/=) and therefore sensitive by shape.
const base64LikeThreshold = 100

// highEntropyMinLength is the minimum length for the high-entropy heuristic.
const highEntropyMinLength = 32

// sensitiveKeyList are substrings (case-insensitive) that mark a key as
// carrying content the gateway must never echo back, even redacted to a
// placeholder that preserves shape.
var sensitiveKeyList = []string{
	"credential", "password", "secret", "token", "apikey", "api_key",
	"body", "content", "output", "blob", "attachment", "privatekey",
	"private_key", "authorization", "cookie",
}

var (
	base64ish     = regexp.MustCompile(`^[A-Za-z0-9+/=_-]+$`)
	htmlTagPrefix = regexp.MustCompile(`^\s*<[a-zA-Z!]`)
	urlPrefix     = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
)

const approvalTokenField = "approvalToken"

// Metadata is a flat bag of safe extracts pulled out of an argument tree
// while redacting it: hostnames, path shapes, sizes, and counts that are
// safe to persist and search on even though the underlying values are not.
type Metadata map[string]interface{}

// Redact walks args recursively and returns a redacted copy that is safe to
// persist, plus a flat metadata map of safe extracts.
func Redact(args map[string]interface{}) (map[string]interface{}, Metadata) {
	meta := Metadata{}
	out, _ := redactValue("", args, meta)
	redactedMap, _ := out.(map[string]interface{})
	if redactedMap == nil {
		redactedMap = map[string]interface{}{}
	}
	return redactedMap, meta
}

// redactValue redacts a single value found at the given dotted path. The
// bool return is false on every path; the top-level approvalToken field is
// dropped by the map branch skipping it.
func redactValue(path string, v interface{}, meta Metadata) (interface{}, bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, sub := range val {
			if path == "" && k == approvalTokenField {
				continue // never echoed, not even redacted
			}
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if isSensitiveKey(k) {
				recordShapeMetadata(childPath, sub, meta)
				result[k] = redactedPlaceholder
				continue
			}
			redacted, drop := redactValue(childPath, sub, meta)
			if !drop {
				result[k] = redacted
			}
		}
		meta[path+".#keys"] = len(val)
		return result, false

	case []interface{}:
		meta[path+".#count"] = len(val)
		if len(val) > arrayTruncateThreshold {
			sample := make([]interface{}, 0, maxArrayElements)
			for i := 0; i < maxArrayElements && i < len(val); i++ {
				redacted, _ := redactValue(path, val[i], meta)
				sample = append(sample, redacted)
			}
			return sample, false
		}
		result := make([]interface{}, len(val))
		for i, el := range val {
			redacted, _ := redactValue(path, el, meta)
			result[i] = redacted
		}
		return result, false

	case string:
		return redactString(path, val, meta), false

	default:
		return val, false
	}
}

// redactString applies the heuristic shape checks and URL/email rewriting
// described in spec §4.2.
func redactString(path, s string, meta Metadata) interface{} {
	if host, ok := extractURLHost(s); ok {
		meta[path+".urlHost"] = host
		meta[path+".urlPath"] = extractURLPath(s)
		return "[URL:" + host + "]"
	}
	if domain, ok := extractEmailDomain(s); ok {
		meta[path+".emailDomain"] = domain
		return "[EMAIL:*@" + domain + "]"
	}
	if isSensitiveByShape(s) {
		meta[path+".length"] = len(s)
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

// isHighEntropyAlnum is a cheap proxy for entropy: a run of alphanumeric
// characters that mixes case and digits, long enough to look like a key or
// hash rather than prose.
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
			return false // prose, not a token
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

func extractURLPath(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return u.Path
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

func recordShapeMetadata(path string, v interface{}, meta Metadata) {
	switch val := v.(type) {
	case string:
		meta[path+".length"] = len(val)
	case []interface{}:
		meta[path+".#count"] = len(val)
	case map[string]interface{}:
		meta[path+".#keys"] = len(val)
	}
}

