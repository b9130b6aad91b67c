package redact

import (
	"strings"
	"testing"
)

func TestRedactSensitiveKey(t *testing.T) {
	out, _ := Redact(map[string]interface{}{
		"credentials": "sk-abc-very-secret-value",
		"noteId":      "n-1",
	})
	if out["credentials"] != redactedPlaceholder {
		t.Fatalf("expected credentials to be redacted, got %v", out["credentials"])
	}
	if out["noteId"] != "n-1" {
		t.Fatalf("expected noteId to pass through unchanged")
	}
}

func TestRedactDropsApprovalToken(t *testing.T) {
	out, _ := Redact(map[string]interface{}{
		"approvalToken": "tok_abc123",
		"to":            "user@example.com",
	})
	if _, ok := out["approvalToken"]; ok {
		t.Fatalf("approvalToken must never appear in redacted output")
	}
}

func TestRedactURL(t *testing.T) {
	out, _ := Redact(map[string]interface{}{
		"url": "https://api.example.com/v1/widgets?x=1",
	})
	got, _ := out["url"].(string)
	if !strings.HasPrefix(got, "[URL:api.example.com]") {
		t.Fatalf("expected URL placeholder, got %q", got)
	}
}

func TestRedactEmail(t *testing.T) {
	out, _ := Redact(map[string]interface{}{
		"to": "user@gmail.com",
	})
	if out["to"] != "[EMAIL:*@gmail.com]" {
		t.Fatalf("expected email placeholder, got %v", out["to"])
	}
}

func TestRedactLongString(t *testing.T) {
	long := strings.Repeat("a", 600)
	out, _ := Redact(map[string]interface{}{"body": long})
	got, _ := out["body"].(string)
	if strings.Contains(got, long) {
		t.Fatalf("long string leaked verbatim")
	}
}

func TestRedactTruncatesLargeArrays(t *testing.T) {
	items := make([]interface{}, 20)
	for i := range items {
		items[i] = i
	}
	out, meta := Redact(map[string]interface{}{"items": items})
	arr, _ := out["items"].([]interface{})
	if len(arr) != maxArrayElements {
		t.Fatalf("expected array truncated to %d elements, got %d", maxArrayElements, len(arr))
	}
	if meta["items.#count"] != 20 {
		t.Fatalf("expected original count recorded in metadata")
	}
}

func TestRedactNoVerbatimSensitiveValues(t *testing.T) {
	secret := "AKIAABCDEFGHIJKLMNOP1234567890ZZZZ"
	out, _ := Redact(map[string]interface{}{
		"command_output": secret,
	})
	got, _ := out["command_output"].(string)
	if strings.Contains(got, secret) {
		t.Fatalf("sensitive key value leaked verbatim")
	}
}
