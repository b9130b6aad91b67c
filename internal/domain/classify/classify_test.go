package classify

import "testing"

func TestClassifyDefaultsToRead(t *testing.T) {
	r := Classify("notes_read", map[string]interface{}{"noteId": "n-1"})
	if r.ActionClass != ActionRead {
		t.Fatalf("expected read, got %s", r.ActionClass)
	}
	if r.RiskLevel != RiskLow {
		t.Fatalf("expected low risk, got %s", r.RiskLevel)
	}
}

func TestClassifyShellExec(t *testing.T) {
	r := Classify("shell_exec", map[string]interface{}{"command": "rm -rf /"})
	if r.ActionClass != ActionExecute {
		t.Fatalf("expected execute, got %s", r.ActionClass)
	}
	if r.RiskLevel != RiskHigh {
		t.Fatalf("expected high risk, got %s", r.RiskLevel)
	}
	if !r.RiskFlags.ShellExec {
		t.Fatalf("expected shell_exec flag set")
	}
}

func TestClassifySendExternal(t *testing.T) {
	r := Classify("email_send", map[string]interface{}{
		"to":      "user@gmail.com",
		"subject": "hi",
		"body":    "...",
	})
	if r.ActionClass != ActionSend {
		t.Fatalf("expected send, got %s", r.ActionClass)
	}
	if !r.RiskFlags.ExternalDomain {
		t.Fatalf("expected external_domain flag set")
	}
	if r.RiskLevel != RiskMedium {
		t.Fatalf("expected medium risk for external send, got %s", r.RiskLevel)
	}
	if r.Resource.Recipient != "user@gmail.com" {
		t.Fatalf("expected resource recipient populated, got %+v", r.Resource)
	}
}

func TestClassifyTransferValue(t *testing.T) {
	r := Classify("wire_transfer", map[string]interface{}{
		"amount":            "500",
		"currency":          "USD",
		"recipient_account": "12345",
	})
	if r.ActionClass != ActionTransferValue {
		t.Fatalf("expected transfer_value, got %s", r.ActionClass)
	}
	if r.RiskLevel != RiskCritical {
		t.Fatalf("expected critical risk, got %s", r.RiskLevel)
	}
}

func TestClassifyInternalDomainNotExternal(t *testing.T) {
	r := Classify("http_post", map[string]interface{}{
		"url": "http://service.internal/api",
	})
	if r.RiskFlags.ExternalDomain {
		t.Fatalf("internal domain should not be flagged external")
	}
}

func TestClassifyElevatesLowToMedWithThreeFlags(t *testing.T) {
	r := Classify("notes_read", map[string]interface{}{
		"attachment_url": "https://evil.example.com/a.bin",
		"to":             "user@gmail.com",
	})
	if r.RiskFlags.Count() < 3 {
		t.Fatalf("expected at least three flags set, got %+v", r.RiskFlags)
	}
	if r.RiskLevel != RiskMedium {
		t.Fatalf("expected low raised to med with three flags, got %s", r.RiskLevel)
	}
}
