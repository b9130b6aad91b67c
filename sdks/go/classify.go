package tollgate

import (
	"net"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

// ActionClass is the verb family of a tool call. It must classify identically
// to the gateway's internal/domain/classify package: the gateway may
// re-derive a call's classification from the same tool name and arguments,
// and a mismatch would make a client-attached action_class meaningless.
type ActionClass string

const (
	ActionRead          ActionClass = "read"
	ActionWrite         ActionClass = "write"
	ActionSend          ActionClass = "send"
	ActionExecute       ActionClass = "execute"
	ActionSubmit        ActionClass = "submit"
	ActionTransferValue ActionClass = "transfer_value"
)

// RiskLevel is the overall sensitivity of a classified call.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "med"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type patternGroup struct {
	class    ActionClass
	patterns []string
}

var orderedGroups = []patternGroup{
	{ActionTransferValue, []string{"transfer", "wire", "payment", "pay", "withdraw", "send_money", "refund", "invoice_pay"}},
	{ActionExecute, []string{"exec", "shell", "command", "run_", "_run", "subprocess", "sudo", "eval"}},
	{ActionSubmit, []string{"submit", "form_submit", "checkout", "apply", "publish"}},
	{ActionSend, []string{"send", "email", "mail", "post", "notify", "message", "sms"}},
	{ActionWrite, []string{"write", "create", "update", "delete", "remove", "drop", "destroy", "truncate", "upload", "put", "modify", "insert"}},
}

var destructivePatterns = []string{"delete", "remove", "drop", "destroy", "truncate", "wipe", "purge"}
var shellPatterns = []string{"exec", "shell", "command", "run_", "_run", "subprocess", "sudo", "eval"}
var attachmentPatterns = []string{"attachment", "attach", "file", "upload", "document"}
var formPatterns = []string{"form", "submit", "checkout", "apply"}

var internalAllowlist = []string{"localhost", "127.0.0.1", "::1", ".internal", ".local"}
var rfc1918Nets = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, c := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, n, _ := net.ParseCIDR(c)
		nets = append(nets, n)
	}
	return nets
}()
var urlPrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// classify derives action_class, risk_level, risk_flags, and resource from
// a tool name and its arguments, matching the gateway's own classifier.
func classify(toolName string, args map[string]interface{}) (ActionClass, RiskLevel, RiskFlags, Resource) {
	class := classifyAction(toolName, args)
	resource, flags := inspectArgs(args)
	flags.ShellExec = matchesAny(strings.ToLower(toolName), shellPatterns) || flags.ShellExec
	flags.Destructive = matchesAny(strings.ToLower(toolName), destructivePatterns) || flags.Destructive
	flags.Attachment = matchesAny(strings.ToLower(toolName), attachmentPatterns) || flags.Attachment
	flags.FormSubmit = class == ActionSubmit || matchesAny(strings.ToLower(toolName), formPatterns) || flags.FormSubmit

	level := deriveRiskLevel(class, flags)
	return class, level, flags, resource
}

func classifyAction(toolName string, args map[string]interface{}) ActionClass {
	name := strings.ToLower(toolName)
	for _, group := range orderedGroups {
		if !matchesAny(name, group.patterns) {
			continue
		}
		if group.class == ActionTransferValue && len(args) > 0 && !argsLookLikeTransfer(args) {
			continue
		}
		return group.class
	}
	return ActionRead
}

func argsLookLikeTransfer(args map[string]interface{}) bool {
	moneyWords := []string{"usd", "eur", "gbp", "wire transfer", "ach"}
	for k, v := range args {
		lk := strings.ToLower(k)
		if lk == "amount" || lk == "currency" || lk == "recipient_account" || lk == "iban" || lk == "account_number" {
			return true
		}
		if s, ok := v.(string); ok && matchesAny(strings.ToLower(s), moneyWords) {
			return true
		}
	}
	return false
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func deriveRiskLevel(class ActionClass, flags RiskFlags) RiskLevel {
	var level RiskLevel
	switch class {
	case ActionTransferValue:
		level = RiskCritical
	case ActionExecute:
		level = RiskHigh
	case ActionSubmit:
		if flags.Destructive {
			level = RiskHigh
		} else {
			level = RiskMedium
		}
	case ActionSend:
		if flags.ExternalDomain {
			level = RiskMedium
		} else {
			level = RiskLow
		}
	case ActionWrite:
		if flags.Destructive {
			level = RiskMedium
		} else {
			level = RiskLow
		}
	default:
		level = RiskLow
	}

	if level == RiskLow && flags.Count() >= 3 {
		level = RiskMedium
	}
	return level
}

// Count returns the number of flags set to true.
func (f RiskFlags) Count() int {
	n := 0
	for _, b := range []bool{f.ExternalDomain, f.NewRecipient, f.Attachment, f.FormSubmit, f.ShellExec, f.Destructive} {
		if b {
			n++
		}
	}
	return n
}

func inspectArgs(args map[string]interface{}) (Resource, RiskFlags) {
	var resource Resource
	var flags RiskFlags

	var walk func(v interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case map[string]interface{}:
			for k, sub := range val {
				lk := strings.ToLower(k)
				if matchesAny(lk, attachmentPatterns) {
					flags.Attachment = true
				}
				walk(sub)
			}
		case []interface{}:
			for _, el := range val {
				walk(el)
			}
		case string:
			inspectString(val, &resource, &flags)
		}
	}
	walk(args)
	return resource, flags
}

func inspectString(s string, resource *Resource, flags *RiskFlags) {
	if addr, err := mail.ParseAddress(s); err == nil {
		at := strings.LastIndex(addr.Address, "@")
		if at >= 0 {
			domain := addr.Address[at+1:]
			resource.Recipient = addr.Address
			resource.RecipientDomain = domain
			if resource.Domain == "" {
				resource.Domain = domain
			}
			if !isInternalDomain(domain) {
				flags.ExternalDomain = true
				flags.NewRecipient = true
			}
		}
		return
	}
	if urlPrefix.MatchString(s) {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			resource.URLHost = u.Hostname()
			resource.URLPath = u.Path
			if resource.Domain == "" {
				resource.Domain = u.Hostname()
			}
			if !isInternalDomain(u.Hostname()) {
				flags.ExternalDomain = true
			}
		}
	}
}

func isInternalDomain(domain string) bool {
	d := strings.ToLower(domain)
	for _, allowed := range internalAllowlist {
		if strings.HasPrefix(allowed, ".") {
			if strings.HasSuffix(d, allowed) {
				return true
			}
			continue
		}
		if d == allowed {
			return true
		}
	}
	if ip := net.ParseIP(d); ip != nil {
		for _, n := range rfc1918Nets {
			if n.Contains(ip) {
				return true
			}
		}
	}
	return false
}
