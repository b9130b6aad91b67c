// Package classify implements the deterministic tool-call classifier:
// (tool_name, args) -> (action_class, risk_level, risk_flags, resource).
// It is pure and stateless -- no I/O, no external state -- by design, so
// the same classification a client SDK computes is trivially re-derivable
// by the gateway for any revalidation it chooses to do.
package classify

import (
	"net"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

// ActionClass is the verb family of a tool call.
type ActionClass string

const (
	ActionRead          ActionClass = "read"
	ActionWrite         ActionClass = "write"
	ActionSend          ActionClass = "send"
	ActionExecute       ActionClass = "execute"
	ActionSubmit        ActionClass = "submit"
	ActionTransferValue ActionClass = "transfer_value"
	ActionAny           ActionClass = "any"
)

// RiskLevel is the overall sensitivity of a classified call.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "med"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskFlags is a fixed record of boolean signals derived from args.
type RiskFlags struct {
	ExternalDomain bool `json:"external_domain"`
	NewRecipient   bool `json:"new_recipient"`
	Attachment     bool `json:"attachment"`
	FormSubmit     bool `json:"form_submit"`
	ShellExec      bool `json:"shell_exec"`
	Destructive    bool `json:"destructive"`
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

// Resource carries optional destination metadata extracted from args.
type Resource struct {
	Domain          string `json:"domain,omitempty"`
	RecipientDomain string `json:"recipientDomain,omitempty"`
	Recipient       string `json:"recipient,omitempty"`
	URLHost         string `json:"urlHost,omitempty"`
	URLPath         string `json:"urlPath,omitempty"`
}

// Result is the full output of classifying a tool call.
type Result struct {
	ActionClass ActionClass
	RiskLevel   RiskLevel
	RiskFlags   RiskFlags
	Resource    Resource
}

// patternGroup associates an ActionClass with the ordered substrings that
// identify it. Groups are checked most-restrictive-first.
type patternGroup struct {
	class    ActionClass
	patterns []string
}

// orderedGroups mirrors the teacher's ClassifyTool precedence table
// (critical/destructive first, safe reads last) generalized to the six
// action classes this spec names.
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

// internalAllowlist enumerates hostname suffixes/exact matches treated as
// internal (never "external_domain").
var internalAllowlist = []string{"localhost", "127.0.0.1", "::1", ".internal", ".local"}

// rfc1918Nets are the three private-use address blocks (RFC 1918).
// Parsed once at init so isInternalDomain can use proper CIDR
// containment instead of string-prefix matching, which would otherwise
// mismatch boundaries like 172.9.x.x against the 172.16.0.0/12 block.
var rfc1918Nets = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("classify: invalid CIDR literal " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

var urlPrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// Classify derives action_class, risk_level, risk_flags, and resource from
// a tool name and its arguments.
func Classify(toolName string, args map[string]interface{}) Result {
	class := classifyAction(toolName, args)
	resource, flags := inspectArgs(args)
	flags.ShellExec = matchesAny(strings.ToLower(toolName), shellPatterns) || flags.ShellExec
	flags.Destructive = matchesAny(strings.ToLower(toolName), destructivePatterns) || flags.Destructive
	flags.Attachment = matchesAny(strings.ToLower(toolName), attachmentPatterns) || flags.Attachment
	flags.FormSubmit = class == ActionSubmit || matchesAny(strings.ToLower(toolName), formPatterns) || flags.FormSubmit

	level := deriveRiskLevel(class, flags)

	return Result{
		ActionClass: class,
		RiskLevel:   level,
		RiskFlags:   flags,
		Resource:    resource,
	}
}

func classifyAction(toolName string, args map[string]interface{}) ActionClass {
	name := strings.ToLower(toolName)

	for _, group := range orderedGroups {
		if !matchesAny(name, group.patterns) {
			continue
		}
		if group.class == ActionTransferValue && len(args) > 0 && !argsLookLikeTransfer(args) {
			// Tool name alone looked transfer-shaped ("pay_invoice") but the
			// argument text doesn't corroborate a monetary transfer -- fall
			// through to weaker classes instead of over-classifying.
			continue
		}
		return group.class
	}
	return ActionRead
}

// argsLookLikeTransfer scans argument text for monetary-transfer shaped
// keys or values, corroborating a transfer-patterned tool name per spec
// §4.3 ("matching the tool name and, for transfer, the argument text").
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

// inspectArgs walks the argument tree looking for URL- and email-shaped
// strings to populate Resource and the external_domain/attachment flags.
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
