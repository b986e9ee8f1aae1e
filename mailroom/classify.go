package mailroom

import (
	"net/mail"
	"strings"
)

// MatchInvoice decides whether an email should be archived. It returns
// the keyword or sender-domain rule that matched, or "" for no match.
// Keywords match subject and body case-insensitively; domains match the
// sender address exactly or as a parent domain.
func MatchInvoice(subject, sender, body string, keywords, domains []string) string {
	subjectLower := strings.ToLower(subject)
	bodyLower := strings.ToLower(body)
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if strings.Contains(subjectLower, k) || strings.Contains(bodyLower, k) {
			return kw
		}
	}

	domain := senderDomain(sender)
	if domain == "" {
		return ""
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return "sender:" + d
		}
	}
	return ""
}

// senderDomain pulls the domain out of a From header, which may be a bare
// address or the "Name <addr>" form.
func senderDomain(sender string) string {
	addr := strings.TrimSpace(sender)
	if parsed, err := mail.ParseAddress(sender); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(addr[at+1:], ">"))
}
