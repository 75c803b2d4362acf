package outreach

import "strings"

// NormalizePhone reduces a phone number to its digits with a leading "+"
// kept, so "+1 (555) 010-0123" and "+15550100123" compare equal. Ten-digit
// numbers are assumed to be North American.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) == 10 {
		digits = "1" + digits
	}
	return "+" + digits
}

// NormalizeEmail lower-cases and trims an address, dropping any display name.
func NormalizeEmail(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

// NormalizeContact applies the channel's normalization to contact.
func NormalizeContact(ch string, contact string) string {
	if ch == "sms" {
		return NormalizePhone(contact)
	}
	return NormalizeEmail(contact)
}
