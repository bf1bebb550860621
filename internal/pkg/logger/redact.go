package logger

import "strings"

// RedactEmail masks a recipient address so logs never carry a full email.
// The first two characters of the local part survive when it is long enough
// to keep them non-identifying:
//
//	"john.doe@example.com" -> "jo***@example.com"
//	"ab@example.com"       -> "***@example.com"
//
// Anything that does not look like an address collapses to "***@***".
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.Contains(email[:at], "@") {
		return "***@***"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
