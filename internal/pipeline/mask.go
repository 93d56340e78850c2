package pipeline

import "regexp"

var (
	emailPattern    = regexp.MustCompile(`[\w.-]+@[\w.-]+`)
	passwordPattern = regexp.MustCompile(`(?i)(password|pass|pwd)\s*[:=]\s*['"]?(\S+)['"]?`)
)

// MaskPII replaces e-mail addresses and password assignments in the text so
// no credentials or personal data reach the completion provider.
func MaskPII(text string) string {
	masked := emailPattern.ReplaceAllString(text, "[EMAIL_MASKED]")
	masked = passwordPattern.ReplaceAllString(masked, "${1} [PASSWORD_MASKED]")
	return masked
}
