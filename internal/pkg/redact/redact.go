// redact предоставляет утилиты безопасного редактирования чувствительных
// данных для логов (e-mail, токены, пароли, заголовок Authorization).
package redact

import "strings"

// Email маскирует e-mail для логирования.
//
// Правила:
//   - строка должна содержать ровно один '@', иначе возвращается "***";
//   - локальная часть сокращается до первых двух рун + "***";
//   - если локальная часть не длиннее двух рун — "***@<domain>".
//
// Примеры:
//
//	"teacher@school.org" -> "te***@school.org"
//	"ab@ex.com"          -> "***@ex.com"
//	"no-at"              -> "***"
func Email(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// Token возвращает литерал-заглушку для токена в логах.
func Token() string { return "[REDACTED_TOKEN]" }

// Password возвращает литерал-заглушку для пароля в логах.
func Password() string { return "[REDACTED_PASSWORD]" }

// Authorization скрывает значение заголовка Authorization, оставляя схему.
//
//	"Bearer eyJ..." -> "Bearer [REDACTED_TOKEN]"
//	""              -> ""
func Authorization(h string) string {
	h = strings.TrimSpace(h)
	if h == "" {
		return ""
	}

	if scheme, _, ok := strings.Cut(h, " "); ok {
		return scheme + " " + Token()
	}

	return Token()
}
