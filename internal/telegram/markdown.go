package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var codeEscaper = strings.NewReplacer(`\`, `\\`, "`", "\\`")

// MarkdownV2 renders common model Markdown for Telegram's MarkdownV2 parse
// mode. Code spans, fenced blocks and **bold** keep their formatting; all
// other text is escaped so it shows literally.
func MarkdownV2(s string) string {
	var b strings.Builder
	for len(s) > 0 {
		switch {
		case strings.HasPrefix(s, "```"):
			end := strings.Index(s[3:], "```")
			if end < 0 {
				b.WriteString(escape(s))
				return b.String()
			}
			// Telegram rejects empty entities.
			if strings.TrimSpace(s[3:3+end]) == "" {
				b.WriteString(escape(s[:3+end+3]))
				s = s[3+end+3:]
				continue
			}
			b.WriteString("```")
			b.WriteString(codeEscaper.Replace(s[3 : 3+end]))
			b.WriteString("```")
			s = s[3+end+3:]
		case s[0] == '`':
			end := strings.IndexByte(s[1:], '`')
			if end < 0 {
				b.WriteString(escape(s))
				return b.String()
			}
			if end == 0 {
				b.WriteString(escape("``"))
				s = s[2:]
				continue
			}
			b.WriteString("`")
			b.WriteString(codeEscaper.Replace(s[1 : 1+end]))
			b.WriteString("`")
			s = s[1+end+1:]
		case strings.HasPrefix(s, "**"):
			end := strings.Index(s[2:], "**")
			if end <= 0 {
				b.WriteString(escape("**"))
				s = s[2:]
				continue
			}
			b.WriteString("*")
			b.WriteString(escape(s[2 : 2+end]))
			b.WriteString("*")
			s = s[2+end+2:]
		default:
			i := nextMarkup(s)
			b.WriteString(escape(s[:i]))
			s = s[i:]
		}
	}
	return b.String()
}

// nextMarkup returns the index of the next code or bold marker, or len(s).
func nextMarkup(s string) int {
	for i := 1; i < len(s); i++ {
		if s[i] == '`' || strings.HasPrefix(s[i:], "**") {
			return i
		}
	}
	return len(s)
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s)
}
