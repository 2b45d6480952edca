package i18n

import "strings"

// Translator resolves message keys for a single request locale.
type Translator struct {
	chain []map[string]string
	tags  []string
}

// NewTranslator builds the lookup chain: the full locale, its language and
// finally the fallback language. Tags absent from the catalog are skipped.
func NewTranslator(c Catalog, locale, fallback string) *Translator {
	t := &Translator{}
	seen := make(map[string]bool)
	for _, tag := range candidates(locale, fallback) {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		if messages, ok := c[tag]; ok {
			t.chain = append(t.chain, messages)
			t.tags = append(t.tags, tag)
		}
	}
	return t
}

// Language reports the catalog tag that will be tried first, or "" when the
// locale and fallback are both unknown.
func (t *Translator) Language() string {
	if t == nil || len(t.tags) == 0 {
		return ""
	}
	return t.tags[0]
}

// T looks up key and interpolates {{name}} placeholders from args. A key
// that no language in the chain defines is returned verbatim.
func (t *Translator) T(key string, args map[string]string) string {
	if t != nil {
		for _, messages := range t.chain {
			if tmpl, ok := messages[key]; ok {
				return Interpolate(tmpl, args)
			}
		}
	}
	return key
}

// Interpolate replaces {{name}} placeholders. Unknown names render empty;
// an unterminated placeholder is kept literally.
func Interpolate(tmpl string, args map[string]string) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	var b strings.Builder
	rest := tmpl
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		closing := strings.Index(rest[open+2:], "}}")
		if closing < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		name := strings.TrimSpace(rest[open+2 : open+2+closing])
		b.WriteString(args[name])
		rest = rest[open+2+closing+2:]
	}
	return b.String()
}

// LanguageOf returns the lower-cased language subtag of a locale ("es-MX" → "es").
func LanguageOf(locale string) string {
	tag := normalizeTag(locale)
	if i := strings.IndexByte(tag, '-'); i >= 0 {
		return tag[:i]
	}
	return tag
}

func candidates(locale, fallback string) []string {
	var out []string
	if tag := normalizeTag(locale); tag != "" {
		out = append(out, tag)
		if lang := LanguageOf(tag); lang != tag {
			out = append(out, lang)
		}
	}
	if tag := normalizeTag(fallback); tag != "" {
		out = append(out, tag)
	}
	return out
}
