// Package render substitutes {{key}} tokens in notification templates.
//
// Substitution is a single left-to-right pass: values inserted for one token
// are never scanned for further tokens, and there is no escaping or
// expression evaluation. Template content is administrator-authored HTML and
// is treated as trusted.
package render

import "regexp"

var tokenRE = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Render replaces every {{key}} in tmpl with vars[key]. Keys missing from
// vars render as the empty string.
func Render(tmpl string, vars map[string]string) string {
	if tmpl == "" {
		return ""
	}
	return tokenRE.ReplaceAllStringFunc(tmpl, func(tok string) string {
		// tok is "{{key}}"
		return vars[tok[2:len(tok)-2]]
	})
}

// Tokens returns the distinct keys referenced by tmpl in order of first use.
func Tokens(tmpl string) []string {
	ms := tokenRE.FindAllStringSubmatch(tmpl, -1)
	if len(ms) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ms))
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}
