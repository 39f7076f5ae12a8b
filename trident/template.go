package trident

import (
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

// RenderTemplate substitutes {{var}} and {{a.b.c}} placeholders in a prompt
// body. Surrounding whitespace inside the braces is ignored. Unknown
// variables are left verbatim so a half-bound template stays inspectable.
func RenderTemplate(body string, vars map[string]any) string {
	t := fasttemplate.New(body, "{{", "}}")
	return t.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		key := strings.TrimSpace(tag)
		var value any
		if strings.Contains(key, ".") {
			value = GetPath(vars, key)
		} else {
			value = vars[key]
		}
		if value == nil {
			return w.Write([]byte("{{" + tag + "}}"))
		}
		return w.Write([]byte(Stringify(value)))
	})
}
