package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Template is a lightweight string template using double-brace placeholders.
// Example: "Hello {{name}}" with vars map{"name": "Agent"} -> "Hello Agent".
type Template struct {
	Text string
}

// NewTemplate returns a Template with the provided text.
func NewTemplate(text string) Template {
	return Template{Text: text}
}

// IsZero reports whether the template has no text.
func (t Template) IsZero() bool {
	return strings.TrimSpace(t.Text) == ""
}

// Render replaces all placeholders with values in a single pass, so values
// that themselves look like placeholders are not expanded. Missing keys are
// left untouched.
func (t Template) Render(vars map[string]any) string {
	if len(vars) == 0 {
		return t.Text
	}
	return placeholder.ReplaceAllStringFunc(t.Text, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		val, ok := vars[key]
		if !ok {
			return m
		}
		return fmt.Sprint(val)
	})
}

// Placeholders lists the distinct variable names used by the template in
// order of first appearance.
func (t Template) Placeholders() []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholder.FindAllStringSubmatch(t.Text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
