// Package stepdoc parses the POD-style documentation header embedded in a
// step's Starlark source and renders it back as plain text for
// --step_help.
package stepdoc

import (
	"bufio"
	"fmt"
	"strings"
)

// Doc is a step's parsed documentation header.
type Doc struct {
	Name        string
	Description string
	Options     string
	Example     string
	Copyright   string
}

// Parse extracts a step's documentation header from its source. The
// header is a run of comment lines ("# ...") at the top of the file, with
// section markers of the form "# NAME", "# DESCRIPTION", and so on;
// everything under a marker until the next marker (or the first
// non-comment line) belongs to that section. A step with no header parses
// to a zero-value Doc, not an error.
func Parse(source string) Doc {
	var doc Doc
	sections := map[string]*strings.Builder{
		"NAME":        {},
		"DESCRIPTION": {},
		"OPTIONS":     {},
		"EXAMPLE":     {},
		"COPYRIGHT":   {},
	}

	current := ""
	scanner := bufio.NewScanner(strings.NewReader(source))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		content := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))

		if _, isSection := sections[strings.ToUpper(content)]; isSection && content == strings.ToUpper(content) && content != "" {
			current = strings.ToUpper(content)
			continue
		}
		if current == "" {
			continue
		}
		if sections[current].Len() > 0 {
			sections[current].WriteByte('\n')
		}
		sections[current].WriteString(content)
	}

	doc.Name = sections["NAME"].String()
	doc.Description = sections["DESCRIPTION"].String()
	doc.Options = sections["OPTIONS"].String()
	doc.Example = sections["EXAMPLE"].String()
	doc.Copyright = sections["COPYRIGHT"].String()
	return doc
}

// Render formats a Doc as the fixed text layout --step_help prints.
func Render(step string, doc Doc) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", step)
	if doc.Name != "" {
		fmt.Fprintf(&b, "\n%s\n", doc.Name)
	}
	writeSection(&b, "DESCRIPTION", doc.Description)
	writeSection(&b, "OPTIONS", doc.Options)
	writeSection(&b, "EXAMPLE", doc.Example)
	writeSection(&b, "COPYRIGHT", doc.Copyright)
	return b.String()
}

func writeSection(b *strings.Builder, title, body string) {
	if body == "" {
		return
	}
	fmt.Fprintf(b, "\n%s\n", title)
	for _, line := range strings.Split(body, "\n") {
		fmt.Fprintf(b, "  %s\n", line)
	}
}
