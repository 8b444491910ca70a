package chunking

import (
	"strings"
	"unicode/utf8"
)

const maxHeaderLevel = 4

// section is a run of lines that share the same enclosing headers.
type section struct {
	content string
	headers map[string]string
}

type header struct {
	level int
	text  string
}

// headerKey returns the metadata key for a header level, e.g. "Header 2".
func headerKey(level int) string {
	return "Header " + string(rune('0'+level))
}

// parseHeader reports whether line is an ATX header of level 1-4.
// "#" must be followed by a space or end the line, so "#hashtag" is plain text.
func parseHeader(line string) (header, bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return header{}, false
	}

	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > maxHeaderLevel {
		return header{}, false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return header{}, false
	}

	text := strings.TrimSpace(rest)
	// Optional closing sequence: "## Title ##"
	if stripped := strings.TrimRight(text, "#"); stripped != text && (stripped == "" || strings.HasSuffix(stripped, " ")) {
		text = strings.TrimSpace(stripped)
	}
	return header{level: level, text: text}, true
}

// fenceMarker returns the fence opener of a code fence line, or "".
func fenceMarker(line string) string {
	trimmed := strings.TrimLeft(line, " ")
	for _, marker := range []string{"```", "~~~"} {
		if strings.HasPrefix(trimmed, marker) {
			return marker
		}
	}
	return ""
}

// splitSections cuts markdown at header lines. Each header line stays at the
// top of its own section. Whitespace-only sections are dropped.
func splitSections(text string) ([]section, error) {
	if !utf8.ValidString(text) {
		return nil, errInvalidEncoding
	}

	var (
		sections []section
		stack    []header
		current  []string
		fence    string
	)

	snapshot := func() map[string]string {
		headers := make(map[string]string, len(stack))
		for _, h := range stack {
			headers[headerKey(h.level)] = h.text
		}
		return headers
	}
	flush := func(headers map[string]string) {
		content := strings.TrimSpace(strings.Join(current, "\n"))
		current = current[:0]
		if content == "" {
			return
		}
		sections = append(sections, section{content: content, headers: headers})
	}

	headers := snapshot()
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if marker := fenceMarker(line); marker != "" {
			switch fence {
			case "":
				fence = marker
			case marker:
				fence = ""
			}
			current = append(current, line)
			continue
		}

		if fence == "" {
			if h, ok := parseHeader(line); ok {
				flush(headers)
				for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
					stack = stack[:len(stack)-1]
				}
				stack = append(stack, h)
				headers = snapshot()
			}
		}
		current = append(current, line)
	}
	flush(headers)

	return sections, nil
}
