package extraction

import "strings"

// ParsedItem is one raw memory-item section from an extraction response,
// before field validation.
type ParsedItem struct {
	Title       string
	Description string
	Content     string
}

// ParseItems parses an extraction response in the fixed section format:
//
//	# Memory Item N
//	## Title: <short identifier>
//	## Description: <one sentence>
//	## Content: <strategy body>
//
// Field values continue across lines: a non-empty line that is not a new
// heading is appended to the most recent field. Code fence markers are
// skipped, and a field heading with no preceding item heading opens an
// item implicitly. Sections with missing fields are returned as-is; the
// caller decides whether an incomplete item is usable.
func ParseItems(output string) []ParsedItem {
	var items []ParsedItem
	var current *ParsedItem
	var field *string

	flush := func() {
		if current != nil {
			items = append(items, *current)
		}
		current = nil
		field = nil
	}
	ensure := func() {
		if current == nil {
			current = &ParsedItem{}
		}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "```"):
			continue

		case strings.HasPrefix(line, "# Memory Item"):
			flush()
			current = &ParsedItem{}

		case strings.HasPrefix(line, "## Title:"):
			ensure()
			current.Title = strings.TrimSpace(strings.TrimPrefix(line, "## Title:"))
			field = &current.Title

		case strings.HasPrefix(line, "## Description:"):
			ensure()
			current.Description = strings.TrimSpace(strings.TrimPrefix(line, "## Description:"))
			field = &current.Description

		case strings.HasPrefix(line, "## Content:"):
			ensure()
			current.Content = strings.TrimSpace(strings.TrimPrefix(line, "## Content:"))
			field = &current.Content

		case line != "" && field != nil && !strings.HasPrefix(line, "#"):
			if *field == "" {
				*field = line
			} else {
				*field += " " + line
			}
		}
	}
	flush()

	return items
}
