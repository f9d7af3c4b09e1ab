package gateway

import (
	"regexp"
	"strings"
)

// Soul is the parsed content of a per-agent SOUL.md document (spec §6
// "SOUL.md grammar").
type Soul struct {
	Description  string
	Capabilities []string
	RolePrompt   string
}

var goodAtHeading = regexp.MustCompile(`(?i)^##\s+What You're Good At\s*$`)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9 -]`)
var slugSpaces = regexp.MustCompile(`\s+`)

// ParseSoul extracts description, capabilities, and the verbatim role
// prompt from a SOUL.md document.
func ParseSoul(content string) Soul {
	lines := strings.Split(content, "\n")

	return Soul{
		Description:  parseDescription(lines),
		Capabilities: parseCapabilities(lines),
		RolePrompt:   content,
	}
}

func isHeading(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

// parseDescription returns the first non-empty, non-heading line after the
// first H1, stopping at the next heading.
func parseDescription(lines []string) string {
	sawH1 := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !sawH1 {
			if strings.HasPrefix(trimmed, "# ") || trimmed == "#" {
				sawH1 = true
			}
			continue
		}
		if isHeading(trimmed) {
			return ""
		}
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// parseCapabilities returns the bulleted items under the "What You're
// Good At" H2 heading, slugified.
func parseCapabilities(lines []string) []string {
	inSection := false
	var caps []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if goodAtHeading.MatchString(trimmed) {
			inSection = true
			continue
		}
		if !inSection {
			continue
		}
		if isHeading(trimmed) {
			break
		}
		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") {
			item := strings.TrimSpace(trimmed[1:])
			caps = append(caps, slugify(item))
		}
	}

	return caps
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = nonSlugChars.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(strings.TrimSpace(s), "-")
	return s
}
