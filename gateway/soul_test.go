package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleSoul = `# Research Assistant

Helps find and summarize information from the web.

## What You're Good At

- Web Search
- Fact checking!
- Summarizing Long Documents

## Notes

Internal notes that are not parsed.
`

func TestParseSoulDescription(t *testing.T) {
	soul := ParseSoul(sampleSoul)
	assert.Equal(t, "Helps find and summarize information from the web.", soul.Description)
}

func TestParseSoulCapabilities(t *testing.T) {
	soul := ParseSoul(sampleSoul)
	assert.Equal(t, []string{"web-search", "fact-checking", "summarizing-long-documents"}, soul.Capabilities)
}

func TestParseSoulRolePromptIsVerbatim(t *testing.T) {
	soul := ParseSoul(sampleSoul)
	assert.Equal(t, sampleSoul, soul.RolePrompt)
}

func TestParseSoulMissingSections(t *testing.T) {
	soul := ParseSoul("# Just A Title\n")
	assert.Equal(t, "", soul.Description)
	assert.Empty(t, soul.Capabilities)
}
