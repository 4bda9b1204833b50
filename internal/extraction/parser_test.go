package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseItems(t *testing.T) {
	t.Run("two well-formed items", func(t *testing.T) {
		output := `# Memory Item 1
## Title: Prioritize Hydrogen Bond Network Analysis
## Description: Analyze donor-acceptor strength before choosing components
## Content: For dissolving polar polymers, hydrogen bond capability of the components is the primary factor.

# Memory Item 2
## Title: Verify Component Compatibility Early
## Description: Check for known incompatibilities before proposing formulations
## Content: Query literature for reported incompatibilities early in the design process.`

		items := ParseItems(output)
		require.Len(t, items, 2)

		assert.Equal(t, "Prioritize Hydrogen Bond Network Analysis", items[0].Title)
		assert.Equal(t, "Analyze donor-acceptor strength before choosing components", items[0].Description)
		assert.Contains(t, items[0].Content, "primary factor")

		assert.Equal(t, "Verify Component Compatibility Early", items[1].Title)
	})

	t.Run("continuation lines accumulate", func(t *testing.T) {
		output := `# Memory Item 1
## Title: Layered Evidence Gathering
## Description: Combine theory and literature
## Content: Start from theory to narrow the component space.
Then confirm each candidate against literature precedents
before committing to a molar ratio.`

		items := ParseItems(output)
		require.Len(t, items, 1)
		assert.Equal(t,
			"Start from theory to narrow the component space. Then confirm each candidate against literature precedents before committing to a molar ratio.",
			items[0].Content)
	})

	t.Run("code fences are skipped", func(t *testing.T) {
		output := "```\n# Memory Item 1\n## Title: Fenced Strategy\n## Description: Desc\n## Content: Body text.\n```"

		items := ParseItems(output)
		require.Len(t, items, 1)
		assert.Equal(t, "Fenced Strategy", items[0].Title)
		assert.Equal(t, "Body text.", items[0].Content)
	})

	t.Run("missing item heading opens implicitly", func(t *testing.T) {
		output := `## Title: Headerless Item
## Description: The model skipped the item heading
## Content: Still parsable.`

		items := ParseItems(output)
		require.Len(t, items, 1)
		assert.Equal(t, "Headerless Item", items[0].Title)
	})

	t.Run("incomplete sections are returned raw", func(t *testing.T) {
		output := `# Memory Item 1
## Title: Only A Title`

		items := ParseItems(output)
		require.Len(t, items, 1)
		assert.Equal(t, "Only A Title", items[0].Title)
		assert.Empty(t, items[0].Description)
		assert.Empty(t, items[0].Content)
	})

	t.Run("preamble before first item is ignored", func(t *testing.T) {
		output := `Here are the extracted strategies:

# Memory Item 1
## Title: Real Item
## Description: Desc
## Content: Body.`

		items := ParseItems(output)
		require.Len(t, items, 1)
		assert.Equal(t, "Real Item", items[0].Title)
	})

	t.Run("unrecognized headings are ignored", func(t *testing.T) {
		output := `# Memory Item 1
## Title: Item
### Side note that should not leak
## Description: Desc
## Content: Body.`

		items := ParseItems(output)
		require.Len(t, items, 1)
		assert.Equal(t, "Item", items[0].Title)
		assert.Equal(t, "Desc", items[0].Description)
	})

	t.Run("empty output yields nothing", func(t *testing.T) {
		assert.Empty(t, ParseItems(""))
		assert.Empty(t, ParseItems("The trajectory contains no generalizable insight worth recording."))
	})
}
