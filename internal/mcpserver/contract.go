package mcpserver

// DocumentFormatContract describes the canonical Markdown document format
// that LLM consumers should follow when writing documents.
const DocumentFormatContract = `# Ansuz Document Format Contract

Every Markdown document stored in Ansuz SHOULD follow this structure.

## Structure

` + "```" + `markdown
---
title: Human-readable title        # OPTIONAL – first H1 or filename used otherwise
type: note                         # OPTIONAL – entity type (note, person, project, ...)
permalink: custom-slug             # OPTIONAL – pins the permalink explicitly
tags:                              # OPTIONAL – YAML list or comma string
  - tag-one
  - tag-two
---

Body text in standard Markdown.

## Observations

- [category] Observation text #tag1 #tag2 (optional context)

## Relations

- relation_type [[Target Title]] (optional context)
` + "```" + `

## Rules

1. **Frontmatter is optional.** A document without frontmatter is still valid;
   the title falls back to the first H1 heading, then to the filename stem.
2. **Observations** are list items whose text starts with a bracketed
   category: ` + "`" + `- [idea] text` + "`" + `. Trailing ` + "`" + `#tags` + "`" + ` and a parenthesized
   context are extracted.
3. **Relations** are list items of the form ` + "`" + `- relation_type [[Target]]` + "`" + `.
   The target is matched against entity titles (case-insensitive) first,
   then permalinks. ` + "`" + `[[Target|alias]]` + "`" + ` keeps only the target part.
4. **Forward references are fine.** A relation to a document that does not
   exist yet is stored and resolves automatically once the target appears.
5. **File paths** end with ` + "`" + `.md` + "`" + ` and use forward slashes.
6. **Encoding** is UTF-8.

## Example

` + "```" + `markdown
---
title: Coffee Brewing Methods
type: note
tags: [coffee, brewing]
---

# Coffee Brewing Methods

An overview of manual brewing techniques.

## Observations

- [method] Pour over produces a clean cup #technique
- [tip] Grind just before brewing (freshness matters)

## Relations

- requires [[Coffee Grinder]]
- relates_to [[Water Quality]] (mineral content changes extraction)
` + "```" + `
`
