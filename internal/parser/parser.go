// Package parser turns raw document text into a structured record:
// frontmatter fields, body text, observations, and relations.
//
// Parsing is pure and deterministic. Lines that match neither the
// observation nor the relation grammar stay in the body; a document never
// fails to parse because of an unrecognized line.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

var (
	observationRe = regexp.MustCompile(`^\s*-\s*\[([^\]]+)\]\s*(.*)$`)
	relationRe    = regexp.MustCompile(`^\s*-\s*([^\[\]]+?)\s*\[\[([^\]]+)\]\]\s*(.*)$`)
)

// ParseError reports a document that cannot be parsed at all: a malformed
// frontmatter block or content that is not valid UTF-8.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Reason, e.Err)
	}
	return "parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Observation is one categorized fact parsed from an observation line.
type Observation struct {
	Category string
	Content  string
	Tags     []string
	Context  string
}

// Relation is one typed link parsed from a relation line. Target is the
// literal link text (alias stripped).
type Relation struct {
	Type    string
	Target  string
	Context string
}

// Result holds the structured output of parsing one document.
type Result struct {
	Title        string
	EntityType   string
	Permalink    string // frontmatter override, usually empty
	Tags         []string
	Metadata     map[string]any
	Body         string
	Observations []Observation
	Relations    []Relation
}

// Parse extracts the structured record from raw document bytes.
func Parse(data []byte) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, &ParseError{Reason: "content is not valid UTF-8"}
	}

	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	res := &Result{
		EntityType: "note",
		Metadata:   fm,
	}
	if fm != nil {
		if s, ok := fm["title"].(string); ok && s != "" {
			res.Title = s
		}
		if s, ok := fm["type"].(string); ok && s != "" {
			res.EntityType = s
		}
		if s, ok := fm["permalink"].(string); ok {
			res.Permalink = strings.TrimSpace(s)
		}
		res.Tags = NormalizeTags(fm["tags"])
	}

	var bodyLines []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)

		if res.Title == "" && strings.HasPrefix(trimmed, "# ") {
			res.Title = strings.TrimSpace(trimmed[2:])
			continue
		}
		if rel, ok := parseRelation(trimmed); ok {
			res.Relations = append(res.Relations, rel)
			continue
		}
		if obs, ok := parseObservation(trimmed); ok {
			res.Observations = append(res.Observations, obs)
			continue
		}
		bodyLines = append(bodyLines, line)
	}
	res.Body = strings.TrimSpace(strings.Join(bodyLines, "\n"))

	return res, nil
}

// splitFrontmatter separates a YAML frontmatter block (between leading ---
// delimiters) from the body. A missing or unclosed block is not an error:
// the entire content is body. Invalid YAML inside a closed block is a
// ParseError: the document carries structured metadata we cannot read.
func splitFrontmatter(data []byte) (map[string]any, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, "", &ParseError{Reason: "malformed frontmatter", Err: err}
	}

	return fm, body, nil
}

// parseObservation matches `- [category] text #tag1 #tag2 (context)`.
// Only the category and free text are required.
func parseObservation(line string) (Observation, bool) {
	m := observationRe.FindStringSubmatch(line)
	if m == nil {
		return Observation{}, false
	}
	category := strings.TrimSpace(m[1])
	rest := strings.TrimSpace(m[2])
	if category == "" || rest == "" {
		return Observation{}, false
	}

	// Trailing parenthesized context.
	var context string
	if strings.HasSuffix(rest, ")") {
		if open := strings.LastIndex(rest, "("); open >= 0 {
			context = strings.TrimSpace(rest[open+1 : len(rest)-1])
			rest = strings.TrimSpace(rest[:open])
		}
	}

	// Split hash tags out of the free text. `#a#b` yields both tags.
	var tags []string
	var words []string
	for _, word := range strings.Fields(rest) {
		if strings.HasPrefix(word, "#") {
			for _, t := range strings.Split(strings.TrimLeft(word, "#"), "#") {
				if t != "" {
					tags = append(tags, t)
				}
			}
			continue
		}
		words = append(words, word)
	}
	content := strings.Join(words, " ")
	if content == "" {
		return Observation{}, false
	}

	return Observation{Category: category, Content: content, Tags: tags, Context: context}, true
}

// parseRelation matches `- relation_type [[Target Name]] (context)`.
// An Obsidian-style alias ([[Target|alias]]) resolves against Target.
func parseRelation(line string) (Relation, bool) {
	m := relationRe.FindStringSubmatch(line)
	if m == nil {
		return Relation{}, false
	}
	relType := strings.TrimSpace(m[1])
	target := m[2]
	if i := strings.Index(target, "|"); i >= 0 {
		target = target[:i]
	}
	target = strings.TrimSpace(target)
	if relType == "" || target == "" {
		return Relation{}, false
	}

	var context string
	after := strings.TrimSpace(m[3])
	if strings.HasPrefix(after, "(") && strings.HasSuffix(after, ")") {
		context = strings.TrimSpace(after[1 : len(after)-1])
	}

	return Relation{Type: relType, Target: target, Context: context}, true
}

// NormalizeTags converts a frontmatter tags value into a clean string slice.
// Accepted shapes: a YAML list, a comma-separated string, or a stringified
// list like "[a, b]". Malformed entries are dropped, never an error.
func NormalizeTags(raw any) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "#"))
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range v {
			add(s)
		}
	case string:
		s := strings.TrimSpace(v)
		s = strings.TrimPrefix(s, "[")
		s = strings.TrimSuffix(s, "]")
		for _, part := range strings.Split(s, ",") {
			add(strings.Trim(strings.TrimSpace(part), `"'`))
		}
	}
	return out
}
