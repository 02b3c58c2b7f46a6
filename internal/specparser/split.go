package specparser

import (
	"regexp"
	"strings"

	"devmatrix.dev/core/internal/domain"
)

var (
	headingRe = regexp.MustCompile(`(?m)^#{1,3}\s+(.+)$`)
	fencedRe  = regexp.MustCompile("(?s)```json\\s*\\n(.*?)```")
)

// SplitSections turns a raw markdown spec document into the
// domain.SpecSection slice Parse expects: one section per heading of
// level 1 to 3, with the first fenced ```json block lifted out as that
// section's Schema. Used by the run entrypoints (cmd/devmatrix and the
// worker, both of which receive raw markdown) — Parse itself is agnostic
// to how Sections were produced.
func SplitSections(rawText string) []domain.SpecSection {
	idxs := headingRe.FindAllStringSubmatchIndex(rawText, -1)
	if len(idxs) == 0 {
		return []domain.SpecSection{{Heading: "root", Prose: rawText}}
	}

	sections := make([]domain.SpecSection, 0, len(idxs))
	for i, m := range idxs {
		heading := strings.TrimSpace(rawText[m[2]:m[3]])
		bodyStart := m[1]
		bodyEnd := len(rawText)
		if i+1 < len(idxs) {
			bodyEnd = idxs[i+1][0]
		}
		body := rawText[bodyStart:bodyEnd]

		section := domain.SpecSection{Heading: heading}
		if fm := fencedRe.FindStringSubmatch(body); fm != nil {
			section.Schema = []byte(strings.TrimSpace(fm[1]))
			section.Prose = strings.TrimSpace(fencedRe.ReplaceAllString(body, ""))
		} else {
			section.Prose = strings.TrimSpace(body)
		}
		sections = append(sections, section)
	}
	return sections
}
