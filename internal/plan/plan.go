// Package plan parses the fix_plan.md checklist and reports completion.
package plan

import (
	"regexp"
	"strings"
)

// taskLine matches a valid checklist task: "- [ ] text", "- [x] text" or
// "- [X] text". The checkbox interior must be exactly one space or x/X;
// a literal "- []" is not a task line and is counted in neither total.
var taskLine = regexp.MustCompile(`^- \[( |x|X)\] \S`)

// Summary holds the parsed checklist counts.
type Summary struct {
	TotalItems     int
	CompletedItems int
}

// Parse scans a checklist document and counts valid task lines. Lines that
// do not match the task pattern are ignored; arbitrary text never fails.
func Parse(doc string) Summary {
	var s Summary
	for _, line := range strings.Split(doc, "\n") {
		m := taskLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		s.TotalItems++
		if m[1] == "x" || m[1] == "X" {
			s.CompletedItems++
		}
	}
	return s
}

// IsComplete reports whether every task in the document is checked off.
// An empty or task-free document is never complete.
func (s Summary) IsComplete() bool {
	return s.TotalItems > 0 && s.CompletedItems == s.TotalItems
}

// IsPlanComplete parses doc and reports 100% completion. An absent
// document should be passed as the empty string and reports false.
func IsPlanComplete(doc string) bool {
	return Parse(doc).IsComplete()
}
