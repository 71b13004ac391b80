package modules

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// unifiedDiffLines renders a and b as a unified diff with the given
// context size and returns it as a slice of lines.
func unifiedDiffLines(a, b []string, context int, fromFile, toFile string) ([]string, error) {
	diff := difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  context,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	return lines, nil
}

// filterHunkMarkers drops the "+++"/"---"/"@@" lines difflib prepends.
// The metadata and history modules use zero-context unified diffs,
// where those markers carry no content worth keeping.
func filterHunkMarkers(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.HasPrefix(l, "+++") || strings.HasPrefix(l, "---") || strings.HasPrefix(l, "@@") {
			continue
		}
		out = append(out, l)
	}
	return out
}
