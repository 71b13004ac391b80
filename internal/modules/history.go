package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/omron93/containerdiff/internal/containerdiff"
	"github.com/omron93/containerdiff/internal/engine"
)

// nopCommentPrefix is stripped from a CreatedBy entry before comparison;
// Dockerfile-synthesized build steps all carry this prefix and differ
// only in the part that follows it.
const nopCommentPrefix = "/bin/sh -c #(nop) "

// HistoryModule diffs the two images' build history. Like MetadataModule,
// it ignores the silent flag.
type HistoryModule struct{}

func (HistoryModule) Key() containerdiff.ResultKey { return containerdiff.ResultKeyHistory }

func (HistoryModule) Run(ctx context.Context, rc *Context, image1, image2 *containerdiff.ExtractedImage) (containerdiff.ModuleResult, error) {
	h1, err := rc.Engine.History(ctx, image1.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", image1.ID, err)
	}
	h2, err := rc.Engine.History(ctx, image2.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", image2.ID, err)
	}

	lines1 := chronological(h1)
	lines2 := chronological(h2)

	diff, err := unifiedDiffLines(lines1, lines2, 0, "", "")
	if err != nil {
		return nil, fmt.Errorf("diffing history: %w", err)
	}
	diff = filterHunkMarkers(diff)

	out := make([]interface{}, len(diff))
	for i, l := range diff {
		out[i] = l
	}
	return containerdiff.ModuleResult{containerdiff.ResultKeyHistory: out}, nil
}

// chronological normalizes each history entry (stripping the "#(nop)"
// prologue) and reverses the engine's native newest-first order into
// oldest-first, matching the Dockerfile-like listing history.py
// produces.
func chronological(entries []engine.HistoryEntry) []string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		createdBy := e.CreatedBy
		if strings.HasPrefix(createdBy, nopCommentPrefix) {
			createdBy = strings.TrimPrefix(createdBy, nopCommentPrefix)
		}
		lines[i] = createdBy
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}
