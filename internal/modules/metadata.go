package modules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/omron93/containerdiff/internal/containerdiff"
)

// MetadataModule diffs the engine's raw `inspect` output between two
// images. It ignores the silent flag entirely: only files and packages
// have a silent/verbose output distinction.
type MetadataModule struct{}

func (MetadataModule) Key() containerdiff.ResultKey { return containerdiff.ResultKeyMetadata }

func (MetadataModule) Run(ctx context.Context, rc *Context, image1, image2 *containerdiff.ExtractedImage) (containerdiff.ModuleResult, error) {
	inspect1, err := rc.Engine.Inspect(ctx, image1.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", image1.ID, err)
	}
	inspect2, err := rc.Engine.Inspect(ctx, image2.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", image2.ID, err)
	}

	expanded1 := expand(inspect1, "")
	expanded2 := expand(inspect2, "")

	diff, err := unifiedDiffLines(expanded1, expanded2, 0, "", "")
	if err != nil {
		return nil, fmt.Errorf("diffing metadata: %w", err)
	}
	diff = filterHunkMarkers(diff)

	lines := make([]interface{}, len(diff))
	for i, l := range diff {
		lines[i] = l
	}
	return containerdiff.ModuleResult{containerdiff.ResultKeyMetadata: lines}, nil
}

// expand recursively walks a JSON-shaped value (as produced by
// encoding/json's map[string]interface{} decoding) into a flat
// "<path> = <value>" line per leaf: a list's elements all repeat the
// same path with no index, and a scalar becomes a single line.
//
// encoding/json discards a JSON object's original key order. This
// implementation sorts keys instead so that output is at least
// deterministic between runs.
func expand(data interface{}, prefix string) []string {
	switch v := data.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var result []string
		for _, k := range keys {
			result = append(result, expand(v[k], prefix+k+":")...)
		}
		return result
	case []interface{}:
		var result []string
		for _, item := range v {
			result = append(result, expand(item, prefix)...)
		}
		return result
	default:
		path := strings.TrimSuffix(prefix, ":")
		return []string{path + " = " + scalarString(data)}
	}
}

func scalarString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
