package modules

import (
	"context"
	"fmt"

	"github.com/omron93/containerdiff/internal/containerdiff"
)

// Registry is the static, build-time set of diff modules run by every
// invocation. Ordering is not contractual; it is executed top to bottom
// here purely for deterministic log output.
var Registry = []Module{
	FilesModule{},
	PackagesModule{},
	MetadataModule{},
	HistoryModule{},
}

// Run executes every module in Registry against image1 and image2 in
// turn and merges their fragments into a single result map. Modules are
// run sequentially; the built-in four do not share mutable state, so a
// future caller wanting concurrency between them may do so safely, but
// nothing here requires it.
func Run(ctx context.Context, rc *Context, image1, image2 *containerdiff.ExtractedImage) (map[containerdiff.ResultKey]interface{}, error) {
	result := make(map[containerdiff.ResultKey]interface{}, len(Registry))
	for _, m := range Registry {
		log := rc.log("modules").WithField("module", m.Key())
		log.Info("running module")
		fragment, err := m.Run(ctx, rc, image1, image2)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", m.Key(), err)
		}
		for key, value := range fragment {
			// Callers guarantee disjoint key sets; a collision here is
			// a programming error in a new module, so last-writer-wins
			// is acceptable rather than fatal.
			result[key] = value
		}
	}
	return result, nil
}
