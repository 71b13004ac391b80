package modules

import (
	"context"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/omron93/containerdiff/internal/containerdiff"
)

// PackagesModule compares the set of installed packages between two
// images.
type PackagesModule struct{}

func (PackagesModule) Key() containerdiff.ResultKey { return containerdiff.ResultKeyPackages }

func (PackagesModule) Run(ctx context.Context, rc *Context, image1, image2 *containerdiff.ExtractedImage) (containerdiff.ModuleResult, error) {
	pkgs1, err := rc.PkgManager.InstalledPackages(ctx, image1.ID)
	if err != nil {
		return nil, fmt.Errorf("installed packages for %s: %w", image1.ID, err)
	}
	pkgs2, err := rc.PkgManager.InstalledPackages(ctx, image2.ID)
	if err != nil {
		return nil, fmt.Errorf("installed packages for %s: %w", image2.ID, err)
	}

	versions1 := make(map[string]string, len(pkgs1))
	names1 := mapset.NewSet[string]()
	for _, p := range pkgs1 {
		versions1[p.Name] = p.Version
		names1.Add(p.Name)
	}
	versions2 := make(map[string]string, len(pkgs2))
	names2 := mapset.NewSet[string]()
	for _, p := range pkgs2 {
		versions2[p.Name] = p.Version
		names2.Add(p.Name)
	}

	removedNames := sortedNames(names1.Difference(names2))
	addedNames := sortedNames(names2.Difference(names1))
	commonNames := sortedNames(names1.Intersect(names2))

	removed := make([]interface{}, 0, len(removedNames))
	for _, n := range removedNames {
		removed = append(removed, []interface{}{n, versions1[n]})
	}
	added := make([]interface{}, 0, len(addedNames))
	for _, n := range addedNames {
		added = append(added, []interface{}{n, versions2[n]})
	}
	modified := make([]interface{}, 0)
	for _, n := range commonNames {
		if versions1[n] != versions2[n] {
			modified = append(modified, []interface{}{n, versions1[n], versions2[n]})
		}
	}

	return containerdiff.ModuleResult{
		containerdiff.ResultKeyPackages: map[string]interface{}{
			"added":    added,
			"removed":  removed,
			"modified": modified,
		},
	}, nil
}

func sortedNames(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)
	return out
}
