// Package orchestrator drives a complete comparison: resolving both
// images in parallel, extracting them, running every registered diff
// module, applying the output filter, and merging everything into one
// result document.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/omron93/containerdiff/internal/containerdiff"
	"github.com/omron93/containerdiff/internal/engine"
	"github.com/omron93/containerdiff/internal/extractor"
	"github.com/omron93/containerdiff/internal/filter"
	"github.com/omron93/containerdiff/internal/modules"
	"github.com/omron93/containerdiff/internal/pkgmanager"
)

// Options configures a single orchestrator run: fixed once at startup,
// never mutated, and threaded explicitly everywhere it's needed.
type Options struct {
	Image1Ref string
	Image2Ref string

	EngineHost string
	Silent     bool

	// Filter, when non-nil, is applied per matching ResultKey to each
	// module's fragment before merging.
	Filter filter.Config

	// PreserveRoot, when non-empty, keeps both extraction trees under
	// this directory after a successful run and prints their paths.
	// Left empty, extraction dirs always use ExtractionRoot and are
	// always removed.
	PreserveRoot string

	// ExtractionRoot is the parent directory new extraction dirs are
	// created under. Defaults to os.TempDir() when empty.
	ExtractionRoot string

	Log logrus.FieldLogger
}

// Result is the final, filtered, merged document ready for
// serialization.
type Result map[string]interface{}

// Run performs one full comparison, dialing the real container engine
// at opts.EngineHost.
func Run(ctx context.Context, opts Options) (Result, error) {
	eng, err := engine.New(opts.EngineHost, opts.Log)
	if err != nil {
		return nil, fmt.Errorf("connecting to engine: %w", err)
	}
	return RunWithEngine(ctx, opts, eng)
}

// RunWithEngine is Run with the engine client supplied by the caller,
// so tests can exercise the extraction/module/filter/cleanup pipeline
// against a fake without a running container engine.
func RunWithEngine(ctx context.Context, opts Options, eng engine.Client) (result Result, err error) {
	log := opts.Log.WithField("component", "orchestrator")
	pm := pkgmanager.NewRPM(eng, opts.Log)

	root := opts.ExtractionRoot
	preserve := opts.PreserveRoot != ""
	if preserve {
		root = opts.PreserveRoot
	}
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating extraction root %s: %w", root, err)
	}

	dir1 := filepath.Join(root, "containerdiff-"+uuid.NewString())
	dir2 := filepath.Join(root, "containerdiff-"+uuid.NewString())

	// Temp directories are removed on every exit path unless the run
	// both succeeded and preservation was requested: any error removes
	// them regardless of --preserve.
	defer func() {
		if err != nil {
			os.RemoveAll(dir1)
			os.RemoveAll(dir2)
			return
		}
		if preserve {
			fmt.Println(dir1)
			fmt.Println(dir2)
			return
		}
		os.RemoveAll(dir1)
		os.RemoveAll(dir2)
	}()

	image1, image2, err := extractBoth(ctx, eng, opts, dir1, dir2, log)
	if err != nil {
		return nil, err
	}

	rc := &modules.Context{
		Context: containerdiff.Context{
			EngineHost: opts.EngineHost,
			Silent:     opts.Silent,
			Log:        opts.Log,
		},
		Engine:     eng,
		PkgManager: pm,
	}

	fragments, runErr := modules.Run(ctx, rc, image1, image2)
	if runErr != nil {
		err = runErr
		return nil, err
	}

	merged := make(Result, len(fragments))
	for key, value := range fragments {
		if opts.Filter != nil {
			if rule, ok := opts.Filter[key]; ok {
				value = filter.Apply(value, rule, opts.Log)
			}
		}
		merged[string(key)] = value
	}

	result = merged
	return result, nil
}

// extractionOutcome carries one parallel extraction's result back over a
// channel.
type extractionOutcome struct {
	image *containerdiff.ExtractedImage
	err   error
}

// extractBoth extracts both images concurrently: the two extractions
// are independent of each other, so there's no reason to serialize them.
func extractBoth(ctx context.Context, eng engine.Client, opts Options, dir1, dir2 string, log logrus.FieldLogger) (*containerdiff.ExtractedImage, *containerdiff.ExtractedImage, error) {
	extractOpts := extractor.Options{HonorWhiteouts: true}

	ch1 := make(chan extractionOutcome, 1)
	ch2 := make(chan extractionOutcome, 1)

	go func() {
		img, err := extractor.Extract(ctx, eng, opts.Image1Ref, dir1, extractOpts, log)
		ch1 <- extractionOutcome{img, err}
	}()
	go func() {
		img, err := extractor.Extract(ctx, eng, opts.Image2Ref, dir2, extractOpts, log)
		ch2 <- extractionOutcome{img, err}
	}()

	r1 := <-ch1
	r2 := <-ch2

	if r1.err != nil && r2.err != nil {
		return nil, nil, fmt.Errorf("extracting %s: %w; extracting %s: %v", opts.Image1Ref, r1.err, opts.Image2Ref, r2.err)
	}
	if r1.err != nil {
		return nil, nil, fmt.Errorf("extracting %s: %w", opts.Image1Ref, r1.err)
	}
	if r2.err != nil {
		return nil, nil, fmt.Errorf("extracting %s: %w", opts.Image2Ref, r2.err)
	}
	return r1.image, r2.image, nil
}
