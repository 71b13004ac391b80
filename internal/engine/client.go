// Package engine abstracts the operations containerdiff needs from a
// running container engine: resolving a reference to a canonical digest,
// streaming an image's export archive, fetching build history and raw
// inspect metadata, and running a throwaway container to capture a
// command's stdout. It is grounded on IBM-binprint's
// scanner/docker.go, which talks to the same daemon through
// github.com/docker/docker/client directly rather than shelling out to
// the docker(1) binary.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	digest "github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
)

// mountTarget is the fixed in-container path the scratch directory used
// by RunCapture is bind-mounted at.
const mountTarget = "/mnt/containerdiff-volume"

// HistoryEntry is one line of an image's build history, oldest first is
// NOT guaranteed here: History returns the engine's native order
// (newest-first, matching `docker history`); callers that need
// chronological order reverse it themselves (see the history diff
// module).
type HistoryEntry struct {
	CreatedBy string
	Created   int64
}

// Client is the capability surface the rest of containerdiff consumes.
// It exists so that diff modules and the extractor depend on an
// interface, not a concrete Docker SDK client, which keeps them testable
// with a fake.
type Client interface {
	// Resolve returns the canonical 64-hex content ID for ref, or an
	// error wrapping ErrNotFound if the engine has no such image.
	Resolve(ctx context.Context, ref string) (string, error)
	// PullArchive streams the engine's `docker save`-equivalent export
	// of the image with the given canonical ID.
	PullArchive(ctx context.Context, id string) (io.ReadCloser, error)
	// History returns the image's build history, oldest-last (the
	// engine's native order).
	History(ctx context.Context, id string) ([]HistoryEntry, error)
	// Inspect returns the engine's raw metadata dump for id, treated as
	// an opaque JSON object by callers.
	Inspect(ctx context.Context, id string) (map[string]interface{}, error)
	// RunCapture creates a container from id, runs shellCommand inside
	// it via `/bin/sh -c`, and returns whatever it wrote to stdout. The
	// command is executed under the caller's own uid so the bind-mount
	// scratch file is readable back on the host. shellCommand must be a
	// trusted, caller-constructed string: RunCapture is the system's
	// trust boundary and never accepts unescaped user input.
	RunCapture(ctx context.Context, id string, shellCommand string) ([]byte, error)
}

// ErrNotFound is wrapped by Resolve when the engine has no image
// matching the given reference.
var ErrNotFound = fmt.Errorf("image not found")

type dockerClient struct {
	cli *client.Client
	log logrus.FieldLogger
}

// New dials the engine at host (empty uses the client library's default,
// normally the DOCKER_HOST environment or the local Unix socket).
func New(host string, log logrus.FieldLogger) (Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to engine: %w", err)
	}
	return &dockerClient{cli: cli, log: log.WithField("component", "engine")}, nil
}

func (d *dockerClient) Resolve(ctx context.Context, ref string) (string, error) {
	inspect, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", fmt.Errorf("resolving %q: %w", ref, ErrNotFound)
		}
		return "", fmt.Errorf("resolving %q: %w", ref, err)
	}
	return canonicalID(inspect.ID), nil
}

// canonicalID validates the engine-reported image ID as a well-formed
// digest and strips its "sha256:" algorithm prefix, leaving the bare
// 64-hex digest used everywhere else in containerdiff as the image's
// identity. An ID the engine itself just returned should always parse;
// a malformed one is treated as the engine's own bug and passed through
// unprefixed rather than failing the caller outright.
func canonicalID(engineID string) string {
	if d, err := digest.Parse(engineID); err == nil {
		return d.Encoded()
	}
	return strings.TrimPrefix(engineID, "sha256:")
}

func (d *dockerClient) PullArchive(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := d.cli.ImageSave(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("exporting image %s: %w", id, err)
	}
	return rc, nil
}

func (d *dockerClient) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	items, err := d.cli.ImageHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", id, err)
	}
	entries := make([]HistoryEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, HistoryEntry{CreatedBy: item.CreatedBy, Created: item.Created})
	}
	return entries, nil
}

func (d *dockerClient) Inspect(ctx context.Context, id string) (map[string]interface{}, error) {
	_, raw, err := d.cli.ImageInspectWithRaw(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", id, err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parsing inspect output for %s: %w", id, err)
	}
	return out, nil
}

func (d *dockerClient) RunCapture(ctx context.Context, id string, shellCommand string) ([]byte, error) {
	scratch, err := os.MkdirTemp("", "containerdiff-capture-"+uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("creating capture scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	const outputFile = "output"
	prologue := fmt.Sprintf(
		"set -m; touch %[1]s/%[2]s; chmod a+rw %[1]s/%[2]s; exec 1>%[1]s/%[2]s; %[3]s",
		mountTarget, outputFile, shellCommand,
	)

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image: id,
		Cmd:   []string{"/bin/sh", "-c", prologue},
		User:  fmt.Sprintf("%d", os.Geteuid()),
	}, &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: scratch,
			Target: mountTarget,
		}},
	}, nil, nil, "containerdiff-"+uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("creating capture container from %s: %w", id, err)
	}
	containerID := resp.ID

	defer func() {
		if err := d.cli.ContainerStop(context.Background(), containerID, container.StopOptions{}); err != nil {
			d.log.WithError(err).Debug("stopping capture container")
		}
		if err := d.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true}); err != nil {
			d.log.WithError(err).Debug("removing capture container")
		}
	}()

	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting capture container: %w", err)
	}

	statusCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("waiting for capture container: %w", err)
		}
	case <-statusCh:
	}

	if logs, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true}); err == nil {
		buf, _ := io.ReadAll(logs)
		logs.Close()
		if len(buf) > 0 {
			d.log.WithField("container", containerID).Debug(string(buf))
		}
	}

	data, err := os.ReadFile(fmt.Sprintf("%s/%s", scratch, outputFile))
	if err != nil {
		// A capture that produced no output (no package database, empty
		// command) is reported as empty rather than as an error so
		// downstream parsers treat it as "nothing found".
		d.log.WithError(err).Warn("reading capture output")
		return nil, nil
	}
	return data, nil
}
