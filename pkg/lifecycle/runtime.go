// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Runtime answers container queries and performs the plain container
// operations, templated commands go through a Runner instead
type Runtime interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string) error
	// Inspect describes the named container, a missing container is not an error
	Inspect(ctx context.Context, name string) (ContainerInfo, error)
	Start(ctx context.Context, name string) error
}

// ContainerInfo is what Inspect tells about a container
type ContainerInfo struct {
	Exists    bool
	Running   bool
	StartedAt time.Time
}

// DockerRuntime is a Runtime on the Docker Engine API
type DockerRuntime struct {
	*client.Client
}

// NewDockerRuntime connects to the docker daemon, an empty host falls back
// to the environment (DOCKER_HOST) and then the local socket
func NewDockerRuntime(host string) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &DockerRuntime{cli}, nil
}

// Ping checks the daemon is reachable
func (d *DockerRuntime) Ping(ctx context.Context) error {
	header, err := d.Client.Ping(ctx)
	if err != nil {
		return errors.Annotate(err, "ping docker daemon")
	}
	zap.L().Debug("docker cli", zap.String("api version", header.APIVersion))
	return nil
}

// ImageExists implements Runtime
func (d *DockerRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	images, err := d.ImageList(ctx, image.ListOptions{Filters: filters.NewArgs(filters.Arg("reference", ref))})
	if err != nil {
		return false, errors.Trace(err)
	}
	return len(images) > 0, nil
}

// PullImage implements Runtime
func (d *DockerRuntime) PullImage(ctx context.Context, ref string) error {
	reader, err := d.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return errors.Trace(err)
	}
	defer reader.Close()
	var b bytes.Buffer
	if _, err := io.Copy(&b, reader); err != nil {
		return errors.Annotatef(err, "pull image %s", ref)
	}
	zap.L().Debug("pull image", zap.String("image", ref), zap.String("result", b.String()))
	return nil
}

// Inspect implements Runtime
func (d *DockerRuntime) Inspect(ctx context.Context, name string) (ContainerInfo, error) {
	resp, err := d.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ContainerInfo{}, nil
		}
		return ContainerInfo{}, errors.Trace(err)
	}
	info := ContainerInfo{Exists: true}
	if resp.ContainerJSONBase == nil || resp.State == nil {
		return info, nil
	}
	info.Running = resp.State.Running
	if t, err := time.Parse(time.RFC3339Nano, resp.State.StartedAt); err == nil {
		info.StartedAt = t
	}
	return info, nil
}

// Start implements Runtime
func (d *DockerRuntime) Start(ctx context.Context, name string) error {
	return errors.Annotatef(d.ContainerStart(ctx, name, container.StartOptions{}), "start container %s", name)
}
