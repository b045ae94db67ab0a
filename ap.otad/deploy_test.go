/*
 * COPYRIGHT 2024 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fleetota/otamsg"
)

type fakeFetcher struct {
	err error
}

func (f *fakeFetcher) Get(ctx context.Context, bucket, object, localPath string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(localPath, []byte("payload"), 0o644)
}

func TestApplyDeploySuccess(t *testing.T) {
	jobs := newJobMap()
	jobs.insertIfAbsent("j1")

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "artifact.bin")
	msg := otamsg.DeployMsg{JobID: "j1", Bucket: "files", ObjectName: "o1", DeployPath: path}

	applyDeploy(context.Background(), msg, jobs, &fakeFetcher{}, zaptest.NewLogger(t))

	snap := jobs.snapshot()
	require.Equal(t, otamsg.StatusCompleted, snap["j1"].Status)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "payload", string(body))
}

func TestApplyDeployDownloadFailure(t *testing.T) {
	jobs := newJobMap()
	jobs.insertIfAbsent("j1")

	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	msg := otamsg.DeployMsg{JobID: "j1", Bucket: "files", ObjectName: "o1", DeployPath: path}

	applyDeploy(context.Background(), msg, jobs, &fakeFetcher{err: os.ErrNotExist}, zaptest.NewLogger(t))

	snap := jobs.snapshot()
	require.Equal(t, otamsg.StatusFailed, snap["j1"].Status)
	require.NotEmpty(t, snap["j1"].ErrorMsg)
}
