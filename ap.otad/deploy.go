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
	"sync"

	"go.uber.org/zap"

	"fleetota/otamsg"
)

// deployQueueDepth bounds how many received-but-not-yet-handled deploy
// messages the broker callback can enqueue before it blocks. A robot
// receives jobs one at a time in practice; this is generous headroom,
// not a throughput target.
const deployQueueDepth = 32

// artifactFetcher is the subset of otastore.Store the deploy worker
// needs, narrowed the same way cloudctl narrows its own ObjectStore.
type artifactFetcher interface {
	Get(ctx context.Context, bucket, object, localPath string) error
}

// deployWorker pulls deploy messages off queue and applies them one at a
// time: create the target directory, download the artifact, and record
// the outcome in jobs. There is no retry; a failed download leaves the
// job FAILED until the cloud acks it, and the same job is not deployed
// again. It runs until doneChan is
// signaled, matching reportLoop's ticker/select shutdown shape.
func deployWorker(ctx context.Context, wg *sync.WaitGroup, doneChan chan bool, queue <-chan otamsg.DeployMsg, jobs *jobMap, store artifactFetcher, log *zap.Logger) {
	defer wg.Done()
	for {
		select {
		case msg := <-queue:
			applyDeploy(ctx, msg, jobs, store, log)
		case <-doneChan:
			return
		}
	}
}

func applyDeploy(ctx context.Context, msg otamsg.DeployMsg, jobs *jobMap, store artifactFetcher, log *zap.Logger) {
	dir := filepath.Dir(msg.DeployPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error("deploy mkdir failed", zap.String("job_id", msg.JobID), zap.Error(err))
		jobs.setStatus(msg.JobID, otamsg.StatusFailed, err.Error())
		return
	}

	if err := store.Get(ctx, msg.Bucket, msg.ObjectName, msg.DeployPath); err != nil {
		log.Error("deploy download failed", zap.String("job_id", msg.JobID), zap.Error(err))
		jobs.setStatus(msg.JobID, otamsg.StatusFailed, err.Error())
		return
	}

	log.Info("deploy applied", zap.String("job_id", msg.JobID), zap.String("deploy_path", msg.DeployPath))
	jobs.setStatus(msg.JobID, otamsg.StatusCompleted, "")
}
