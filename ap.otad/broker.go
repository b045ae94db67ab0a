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
	"encoding/json"

	"go.uber.org/zap"

	"fleetota/otabroker"
	"fleetota/otamsg"
)

// subscribeDeployTopic hears deploy messages addressed to robotID. A job
// already known to jobs is a redelivery and is dropped silently rather
// than re-enqueued, since the worker may already be acting on it.
func subscribeDeployTopic(broker *otabroker.Broker, robotID string, queue chan<- otamsg.DeployMsg, jobs *jobMap, log *zap.Logger) error {
	return broker.Subscribe(broker.DeployTopic(robotID), func(_ string, payload []byte) {
		handleDeployPayload(payload, queue, jobs, log)
	})
}

func handleDeployPayload(payload []byte, queue chan<- otamsg.DeployMsg, jobs *jobMap, log *zap.Logger) {
	var msg otamsg.DeployMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn("malformed deploy message", zap.Error(err))
		return
	}
	if msg.JobID == "" || msg.Bucket == "" || msg.ObjectName == "" || msg.DeployPath == "" {
		log.Warn("malformed deploy message, missing field", zap.String("job_id", msg.JobID))
		return
	}
	if !jobs.insertIfAbsent(msg.JobID) {
		log.Debug("duplicate deploy message dropped", zap.String("job_id", msg.JobID))
		return
	}
	queue <- msg
}

// subscribeAckTopic hears job IDs the cloud has finished reconciling and
// evicts them from the local map. The payload is the bare job ID, not a
// JSON envelope, matching the ack pass's publish in the cloud controller.
func subscribeAckTopic(broker *otabroker.Broker, robotID string, jobs *jobMap, log *zap.Logger) error {
	return broker.Subscribe(broker.AckTopic(robotID), func(_ string, payload []byte) {
		handleAckPayload(payload, jobs, log)
	})
}

func handleAckPayload(payload []byte, jobs *jobMap, log *zap.Logger) {
	jobID := string(payload)
	if jobID == "" {
		log.Warn("empty ack payload")
		return
	}
	jobs.delete(jobID)
}
