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
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fleetota/otamsg"
)

func TestHandleDeployPayloadEnqueues(t *testing.T) {
	jobs := newJobMap()
	queue := make(chan otamsg.DeployMsg, 1)
	payload, _ := json.Marshal(otamsg.DeployMsg{JobID: "j1", Bucket: "files", ObjectName: "o1", DeployPath: "/tmp/o1"})

	handleDeployPayload(payload, queue, jobs, zaptest.NewLogger(t))

	require.True(t, jobs.insertIfAbsent("j1") == false) // already present
	msg := <-queue
	require.Equal(t, "j1", msg.JobID)
}

func TestHandleDeployPayloadDropsDuplicate(t *testing.T) {
	jobs := newJobMap()
	queue := make(chan otamsg.DeployMsg, 2)
	payload, _ := json.Marshal(otamsg.DeployMsg{JobID: "j1", Bucket: "files", ObjectName: "o1", DeployPath: "/tmp/o1"})

	handleDeployPayload(payload, queue, jobs, zaptest.NewLogger(t))
	handleDeployPayload(payload, queue, jobs, zaptest.NewLogger(t))

	require.Len(t, queue, 1)
}

func TestHandleDeployPayloadMalformed(t *testing.T) {
	jobs := newJobMap()
	queue := make(chan otamsg.DeployMsg, 1)

	handleDeployPayload([]byte("not json"), queue, jobs, zaptest.NewLogger(t))

	require.Len(t, queue, 0)
}

func TestHandleAckPayloadDeletes(t *testing.T) {
	jobs := newJobMap()
	jobs.insertIfAbsent("j1")

	handleAckPayload([]byte("j1"), jobs, zaptest.NewLogger(t))

	require.NotContains(t, jobs.snapshot(), "j1")
}

func TestHandleAckPayloadEmpty(t *testing.T) {
	jobs := newJobMap()
	handleAckPayload([]byte{}, jobs, zaptest.NewLogger(t)) // must not panic
	require.Empty(t, jobs.snapshot())
}
