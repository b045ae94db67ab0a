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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fleetota/otamsg"
)

type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, payload)
	return nil
}

func (f *fakePublisher) StateTopic(robotID string) string { return "state/" + robotID }

func TestReportLoopPublishesSnapshot(t *testing.T) {
	jobs := newJobMap()
	jobs.insertIfAbsent("j1")
	pub := &fakePublisher{}

	var wg sync.WaitGroup
	done := make(chan bool)
	wg.Add(1)
	go reportLoop(&wg, done, pub, "r1", jobs, 5*time.Millisecond, zaptest.NewLogger(t))

	time.Sleep(30 * time.Millisecond)
	done <- true
	wg.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.NotEmpty(t, pub.published)

	var snap otamsg.StateSnapshot
	require.NoError(t, json.Unmarshal(pub.published[0], &snap))
	require.Contains(t, snap, "j1")
}
