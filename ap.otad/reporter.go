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
	"time"

	"go.uber.org/zap"
)

// statePublisher is the subset of otabroker.Broker the state reporter
// needs, narrowed the same way cloudctl narrows its own Broker.
type statePublisher interface {
	Publish(topic string, payload []byte) error
	StateTopic(robotID string) string
}

// reportLoop publishes jobs' snapshot on the state topic every interval,
// until doneChan is signaled. It follows ap.updated's ticker/select
// pattern for background loops.
func reportLoop(wg *sync.WaitGroup, doneChan chan bool, broker statePublisher, robotID string, jobs *jobMap, interval time.Duration, log *zap.Logger) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	topic := broker.StateTopic(robotID)
	for {
		select {
		case <-ticker.C:
			payload, err := json.Marshal(jobs.snapshot())
			if err != nil {
				log.Error("state snapshot marshal failed", zap.Error(err))
				continue
			}
			if err := broker.Publish(topic, payload); err != nil {
				log.Warn("state publish failed", zap.Error(err))
			}
		case <-doneChan:
			return
		}
	}
}
