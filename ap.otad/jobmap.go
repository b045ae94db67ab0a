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
	"sync"

	"fleetota/otamsg"
)

// jobMap is the daemon's in-memory view of every job it has heard about
// but not yet had acked away. It is shared by the broker callback, the
// deploy worker, and the state reporter loop, each touching it only
// through these methods, under a single mutex.
type jobMap struct {
	mu   sync.Mutex
	jobs map[string]otamsg.StateEntry
}

func newJobMap() *jobMap {
	return &jobMap{jobs: make(map[string]otamsg.StateEntry)}
}

// insertIfAbsent records jobID as RECEIVED and reports true, or reports
// false without changing anything if jobID is already known.
func (m *jobMap) insertIfAbsent(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; ok {
		return false
	}
	m.jobs[jobID] = otamsg.StateEntry{Status: otamsg.StatusReceived}
	return true
}

// setStatus overwrites jobID's status, e.g. on deploy-worker completion.
func (m *jobMap) setStatus(jobID string, status otamsg.JobStatus, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID] = otamsg.StateEntry{Status: status, ErrorMsg: errMsg}
}

// delete evicts jobID, e.g. on ack receipt. It is a no-op if jobID is
// not present.
func (m *jobMap) delete(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
}

// snapshot returns a point-in-time copy of the whole map, safe to
// marshal and publish outside the lock.
func (m *jobMap) snapshot() otamsg.StateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(otamsg.StateSnapshot, len(m.jobs))
	for id, entry := range m.jobs {
		snap[id] = entry
	}
	return snap
}
