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
	"testing"

	"github.com/stretchr/testify/require"

	"fleetota/otamsg"
)

func TestJobMapInsertIfAbsent(t *testing.T) {
	m := newJobMap()
	require.True(t, m.insertIfAbsent("j1"))
	require.False(t, m.insertIfAbsent("j1"))

	snap := m.snapshot()
	require.Equal(t, otamsg.StatusReceived, snap["j1"].Status)
}

func TestJobMapSetStatus(t *testing.T) {
	m := newJobMap()
	m.insertIfAbsent("j1")
	m.setStatus("j1", otamsg.StatusFailed, "disk full")

	snap := m.snapshot()
	require.Equal(t, otamsg.StatusFailed, snap["j1"].Status)
	require.Equal(t, "disk full", snap["j1"].ErrorMsg)
}

func TestJobMapDelete(t *testing.T) {
	m := newJobMap()
	m.insertIfAbsent("j1")
	m.delete("j1")

	snap := m.snapshot()
	require.NotContains(t, snap, "j1")

	m.delete("j2") // no-op, must not panic
}

func TestJobMapSnapshotIsCopy(t *testing.T) {
	m := newJobMap()
	m.insertIfAbsent("j1")

	snap := m.snapshot()
	snap["j1"] = otamsg.StateEntry{Status: otamsg.StatusCompleted}

	second := m.snapshot()
	require.Equal(t, otamsg.StatusReceived, second["j1"].Status)
}
