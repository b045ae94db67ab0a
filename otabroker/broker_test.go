package otabroker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopicExpansion(t *testing.T) {
	b := &Broker{pattern: DefaultPattern}
	require.Equal(t, "ota/r1/deploy", b.DeployTopic("r1"))
	require.Equal(t, "ota/r1/ack", b.AckTopic("r1"))
	require.Equal(t, "ota/r1/state", b.StateTopic("r1"))
	require.Equal(t, "ota/+/state", b.StateTopicFilter())
}

func TestTopicExpansionCustomPattern(t *testing.T) {
	b := &Broker{pattern: "fleet/<operation>/<robot_id>"}
	require.Equal(t, "fleet/deploy/r9", b.DeployTopic("r9"))
}

func TestValidatePatternRejectsMissingTokens(t *testing.T) {
	require.Error(t, validatePattern("ota/<robot_id>/fixed"))
	require.Error(t, validatePattern("ota/fixed/<operation>"))
	require.NoError(t, validatePattern(DefaultPattern))
}

func TestRobotIDFromStateTopic(t *testing.T) {
	b := &Broker{pattern: DefaultPattern}
	id, ok := b.RobotIDFromStateTopic("ota/r1/state")
	require.True(t, ok)
	require.Equal(t, "r1", id)

	_, ok = b.RobotIDFromStateTopic("ota/r1/deploy")
	require.False(t, ok, "wrong operation suffix must not match")

	_, ok = b.RobotIDFromStateTopic("ota//state")
	require.False(t, ok, "empty robot id must not match")
}

func TestRobotIDFromStateTopicCustomPattern(t *testing.T) {
	b := &Broker{pattern: "fleet/<operation>/<robot_id>"}
	id, ok := b.RobotIDFromStateTopic("fleet/state/r9")
	require.True(t, ok)
	require.Equal(t, "r9", id)
}
