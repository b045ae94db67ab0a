package otamsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalMetadataSortsKeys(t *testing.T) {
	a := CanonicalMetadata(map[string]string{"b": "2", "a": "1"})
	b := CanonicalMetadata(map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":"1","b":"2"}`, a)
}

func TestCanonicalMetadataEmptyAndNilMatch(t *testing.T) {
	assert.Equal(t, CanonicalMetadata(nil), CanonicalMetadata(map[string]string{}))
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusReceived.Terminal())
}

func TestDeployJobMsgRoundTrip(t *testing.T) {
	job := DeployJob{DeployMsg: []byte(`{"job_id":"abc","bucket":"files","object_name":"o","deploy_path":"/tmp/x"}`)}
	m, err := job.Msg()
	assert.NoError(t, err)
	assert.Equal(t, "abc", m.JobID)
	assert.Equal(t, "/tmp/x", m.DeployPath)
}
