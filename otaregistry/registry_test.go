package otaregistry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"fleetota/briefpg"
	"fleetota/otamsg"
)

const templateDBName = "otaregistry_template"
const templateDBArg = "TEMPLATE=" + templateDBName

var bpg *briefpg.BriefPG

func mkTemplate(ctx context.Context) error {
	uri, err := bpg.CreateDB(ctx, templateDBName, "")
	if err != nil {
		return err
	}
	db, err := Connect(uri)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.LoadSchema(ctx, "schema")
}

func newTestStore(t *testing.T) *Store {
	ctx := context.Background()
	if bpg == nil {
		bpg = briefpg.New(nil)
		require.NoError(t, bpg.Start(ctx))
		require.NoError(t, mkTemplate(ctx))
	}
	bpg.Logger = zap.NewStdLog(zaptest.NewLogger(t))

	dbName := fmt.Sprintf("otaregistry_test_%d", time.Now().UnixNano())
	uri, err := bpg.CreateDB(ctx, dbName, templateDBArg)
	require.NoError(t, err)

	db, err := Connect(uri)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestArtifactDedupAndLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require := require.New(t)

	info := otamsg.FileCreate{
		Bucket:       "files",
		ObjectName:   "test.txt_abc",
		RobotID:      "robot_a",
		DeployPath:   "/tmp/test.txt",
		RobotType:    "widget",
		RobotVersion: "1.0",
		FileMetadata: map[string]string{"k": "v"},
	}
	created, err := s.Create(ctx, info, "test.txt", "deadbeef", time.Now())
	require.NoError(err)
	require.Equal("test.txt_abc", created.ObjectName)
	require.True(created.Valid)

	fp := otamsg.Fingerprint{
		Bucket:        info.Bucket,
		SHA256:        "deadbeef",
		RobotID:       info.RobotID,
		DeployPath:    info.DeployPath,
		RobotType:     info.RobotType,
		RobotVersion:  info.RobotVersion,
		CanonicalMeta: otamsg.CanonicalMetadata(info.FileMetadata),
	}
	found, err := s.FindByFingerprint(ctx, fp, "")
	require.NoError(err)
	require.NotNil(found)
	require.Equal("test.txt_abc", found.ObjectName)

	list, err := s.Find(ctx, otamsg.ListFilter{Bucket: "files"})
	require.NoError(err)
	require.Len(list, 1)

	require.NoError(s.Delete(ctx, "files", "test.txt_abc"))
	list, err = s.Find(ctx, otamsg.ListFilter{Bucket: "files"})
	require.NoError(err)
	require.Len(list, 0)
}

func TestUpdatePreservesShaWhenOmitted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require := require.New(t)

	info := otamsg.FileCreate{Bucket: "files", ObjectName: "o1"}
	_, err := s.Create(ctx, info, "f1", "aaaa", time.Now())
	require.NoError(err)

	updated, err := s.Update(ctx, "files", "o1", otamsg.FileCreate{}, time.Now(), "", "", nil)
	require.NoError(err)
	require.Equal("aaaa", updated.SHA256)
	require.True(updated.Valid)
}

func TestDeployTargetCascadesOnArtifactDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require := require.New(t)

	_, err := s.Create(ctx, otamsg.FileCreate{Bucket: "files", ObjectName: "o2"}, "f2", "bbbb", time.Now())
	require.NoError(err)
	require.NoError(s.UpsertDeployTarget(ctx, "robot_a", "/tmp/x", "files", "o2"))

	targets, err := s.DeployTargetsByRobot(ctx, "robot_a")
	require.NoError(err)
	require.Len(targets, 1)

	require.NoError(s.Delete(ctx, "files", "o2"))
	targets, err = s.DeployTargetsByRobot(ctx, "robot_a")
	require.NoError(err)
	require.Len(targets, 0)
}

func TestJobLifecycleAndGetRunning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require := require.New(t)

	const jobID = "0b6f3c1e-5d2a-4c8e-9f47-3a1d2e5b7c90"
	msg := []byte(`{"job_id":"` + jobID + `","bucket":"files","object_name":"o3","deploy_path":"/tmp/y"}`)
	require.NoError(s.CreateJob(ctx, jobID, "robot_b", "/tmp/y", msg, time.Now()))

	running, err := s.GetRunning(ctx, "robot_b")
	require.NoError(err)
	require.Len(running, 1)
	require.Equal(otamsg.StatusPending, running[0].Status)

	require.NoError(s.UpdateStatus(ctx, jobID, otamsg.StatusCompleted, ""))
	// idempotent re-application
	require.NoError(s.UpdateStatus(ctx, jobID, otamsg.StatusCompleted, ""))

	job, err := s.GetJob(ctx, jobID)
	require.NoError(err)
	require.Equal(otamsg.StatusCompleted, job.Status)

	running, err = s.GetRunning(ctx, "robot_b")
	require.NoError(err)
	require.Len(running, 0)
}

func TestUpdateStatusUnknownJob(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateStatus(context.Background(), "does-not-exist", otamsg.StatusCompleted, "")
	require.Error(t, err)
}
