/*
 * COPYRIGHT 2024 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package cloudctl orchestrates upload dedup, job creation, broker
// publish, and the state-message handler. It is framework-agnostic: the
// HTTP layer in cl.otad and the broker subscriber loop both call into it
// without either depending on the other.
package cloudctl

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/satori/uuid"
	"go.uber.org/zap"

	"fleetota/otaerr"
	"fleetota/otamsg"
)

// hashBlockSize is the read buffer used while streaming a file to compute
// its sha256; the block must be large enough that hashing doesn't become
// the bottleneck on typical upload sizes.
const hashBlockSize = 64 * 1024

// Registry is the subset of otaregistry.Store this package needs. It is
// declared here, narrow and consumer-side, so tests can substitute a fake
// without standing up a database — the same shape as the teacher's own
// DataStore interface over appliancedb.
type Registry interface {
	Get(ctx context.Context, bucket, objectName string) (otamsg.Artifact, error)
	FindByFingerprint(ctx context.Context, fp otamsg.Fingerprint, objectName string) (*otamsg.Artifact, error)
	Create(ctx context.Context, info otamsg.FileCreate, fileName, sha256Hex string, ts time.Time) (otamsg.Artifact, error)
	Update(ctx context.Context, bucket, objectName string, info otamsg.FileCreate, ts time.Time, fileName, sha256Hex string, valid *bool) (otamsg.Artifact, error)
	CreateJob(ctx context.Context, jobID, robotID, deployPath string, deployMsg []byte, ts time.Time) error
	UpdateStatus(ctx context.Context, jobID string, status otamsg.JobStatus, errMsg string) error
	GetRunning(ctx context.Context, robotID string) ([]otamsg.DeployJob, error)
	GetJob(ctx context.Context, jobID string) (otamsg.DeployJob, error)
	UpsertDeployTarget(ctx context.Context, robotID, deployPath, bucket, objectName string) error
}

// ObjectStore is the subset of otastore.Store this package needs.
type ObjectStore interface {
	Put(ctx context.Context, bucket, object string, r io.Reader) error
}

// Broker is the subset of otabroker.Broker this package needs.
type Broker interface {
	Publish(topic string, payload []byte) error
	DeployTopic(robotID string) string
	AckTopic(robotID string) string
}

// Controller wires the artifact registry, object store, and broker
// together to implement the deployment protocol.
type Controller struct {
	Registry Registry
	Store    ObjectStore
	Broker   Broker
	Log      *zap.Logger
}

// New builds a Controller from its three collaborators.
func New(registry Registry, store ObjectStore, broker Broker, log *zap.Logger) *Controller {
	return &Controller{Registry: registry, Store: store, Broker: broker, Log: log}
}

func failed(info otamsg.FileCreate, fileName, err string) otamsg.UploadResult {
	return otamsg.UploadResult{
		Bucket:     info.Bucket,
		ObjectName: info.ObjectName,
		RobotID:    info.RobotID,
		DeployPath: info.DeployPath,
		FileName:   fileName,
		State:      otamsg.FileFailed,
		ErrorMsg:   err,
	}
}

// Upload applies the dedup rule (SPEC_FULL.md §4.1) for a single file and
// returns its per-file outcome. It never returns a hard error: every
// failure mode is reported as a FAILED entry so a caller uploading many
// files in one request can aggregate every per-file result.
func (c *Controller) Upload(ctx context.Context, info otamsg.FileCreate, fileName string, body io.Reader, update bool) otamsg.UploadResult {
	if info.Bucket == "" {
		info.Bucket = otamsg.DefaultBucket
	}

	if !update && info.ObjectName != "" {
		if _, err := c.Registry.Get(ctx, info.Bucket, info.ObjectName); err == nil {
			return failed(info, fileName, fmt.Sprintf("%s/%s already exists", info.Bucket, info.ObjectName))
		} else if !otaerr.Is(err, otaerr.NotFound) {
			return failed(info, fileName, err.Error())
		}
	}

	sha256Hex, buf, err := hashAndBuffer(body)
	if err != nil {
		return failed(info, fileName, err.Error())
	}

	fp := otamsg.Fingerprint{
		Bucket:        info.Bucket,
		SHA256:        sha256Hex,
		RobotID:       info.RobotID,
		DeployPath:    info.DeployPath,
		RobotType:     info.RobotType,
		RobotVersion:  info.RobotVersion,
		CanonicalMeta: otamsg.CanonicalMetadata(info.FileMetadata),
	}
	existing, err := c.Registry.FindByFingerprint(ctx, fp, info.ObjectName)
	if err != nil {
		return failed(info, fileName, err.Error())
	}
	if existing != nil {
		return otamsg.UploadResult{
			Bucket:     existing.Bucket,
			ObjectName: existing.ObjectName,
			RobotID:    existing.RobotID,
			DeployPath: existing.DeployPath,
			FileName:   existing.FileName,
			State:      otamsg.FileUploaded,
		}
	}

	objectName := info.ObjectName
	if objectName == "" {
		objectName = synthesizeObjectName(fileName)
		info.ObjectName = objectName
	}

	if err := c.Store.Put(ctx, info.Bucket, objectName, buf); err != nil {
		return failed(info, fileName, err.Error())
	}

	ts := time.Now()
	if update {
		_, err = c.Registry.Update(ctx, info.Bucket, objectName, info, ts, fileName, sha256Hex, info.Valid)
	} else {
		_, err = c.Registry.Create(ctx, info, fileName, sha256Hex, ts)
	}
	if err != nil {
		return failed(info, fileName, err.Error())
	}

	return otamsg.UploadResult{
		Bucket:     info.Bucket,
		ObjectName: objectName,
		RobotID:    info.RobotID,
		DeployPath: info.DeployPath,
		FileName:   fileName,
		State:      otamsg.FileUploaded,
	}
}

func synthesizeObjectName(fileName string) string {
	id := uuid.NewV4().String()
	if fileName == "" {
		return id
	}
	return fileName + "_" + id
}

func hashAndBuffer(r io.Reader) (string, *bytes.Buffer, error) {
	h := sha256.New()
	buf := new(bytes.Buffer)
	w := io.MultiWriter(h, buf)
	if _, err := io.CopyBuffer(w, r, make([]byte, hashBlockSize)); err != nil {
		return "", nil, otaerr.Wrap(otaerr.StorageError, err, "hashing upload body")
	}
	return hex.EncodeToString(h.Sum(nil)), buf, nil
}

// Deploy runs Upload for each file and, when a file lands UPLOADED and
// names a robot_id, creates a job and publishes it.
func (c *Controller) Deploy(ctx context.Context, infos []otamsg.FileCreate, fileNames []string, bodies []io.Reader) ([]otamsg.UploadResult, error) {
	results := make([]otamsg.UploadResult, len(infos))
	for i, info := range infos {
		results[i] = c.Upload(ctx, info, fileNames[i], bodies[i], false)
		if results[i].State != otamsg.FileUploaded {
			continue
		}
		if info.RobotID == "" {
			results[i].State = otamsg.FileFailed
			results[i].ErrorMsg = "deploy requires robot_id"
			continue
		}
		jobID, err := c.createAndPublishJob(ctx, info.RobotID, results[i].ObjectName, results[i].Bucket, info.DeployPath)
		if err != nil {
			results[i].State = otamsg.FileFailed
			results[i].ErrorMsg = err.Error()
			continue
		}
		results[i].State = otamsg.FilePending
		results[i].JobID = jobID
	}
	return results, nil
}

// DeployFromArtifact creates and publishes a job for an already-registered
// artifact (the deploy_from_s3 operation), without re-uploading bytes.
func (c *Controller) DeployFromArtifact(ctx context.Context, bucket, objectName, robotID, deployPath string) (otamsg.UploadResult, error) {
	artifact, err := c.Registry.Get(ctx, bucket, objectName)
	if err != nil {
		return otamsg.UploadResult{}, err
	}
	if deployPath == "" {
		deployPath = artifact.DeployPath
	}
	if deployPath == "" {
		return otamsg.UploadResult{}, otaerr.New(otaerr.NotFound, "deploy_path required: artifact has none recorded")
	}

	jobID, err := c.createAndPublishJob(ctx, robotID, objectName, bucket, deployPath)
	if err != nil {
		return otamsg.UploadResult{}, err
	}
	return otamsg.UploadResult{
		Bucket:     bucket,
		ObjectName: objectName,
		RobotID:    robotID,
		DeployPath: deployPath,
		FileName:   artifact.FileName,
		State:      otamsg.FilePending,
		JobID:      jobID,
	}, nil
}

func (c *Controller) createAndPublishJob(ctx context.Context, robotID, objectName, bucket, deployPath string) (string, error) {
	jobID := uuid.NewV4().String()
	msg := otamsg.DeployMsg{JobID: jobID, Bucket: bucket, ObjectName: objectName, DeployPath: deployPath}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", otaerr.Wrap(otaerr.StorageError, err, "encoding deploy message")
	}
	if err := c.Registry.CreateJob(ctx, jobID, robotID, deployPath, payload, time.Now()); err != nil {
		return "", err
	}
	if err := c.Broker.Publish(c.Broker.DeployTopic(robotID), payload); err != nil {
		return "", err
	}
	return jobID, nil
}

// HandleStateMessage runs the four-pass state reconciliation
// (SPEC_FULL.md §4.4) for one robot's reported snapshot.
func (c *Controller) HandleStateMessage(ctx context.Context, robotID string, snapshot otamsg.StateSnapshot) error {
	if err := c.resendPass(ctx, robotID, snapshot); err != nil {
		return err
	}
	completed, err := c.statusPass(ctx, robotID, snapshot)
	if err != nil {
		return err
	}
	if err := c.ackPass(ctx, robotID, snapshot); err != nil {
		return err
	}
	return c.targetPass(ctx, completed)
}

func (c *Controller) resendPass(ctx context.Context, robotID string, snapshot otamsg.StateSnapshot) error {
	running, err := c.Registry.GetRunning(ctx, robotID)
	if err != nil {
		return err
	}
	for _, job := range running {
		if _, reported := snapshot[job.JobID]; reported {
			continue
		}
		if err := c.Broker.Publish(c.Broker.DeployTopic(robotID), job.DeployMsg); err != nil {
			c.Log.Warn("resend failed", zap.String("job_id", job.JobID), zap.Error(err))
		}
	}
	return nil
}

func (c *Controller) statusPass(ctx context.Context, robotID string, snapshot otamsg.StateSnapshot) ([]string, error) {
	var completed []string
	for jobID, entry := range snapshot {
		err := c.Registry.UpdateStatus(ctx, jobID, entry.Status, entry.ErrorMsg)
		if otaerr.Is(err, otaerr.UnknownJob) {
			c.Log.Warn("unknown job in state report", zap.String("robot_id", robotID), zap.String("job_id", jobID))
			continue
		}
		if err != nil {
			return completed, err
		}
		if entry.Status == otamsg.StatusCompleted {
			completed = append(completed, jobID)
		}
	}
	return completed, nil
}

func (c *Controller) ackPass(ctx context.Context, robotID string, snapshot otamsg.StateSnapshot) error {
	for jobID, entry := range snapshot {
		if !entry.Status.Terminal() {
			continue
		}
		if err := c.Broker.Publish(c.Broker.AckTopic(robotID), []byte(jobID)); err != nil {
			c.Log.Warn("ack publish failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	return nil
}

func (c *Controller) targetPass(ctx context.Context, completedJobIDs []string) error {
	for _, jobID := range completedJobIDs {
		job, err := c.Registry.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		msg, err := job.Msg()
		if err != nil {
			return otaerr.Wrap(otaerr.StorageError, err, "decoding completed job's deploy message")
		}
		if err := c.Registry.UpsertDeployTarget(ctx, job.RobotID, job.DeployPath, msg.Bucket, msg.ObjectName); err != nil {
			return err
		}
	}
	return nil
}
