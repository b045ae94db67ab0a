/*
 * COPYRIGHT 2024 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package otamsg holds the wire types shared between the cloud service and
// the robot daemon: the JSON payloads that cross the HTTP API and the
// broker, and the domain rows built from them.
package otamsg

import (
	"encoding/json"
	"time"

	"github.com/guregu/null"
)

// JobStatus is one of the DeployJob lifecycle states.
type JobStatus string

// The job lifecycle states, in order of occurrence.
const (
	StatusPending   JobStatus = "PENDING"
	StatusReceived  JobStatus = "RECEIVED"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether s is one of the job's terminal states.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// UploadState is the per-file outcome reported by the upload/deploy
// endpoints.
type UploadState string

// The per-file outcomes an upload or deploy call can report.
const (
	FileUploaded UploadState = "UPLOADED"
	FilePending  UploadState = "PENDING"
	FileFailed   UploadState = "FAILED"
)

// FileCreate is the per-file metadata an upload or deploy request supplies
// alongside the file's bytes.
type FileCreate struct {
	Bucket       string            `json:"bucket"`
	ObjectName   string            `json:"object_name,omitempty"`
	RobotID      string            `json:"robot_id,omitempty"`
	DeployPath   string            `json:"deploy_path,omitempty"`
	RobotType    string            `json:"robot_type,omitempty"`
	RobotVersion string            `json:"robot_version,omitempty"`
	FileMetadata map[string]string `json:"file_metadata,omitempty"`
	Valid        *bool             `json:"valid,omitempty"`
}

// DefaultBucket is used whenever a FileCreate omits bucket.
const DefaultBucket = "files"

// FileInfoList is the shape of the single JSON part carried in the
// multipart upload/deploy request bodies.
type FileInfoList struct {
	FileList []FileCreate `json:"file_list"`
}

// Artifact is the persisted row behind an uploaded file.
type Artifact struct {
	Bucket       string            `json:"bucket" db:"bucket"`
	ObjectName   string            `json:"object_name" db:"object_name"`
	FileName     string            `json:"file_name" db:"file_name"`
	Timestamp    time.Time         `json:"timestamp" db:"timestamp"`
	SHA256       string            `json:"sha256" db:"sha256"`
	RobotID      string            `json:"robot_id" db:"robot_id"`
	RobotType    string            `json:"robot_type" db:"robot_type"`
	RobotVersion string            `json:"robot_version" db:"robot_version"`
	DeployPath   string            `json:"deploy_path" db:"deploy_path"`
	FileMetadata map[string]string `json:"file_metadata" db:"file_metadata"`
	Valid        bool              `json:"valid" db:"valid"`
}

// UploadResult is the per-file entry returned by /file/upload and
// /file/deploy.
type UploadResult struct {
	Bucket     string      `json:"bucket"`
	ObjectName string      `json:"object_name,omitempty"`
	RobotID    string      `json:"robot_id,omitempty"`
	DeployPath string      `json:"deploy_path,omitempty"`
	FileName   string      `json:"filename"`
	State      UploadState `json:"state"`
	JobID      string      `json:"job_id,omitempty"`
	ErrorMsg   string      `json:"error_msg,omitempty"`
}

// DeployMsg is the payload published on the deploy topic, and the one
// preserved verbatim in DeployJob.DeployMsg for resend.
type DeployMsg struct {
	JobID      string `json:"job_id"`
	Bucket     string `json:"bucket"`
	ObjectName string `json:"object_name"`
	DeployPath string `json:"deploy_path"`
}

// StateEntry is one job's status as reported in a daemon state snapshot.
// Unlike DeployJob.ErrorMsg, this is a plain string: it is wire JSON from
// the daemon, not a scanned DB column, and omitempty only works on plain
// zero values.
type StateEntry struct {
	Status   JobStatus `json:"status"`
	ErrorMsg string    `json:"error_msg,omitempty"`
}

// StateSnapshot is the full payload published on the state topic: a map
// from job_id to that job's last-known status.
type StateSnapshot map[string]StateEntry

// DeployJob is the persisted row tracking one deploy request through its
// lifecycle. ErrorMsg is stored NULL until a FAILED state message sets it,
// and is scanned directly via null.String's sql.Scanner implementation.
type DeployJob struct {
	JobID      string      `json:"job_id" db:"job_id"`
	Status     JobStatus   `json:"status" db:"status"`
	RobotID    string      `json:"robot_id" db:"robot_id"`
	DeployPath string      `json:"deploy_path" db:"deploy_path"`
	DeployMsg  []byte      `json:"-" db:"deploy_msg"`
	Timestamp  time.Time   `json:"timestamp" db:"timestamp"`
	ErrorMsg   null.String `json:"error_msg,omitempty" db:"error_msg"`
}

// Msg unmarshals the stored deploy_msg column back into a DeployMsg.
func (j *DeployJob) Msg() (DeployMsg, error) {
	var m DeployMsg
	err := json.Unmarshal(j.DeployMsg, &m)
	return m, err
}

// DeployTarget is the authoritative "what is installed where" row for a
// robot.
type DeployTarget struct {
	RobotID    string `json:"robot_id" db:"robot_id"`
	DeployPath string `json:"deploy_path" db:"deploy_path"`
	Bucket     string `json:"bucket" db:"bucket"`
	ObjectName string `json:"object_name" db:"object_name"`
}

// Fingerprint is the tuple used to dedup uploaded artifacts: identical
// bytes plus identical placement/metadata is the same artifact.
type Fingerprint struct {
	Bucket        string
	SHA256        string
	RobotID       string
	DeployPath    string
	RobotType     string
	RobotVersion  string
	CanonicalMeta string
}

// CanonicalMetadata produces a deterministic encoding of a file_metadata
// map for use in a Fingerprint. encoding/json already sorts map keys when
// marshaling, which is sufficient determinism here; nil and empty maps
// canonicalize to the same string so a caller who omits file_metadata
// matches one who supplies {}.
func CanonicalMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return "{}"
	}
	b, err := json.Marshal(meta)
	if err != nil {
		// meta is map[string]string; Marshal cannot fail on it.
		panic(err)
	}
	return string(b)
}

// ListFilter collects the query parameters accepted by GET /file/list.
type ListFilter struct {
	Bucket       string
	ObjectName   string
	RobotID      string
	RobotType    string
	DeployPath   string
	FileMetadata map[string]string
}
