/*
 * COPYRIGHT 2024 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package otaregistry

import (
	"context"
	"database/sql"
	"time"

	"github.com/satori/uuid"

	"fleetota/otaerr"
	"fleetota/otamsg"
)

var jobColumns = `job_id, status, robot_id, deploy_path, deploy_msg, timestamp, error_msg`

func scanJob(row *sql.Row) (otamsg.DeployJob, error) {
	var j otamsg.DeployJob
	err := row.Scan(&j.JobID, &j.Status, &j.RobotID, &j.DeployPath,
		&j.DeployMsg, &j.Timestamp, &j.ErrorMsg)
	if err == sql.ErrNoRows {
		return j, otaerr.New(otaerr.NotFound, "job not found")
	}
	if err != nil {
		return j, otaerr.Wrap(otaerr.StorageError, err, "scanning job row")
	}
	return j, nil
}

// CreateJob inserts a new PENDING job row with the exact deployMsg bytes
// that were (or are about to be) published to the broker.
func (s *Store) CreateJob(ctx context.Context, jobID, robotID, deployPath string, deployMsg []byte, ts time.Time) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO deploy_jobs (job_id, status, robot_id, deploy_path, deploy_msg, timestamp)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		jobID, otamsg.StatusPending, robotID, deployPath, deployMsg, ts)
	if err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "inserting job")
	}
	return nil
}

// UpdateStatus is the only job transition primitive. It is idempotent:
// applying the same status twice leaves the row in the same state. A
// jobID that matches no row, including one that is not a UUID, is
// reported as UnknownJob.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, status otamsg.JobStatus, errMsg string) error {
	if _, err := uuid.FromString(jobID); err != nil {
		return otaerr.Newf(otaerr.UnknownJob, "job %s not found", jobID)
	}
	var errArg interface{}
	if errMsg != "" {
		errArg = errMsg
	}
	res, err := s.ExecContext(ctx,
		`UPDATE deploy_jobs SET status=$1, error_msg=$2 WHERE job_id=$3`,
		status, errArg, jobID)
	if err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "updating job status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "checking update result")
	}
	if n == 0 {
		return otaerr.Newf(otaerr.UnknownJob, "job %s not found", jobID)
	}
	return nil
}

// GetJob returns a single job row by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (otamsg.DeployJob, error) {
	row := s.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM deploy_jobs WHERE job_id=$1`, jobID)
	return scanJob(row)
}

// GetRunning returns jobs for robotID whose status is not terminal,
// ordered oldest-first; this is the input to the cloud's resend pass.
func (s *Store) GetRunning(ctx context.Context, robotID string) ([]otamsg.DeployJob, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM deploy_jobs
		 WHERE robot_id=$1 AND status NOT IN ($2,$3)
		 ORDER BY timestamp ASC`,
		robotID, otamsg.StatusCompleted, otamsg.StatusFailed)
	if err != nil {
		return nil, otaerr.Wrap(otaerr.StorageError, err, "listing running jobs")
	}
	defer rows.Close()
	var out []otamsg.DeployJob
	for rows.Next() {
		var j otamsg.DeployJob
		if err := rows.Scan(&j.JobID, &j.Status, &j.RobotID, &j.DeployPath,
			&j.DeployMsg, &j.Timestamp, &j.ErrorMsg); err != nil {
			return out, otaerr.Wrap(otaerr.StorageError, err, "scanning job row")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
