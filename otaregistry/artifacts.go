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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fleetota/otaerr"
	"fleetota/otamsg"
)

var artifactColumns = `bucket, object_name, file_name, timestamp, sha256,
	robot_id, robot_type, robot_version, deploy_path, file_metadata, valid`

func scanArtifact(row *sql.Row) (otamsg.Artifact, error) {
	var a otamsg.Artifact
	var meta []byte
	err := row.Scan(&a.Bucket, &a.ObjectName, &a.FileName, &a.Timestamp,
		&a.SHA256, &a.RobotID, &a.RobotType, &a.RobotVersion, &a.DeployPath,
		&meta, &a.Valid)
	if err == sql.ErrNoRows {
		return a, otaerr.New(otaerr.NotFound, "artifact not found")
	}
	if err != nil {
		return a, otaerr.Wrap(otaerr.StorageError, err, "scanning artifact row")
	}
	if err := json.Unmarshal(meta, &a.FileMetadata); err != nil {
		return a, otaerr.Wrap(otaerr.StorageError, err, "decoding file_metadata")
	}
	return a, nil
}

func scanArtifactRows(rows *sql.Rows) ([]otamsg.Artifact, error) {
	defer rows.Close()
	var out []otamsg.Artifact
	for rows.Next() {
		var a otamsg.Artifact
		var meta []byte
		if err := rows.Scan(&a.Bucket, &a.ObjectName, &a.FileName, &a.Timestamp,
			&a.SHA256, &a.RobotID, &a.RobotType, &a.RobotVersion, &a.DeployPath,
			&meta, &a.Valid); err != nil {
			return out, otaerr.Wrap(otaerr.StorageError, err, "scanning artifact row")
		}
		if err := json.Unmarshal(meta, &a.FileMetadata); err != nil {
			return out, otaerr.Wrap(otaerr.StorageError, err, "decoding file_metadata")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get returns the Artifact keyed by (bucket, objectName).
func (s *Store) Get(ctx context.Context, bucket, objectName string) (otamsg.Artifact, error) {
	row := s.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM files WHERE bucket=$1 AND object_name=$2`,
		bucket, objectName)
	return scanArtifact(row)
}

// Find returns artifacts matching every non-empty field of f, ordered by
// timestamp descending. An empty filter returns every row.
func (s *Store) Find(ctx context.Context, f otamsg.ListFilter) ([]otamsg.Artifact, error) {
	q := `SELECT ` + artifactColumns + ` FROM files WHERE true`
	var args []interface{}
	add := func(col, val string) {
		args = append(args, val)
		q += fmt.Sprintf(" AND %s = $%d", col, len(args))
	}
	if f.Bucket != "" {
		add("bucket", f.Bucket)
	}
	if f.ObjectName != "" {
		add("object_name", f.ObjectName)
	}
	if f.RobotID != "" {
		add("robot_id", f.RobotID)
	}
	if f.RobotType != "" {
		add("robot_type", f.RobotType)
	}
	if f.DeployPath != "" {
		add("deploy_path", f.DeployPath)
	}
	for k, v := range f.FileMetadata {
		args = append(args, k, v)
		q += fmt.Sprintf(" AND file_metadata ->> $%d = $%d", len(args)-1, len(args))
	}
	q += " ORDER BY timestamp DESC"

	rows, err := s.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, otaerr.Wrap(otaerr.StorageError, err, "listing artifacts")
	}
	return scanArtifactRows(rows)
}

// FindByFingerprint looks up rows matching fp, further restricted by
// objectName when it is non-empty. It implements step 3 of the upload
// dedup rule.
func (s *Store) FindByFingerprint(ctx context.Context, fp otamsg.Fingerprint, objectName string) (*otamsg.Artifact, error) {
	q := `SELECT ` + artifactColumns + ` FROM files
		WHERE bucket=$1 AND sha256=$2 AND robot_id=$3 AND deploy_path=$4
		AND robot_type=$5 AND robot_version=$6 AND file_metadata=$7::jsonb`
	args := []interface{}{fp.Bucket, fp.SHA256, fp.RobotID, fp.DeployPath,
		fp.RobotType, fp.RobotVersion, fp.CanonicalMeta}
	if objectName != "" {
		q += fmt.Sprintf(" AND object_name=$%d", len(args)+1)
		args = append(args, objectName)
	}
	q += " ORDER BY timestamp DESC LIMIT 1"

	row := s.QueryRowContext(ctx, q, args...)
	a, err := scanArtifact(row)
	if otaerr.Is(err, otaerr.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new artifact row. The caller must have already checked
// for (bucket, object_name) collisions per the dedup rule.
func (s *Store) Create(ctx context.Context, info otamsg.FileCreate, fileName, sha256Hex string, ts time.Time) (otamsg.Artifact, error) {
	meta, err := json.Marshal(nonNilMeta(info.FileMetadata))
	if err != nil {
		return otamsg.Artifact{}, otaerr.Wrap(otaerr.StorageError, err, "encoding file_metadata")
	}
	valid := true
	if info.Valid != nil {
		valid = *info.Valid
	}
	_, err = s.ExecContext(ctx,
		`INSERT INTO files
			(bucket, object_name, file_name, timestamp, sha256,
			 robot_id, robot_type, robot_version, deploy_path,
			 file_metadata, valid)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		info.Bucket, info.ObjectName, fileName, ts, sha256Hex,
		info.RobotID, info.RobotType, info.RobotVersion, info.DeployPath,
		meta, valid)
	if err != nil {
		return otamsg.Artifact{}, otaerr.Wrap(otaerr.StorageError, err, "inserting artifact")
	}
	return s.Get(ctx, info.Bucket, info.ObjectName)
}

// Update mutates an existing artifact row in place, bumping its
// timestamp. fileName and sha256Hex are only applied when non-empty
// (an update without a new file body leaves the stored bytes' hash
// unchanged); valid is only applied when non-nil.
func (s *Store) Update(ctx context.Context, bucket, objectName string, info otamsg.FileCreate, ts time.Time, fileName, sha256Hex string, valid *bool) (otamsg.Artifact, error) {
	sets := []string{"timestamp = $1"}
	args := []interface{}{ts}
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if fileName != "" {
		add("file_name", fileName)
	}
	if sha256Hex != "" {
		add("sha256", sha256Hex)
	}
	if valid != nil {
		add("valid", *valid)
	}
	if info.RobotID != "" {
		add("robot_id", info.RobotID)
	}
	if info.RobotType != "" {
		add("robot_type", info.RobotType)
	}
	if info.RobotVersion != "" {
		add("robot_version", info.RobotVersion)
	}
	if info.DeployPath != "" {
		add("deploy_path", info.DeployPath)
	}
	if info.FileMetadata != nil {
		meta, err := json.Marshal(info.FileMetadata)
		if err != nil {
			return otamsg.Artifact{}, otaerr.Wrap(otaerr.StorageError, err, "encoding file_metadata")
		}
		add("file_metadata", meta)
	}

	args = append(args, bucket, objectName)
	q := fmt.Sprintf(`UPDATE files SET %s WHERE bucket=$%d AND object_name=$%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))
	res, err := s.ExecContext(ctx, q, args...)
	if err != nil {
		return otamsg.Artifact{}, otaerr.Wrap(otaerr.StorageError, err, "updating artifact")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return otamsg.Artifact{}, otaerr.Wrap(otaerr.StorageError, err, "checking update result")
	}
	if n == 0 {
		return otamsg.Artifact{}, otaerr.New(otaerr.NotFound, "artifact not found")
	}
	return s.Get(ctx, bucket, objectName)
}

// SetValid flips the valid flag for an artifact row.
func (s *Store) SetValid(ctx context.Context, bucket, objectName string, valid bool) error {
	res, err := s.ExecContext(ctx,
		`UPDATE files SET valid=$1 WHERE bucket=$2 AND object_name=$3`,
		valid, bucket, objectName)
	if err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "updating valid flag")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "checking update result")
	}
	if n == 0 {
		return otaerr.New(otaerr.NotFound, "artifact not found")
	}
	return nil
}

// Delete removes the artifact row keyed by (bucket, objectName). Cascading
// removal of any referencing deploy_target rows is enforced at the schema
// level (ON DELETE CASCADE), not here.
func (s *Store) Delete(ctx context.Context, bucket, objectName string) error {
	res, err := s.ExecContext(ctx,
		`DELETE FROM files WHERE bucket=$1 AND object_name=$2`, bucket, objectName)
	if err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "deleting artifact")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "checking delete result")
	}
	if n == 0 {
		return otaerr.New(otaerr.NotFound, "artifact not found")
	}
	return nil
}

func nonNilMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
