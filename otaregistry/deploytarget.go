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

	"fleetota/otaerr"
	"fleetota/otamsg"
)

// UpsertDeployTarget records that (robotID, deployPath) now points at
// (bucket, objectName), replacing whatever it previously pointed at.
func (s *Store) UpsertDeployTarget(ctx context.Context, robotID, deployPath, bucket, objectName string) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO deploy_target (robot_id, deploy_path, bucket, object_name)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (robot_id, deploy_path)
		 DO UPDATE SET bucket=$3, object_name=$4`,
		robotID, deployPath, bucket, objectName)
	if err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "upserting deploy target")
	}
	return nil
}

// DeployTargetsByRobot returns every deploy_target row for a robot.
func (s *Store) DeployTargetsByRobot(ctx context.Context, robotID string) ([]otamsg.DeployTarget, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT robot_id, deploy_path, bucket, object_name
		 FROM deploy_target WHERE robot_id=$1 ORDER BY deploy_path`, robotID)
	if err != nil {
		return nil, otaerr.Wrap(otaerr.StorageError, err, "listing deploy targets")
	}
	defer rows.Close()
	var out []otamsg.DeployTarget
	for rows.Next() {
		var t otamsg.DeployTarget
		if err := rows.Scan(&t.RobotID, &t.DeployPath, &t.Bucket, &t.ObjectName); err != nil {
			return out, otaerr.Wrap(otaerr.StorageError, err, "scanning deploy target")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
