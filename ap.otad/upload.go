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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/buildkite/roko"
	"go.uber.org/zap"

	"fleetota/otaerr"
)

// uploadQueueDepth bounds pending daemon-initiated uploads the same way
// deployQueueDepth bounds deploy messages.
const uploadQueueDepth = 32

// uploadProbeInterval is the fixed backoff between cloud health checks
// before an upload is attempted. There is no retry cap: the daemon
// assumes the cloud eventually comes back, matching otabroker's connect
// retry.
const uploadProbeInterval = 10 * time.Second

const uploadTimeout = 60 * time.Second

// oneUpload is a single file this daemon wants to push to the cloud.
type oneUpload struct {
	Bucket     string
	ObjectName string
	RobotID    string
	DeployPath string
	FileName   string
	LocalPath  string
}

// uploadFileInfo is the per-file metadata entry in an outbound
// file_info_list. Its JSON tag is s3_bucket, distinct from the cloud
// API's own FileCreate (tagged bucket): this daemon-to-cloud payload
// names the bucket field s3_bucket consistently on both reads and
// writes, unlike the original daemon which wrote s3_bucket_name in one
// place and s3_bucket elsewhere.
type uploadFileInfo struct {
	S3Bucket   string `json:"s3_bucket"`
	ObjectName string `json:"object_name,omitempty"`
	RobotID    string `json:"robot_id,omitempty"`
	DeployPath string `json:"deploy_path,omitempty"`
}

type uploadFileInfoList struct {
	FileList []uploadFileInfo `json:"file_list"`
}

// uploadWorker pulls queued upload batches and pushes each to the cloud
// in turn, following ap.updated's uploadInit/doUpload gate-then-send
// shape: block on a health probe before attempting the POST. It runs
// until doneChan is signaled.
func uploadWorker(ctx context.Context, wg *sync.WaitGroup, doneChan chan bool, queue <-chan []oneUpload, cloudBaseURL string, log *zap.Logger) {
	defer wg.Done()
	client := &http.Client{Timeout: uploadTimeout}
	for {
		select {
		case batch := <-queue:
			if err := waitForCloud(ctx, cloudBaseURL, log); err != nil {
				log.Warn("upload batch abandoned, context done", zap.Int("files", len(batch)), zap.Error(err))
				continue
			}
			if err := pushUpload(client, cloudBaseURL, batch); err != nil {
				log.Error("upload batch failed", zap.Int("files", len(batch)), zap.Error(err))
				continue
			}
			log.Info("upload batch completed", zap.Int("files", len(batch)))
		case <-doneChan:
			return
		}
	}
}

// waitForCloud blocks, retrying at uploadProbeInterval, until the
// cloud's health endpoint answers 200.
func waitForCloud(ctx context.Context, cloudBaseURL string, log *zap.Logger) error {
	client := &http.Client{Timeout: 5 * time.Second}
	return roko.NewRetrier(roko.TryForever(), roko.WithStrategy(roko.Constant(uploadProbeInterval))).DoWithContext(ctx,
		func(r *roko.Retrier) error {
			resp, err := client.Get(cloudBaseURL + "/health")
			if err != nil {
				log.Debug("cloud health probe failed, retrying", zap.Error(err))
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("cloud health returned %d", resp.StatusCode)
			}
			return nil
		})
}

func pushUpload(client *http.Client, cloudBaseURL string, batch []oneUpload) error {
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)

	list := uploadFileInfoList{FileList: make([]uploadFileInfo, len(batch))}
	for i, u := range batch {
		list.FileList[i] = uploadFileInfo{
			S3Bucket:   u.Bucket,
			ObjectName: u.ObjectName,
			RobotID:    u.RobotID,
			DeployPath: u.DeployPath,
		}
	}
	listJSON, err := json.Marshal(list)
	if err != nil {
		return otaerr.Wrap(otaerr.Validation, err, "encoding file_info_list")
	}
	if err := w.WriteField("file_info_list", string(listJSON)); err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "writing file_info_list field")
	}

	for _, u := range batch {
		if err := copyUploadFile(w, u); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "closing multipart writer")
	}

	req, err := http.NewRequest(http.MethodPost, cloudBaseURL+"/file/upload", body)
	if err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "building upload request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "posting upload")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return otaerr.Newf(otaerr.StorageError, "upload rejected, status %d", resp.StatusCode)
	}
	return nil
}

func copyUploadFile(w *multipart.Writer, u oneUpload) error {
	f, err := os.Open(u.LocalPath)
	if err != nil {
		return otaerr.Wrapf(otaerr.StorageError, err, "opening %s", u.LocalPath)
	}
	defer f.Close()

	part, err := w.CreateFormFile(filesField, u.FileName)
	if err != nil {
		return otaerr.Wrap(otaerr.StorageError, err, "creating form file")
	}
	if _, err := io.Copy(part, f); err != nil {
		return otaerr.Wrapf(otaerr.StorageError, err, "copying %s", u.LocalPath)
	}
	return nil
}

// filesField matches cl.otad's multipart field name for file bodies.
const filesField = "files"
