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
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"fleetota/cloudctl"
	"fleetota/otaerr"
	"fleetota/otamsg"
	"fleetota/otaregistry"
	"fleetota/otastore"
)

// filesField is the multipart field name carrying file bodies, in the
// same order as file_info_list's file_list.
const filesField = "files"

// apiHandler implements the /file/*, /deploy_state/*, /job_state/*, and
// /health routes. It holds both the framework-agnostic controller (for
// upload/deploy/state orchestration) and the concrete registry/store
// handles (for the read-only and housekeeping routes cloudctl does not
// cover).
type apiHandler struct {
	ctrl          *cloudctl.Controller
	reg           *otaregistry.Store
	store         *otastore.Store
	log           *zap.Logger
	defaultBucket string
}

// newAPIHandler builds an apiHandler and routes it into e.
func newAPIHandler(e *echo.Echo, ctrl *cloudctl.Controller, reg *otaregistry.Store, store *otastore.Store, log *zap.Logger, defaultBucket string) *apiHandler {
	h := &apiHandler{ctrl: ctrl, reg: reg, store: store, log: log, defaultBucket: defaultBucket}

	e.GET("/file/list", h.getList)
	e.POST("/file/upload", h.postUpload)
	e.PATCH("/file/update", h.patchUpdate)
	e.POST("/file/deploy", h.postDeploy)
	e.POST("/file/deploy_from_s3", h.postDeployFromS3)
	e.GET("/file/download", h.getDownload)
	e.PUT("/file/validate", h.putValid(true))
	e.PUT("/file/invalidate", h.putValid(false))
	e.DELETE("/file/delete", h.deleteFile)
	e.GET("/deploy_state/:robot_id", h.getDeployState)
	e.GET("/job_state/:job_id", h.getJobState)
	e.GET("/health", h.getHealth)

	return h
}

func (h *apiHandler) bucketOrDefault(b string) string {
	if b == "" {
		return h.defaultBucket
	}
	return b
}

// getList implements GET /file/list.
func (h *apiHandler) getList(c echo.Context) error {
	f := otamsg.ListFilter{
		Bucket:     c.QueryParam("bucket"),
		ObjectName: c.QueryParam("object_name"),
		RobotID:    c.QueryParam("robot_id"),
		RobotType:  c.QueryParam("robot_type"),
		DeployPath: c.QueryParam("deploy_path"),
	}
	if raw := c.QueryParam("file_metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &f.FileMetadata); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid file_metadata")
		}
	}
	artifacts, err := h.reg.Find(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, artifacts)
}

// parseFileInfoList decodes the file_info_list form field carried by the
// upload/deploy/update requests.
func parseFileInfoList(c echo.Context) (otamsg.FileInfoList, error) {
	raw := c.FormValue("file_info_list")
	if raw == "" {
		return otamsg.FileInfoList{}, otaerr.New(otaerr.Validation, "missing file_info_list")
	}
	var list otamsg.FileInfoList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return otamsg.FileInfoList{}, otaerr.Wrap(otaerr.Validation, err, "decoding file_info_list")
	}
	return list, nil
}

// openFormFiles opens exactly n files under field, in the order the
// client attached them. On success the caller must close every returned
// file; on a failure partway through n, the files already opened are
// closed here and none are returned.
func openFormFiles(c echo.Context, field string, n int) ([]*multipart.FileHeader, []multipart.File, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil, otaerr.Wrap(otaerr.Validation, err, "reading multipart form")
	}
	headers := form.File[field]
	if len(headers) != n {
		return nil, nil, otaerr.Newf(otaerr.Validation, "file_info_list names %d files, request carries %d", n, len(headers))
	}
	files := make([]multipart.File, 0, n)
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll(files)
			return nil, nil, otaerr.Wrap(otaerr.Validation, err, "opening uploaded file")
		}
		files = append(files, f)
	}
	return headers, files, nil
}

func closeAll(files []multipart.File) {
	for _, f := range files {
		f.Close()
	}
}

// respondUploadResults applies spec's "any FAILED -> 400" aggregation
// rule to a per-file result array.
func respondUploadResults(c echo.Context, results []otamsg.UploadResult) error {
	status := http.StatusOK
	for _, r := range results {
		if r.State == otamsg.FileFailed {
			status = http.StatusBadRequest
			break
		}
	}
	return c.JSON(status, results)
}

func (h *apiHandler) readersOf(files []multipart.File) []io.Reader {
	readers := make([]io.Reader, len(files))
	for i, f := range files {
		readers[i] = f
	}
	return readers
}

// postUpload implements POST /file/upload.
func (h *apiHandler) postUpload(c echo.Context) error {
	ctx := c.Request().Context()
	list, err := parseFileInfoList(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	headers, files, err := openFormFiles(c, filesField, len(list.FileList))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer closeAll(files)

	results := make([]otamsg.UploadResult, len(list.FileList))
	for i, info := range list.FileList {
		info.Bucket = h.bucketOrDefault(info.Bucket)
		results[i] = h.ctrl.Upload(ctx, info, headers[i].Filename, files[i], false)
	}
	return respondUploadResults(c, results)
}

// postDeploy implements POST /file/deploy.
func (h *apiHandler) postDeploy(c echo.Context) error {
	ctx := c.Request().Context()
	list, err := parseFileInfoList(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	headers, files, err := openFormFiles(c, filesField, len(list.FileList))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer closeAll(files)

	fileNames := make([]string, len(headers))
	for i, fh := range headers {
		fileNames[i] = fh.Filename
	}
	for i := range list.FileList {
		list.FileList[i].Bucket = h.bucketOrDefault(list.FileList[i].Bucket)
	}
	results, err := h.ctrl.Deploy(ctx, list.FileList, fileNames, h.readersOf(files))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return respondUploadResults(c, results)
}

type deployFromS3Request struct {
	Bucket     string `json:"bucket"`
	ObjectName string `json:"object_name"`
	RobotID    string `json:"robot_id"`
	DeployPath string `json:"deploy_path"`
}

// postDeployFromS3 implements POST /file/deploy_from_s3.
func (h *apiHandler) postDeployFromS3(c echo.Context) error {
	var req deployFromS3Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.ctrl.DeployFromArtifact(c.Request().Context(), h.bucketOrDefault(req.Bucket), req.ObjectName, req.RobotID, req.DeployPath)
	if err != nil {
		switch kind, _ := otaerr.KindOf(err); kind {
		case otaerr.NotFound:
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case otaerr.Validation:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, result)
}

// patchUpdate implements PATCH /file/update. A file part replaces the
// stored bytes and recomputes sha256; without one, only the metadata
// fields supplied in file_info_list are applied.
func (h *apiHandler) patchUpdate(c echo.Context) error {
	ctx := c.Request().Context()
	list, err := parseFileInfoList(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(list.FileList) != 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "file/update takes exactly one file_info_list entry")
	}
	info := list.FileList[0]
	info.Bucket = h.bucketOrDefault(info.Bucket)
	if info.ObjectName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "object_name required")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	headers := form.File[filesField]
	if len(headers) > 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "file/update takes at most one file part")
	}

	if len(headers) == 1 {
		f, err := headers[0].Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		defer f.Close()
		result := h.ctrl.Upload(ctx, info, headers[0].Filename, f, true)
		return respondUploadResults(c, []otamsg.UploadResult{result})
	}

	artifact, err := h.reg.Update(ctx, info.Bucket, info.ObjectName, info, time.Now(), "", "", info.Valid)
	if err != nil {
		if otaerr.Is(err, otaerr.NotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "no such bucket/object_name")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, artifact)
}

// getDownload implements GET /file/download. The object is staged to a
// temp file and removed once the response body has been written.
func (h *apiHandler) getDownload(c echo.Context) error {
	ctx := c.Request().Context()
	bucket := h.bucketOrDefault(c.QueryParam("bucket"))
	objectName := c.QueryParam("object_name")

	artifact, err := h.reg.Get(ctx, bucket, objectName)
	if err != nil {
		if otaerr.Is(err, otaerr.NotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	tmp, err := os.CreateTemp("", "otad-download-*")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := h.store.Get(ctx, bucket, objectName, tmpPath); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Attachment(tmpPath, artifact.FileName)
}

// putValid returns the PUT /file/validate or /file/invalidate handler.
func (h *apiHandler) putValid(valid bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		bucket := h.bucketOrDefault(c.QueryParam("bucket"))
		objectName := c.QueryParam("object_name")
		if err := h.reg.SetValid(c.Request().Context(), bucket, objectName, valid); err != nil {
			if otaerr.Is(err, otaerr.NotFound) {
				return echo.NewHTTPError(http.StatusNotFound)
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusOK)
	}
}

// deleteFile implements DELETE /file/delete.
func (h *apiHandler) deleteFile(c echo.Context) error {
	ctx := c.Request().Context()
	bucket := h.bucketOrDefault(c.QueryParam("bucket"))
	objectName := c.QueryParam("object_name")

	if err := h.reg.Delete(ctx, bucket, objectName); err != nil {
		if otaerr.Is(err, otaerr.NotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.store.Delete(ctx, bucket, objectName); err != nil {
		h.log.Warn("object store delete failed after row delete",
			zap.String("bucket", bucket), zap.String("object_name", objectName), zap.Error(err))
	}
	return c.NoContent(http.StatusOK)
}

// getDeployState implements GET /deploy_state/{robot_id}.
func (h *apiHandler) getDeployState(c echo.Context) error {
	targets, err := h.reg.DeployTargetsByRobot(c.Request().Context(), c.Param("robot_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, targets)
}

// getJobState implements GET /job_state/{job_id}.
func (h *apiHandler) getJobState(c echo.Context) error {
	job, err := h.reg.GetJob(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		if otaerr.Is(err, otaerr.NotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, job)
}

// getHealth implements GET /health.
func (h *apiHandler) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
