/*
 * COPYRIGHT 2024 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package otastore wraps an S3-compatible object store as a
// byte-addressable blob store keyed by (bucket, object). It performs no
// integrity verification beyond what the store itself provides.
package otastore

import (
	"context"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"fleetota/otaerr"
)

// Config names the S3-compatible endpoint to talk to.
type Config struct {
	Region          string
	Endpoint        string // optional; empty uses the AWS default resolver
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool // required by most non-AWS S3-compatible stores
}

// Store is a thin wrapper over an S3 client providing the three
// operations the deployment protocol needs.
type Store struct {
	client *s3.Client
}

// New builds a Store from the given Config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, otaerr.Wrap(otaerr.StorageError, err, "loading object-store config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &Store{client: client}, nil
}

// Put uploads the bytes read from r to (bucket, object), streaming via
// the multipart-aware S3 manager.Uploader.
func (s *Store) Put(ctx context.Context, bucket, object string, r io.Reader) error {
	uploader := manager.NewUploader(s.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
		Body:   r,
	})
	if err != nil {
		return otaerr.Wrapf(otaerr.StorageError, err, "uploading %s/%s", bucket, object)
	}
	return nil
}

// Get downloads (bucket, object) to the file at localPath, creating or
// truncating it. The parent directory must already exist; callers on the
// daemon side are responsible for that (see ap.otad's deploy worker).
func (s *Store) Get(ctx context.Context, bucket, object, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return otaerr.Wrapf(otaerr.StorageError, err, "creating %s", localPath)
	}
	defer f.Close()

	downloader := manager.NewDownloader(s.client)
	_, err = downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		return otaerr.Wrapf(otaerr.StorageError, err, "downloading %s/%s", bucket, object)
	}
	return nil
}

// Delete removes (bucket, object).
func (s *Store) Delete(ctx context.Context, bucket, object string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		return otaerr.Wrapf(otaerr.StorageError, err, "deleting %s/%s", bucket, object)
	}
	return nil
}
