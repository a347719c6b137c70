// Copyright 2026 The Swallow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	"github.com/cedadev/swallow/config"
)

// S3Storage uploads outputs and status documents to a bucket.
type S3Storage struct {
	bucket    string
	prefix    string
	publicURL string
	svc       s3iface.S3API
	uploader  s3manageriface.UploaderAPI
}

// NewS3Storage sets up an aws session for the configured region.  The
// usual aws environment variables and shared files supply credentials.
func NewS3Storage(c config.S3) (*S3Storage, error) {
	if c.Bucket == "" {
		return nil, errors.New("No bucket set")
	}
	cfg := &aws.Config{Region: aws.String(c.Region)}
	if c.Endpoint != "" {
		cfg.Endpoint = aws.String(c.Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("Failed to set up aws session: %w", err)
	}
	svc := s3.New(sess)
	return NewS3StorageWith(c, svc, s3manager.NewUploaderWithClient(svc)), nil
}

// NewS3StorageWith uses the given clients.
func NewS3StorageWith(c config.S3, svc s3iface.S3API, up s3manageriface.UploaderAPI) *S3Storage {
	return &S3Storage{
		bucket:    c.Bucket,
		prefix:    c.Prefix,
		publicURL: c.PublicURL,
		svc:       svc,
		uploader:  up,
	}
}

func (s *S3Storage) key(elem ...string) string {
	return path.Join(append([]string{s.prefix}, elem...)...)
}

func (s *S3Storage) url(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	return "s3://" + s.bucket + "/" + key
}

func (s *S3Storage) Store(ctx context.Context, jobID, name, local string) (string, error) {
	if !validName(jobID) || !validName(name) {
		return "", fmt.Errorf("bad output name %s/%s", jobID, name)
	}
	f, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := s.key(jobID, name)
	in := &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := s.uploader.UploadWithContext(ctx, in); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.url(key), nil
}

func (s *S3Storage) WriteStatus(ctx context.Context, jobID string, doc []byte) (string, error) {
	if !validName(jobID) {
		return "", fmt.Errorf("bad job id %q", jobID)
	}
	key := s.key(jobID + ".xml")
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(doc),
		ContentType:  aws.String("text/xml"),
		CacheControl: aws.String("no-cache"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.url(key), nil
}

func (s *S3Storage) StatusURL(jobID string) string {
	return s.url(s.key(jobID + ".xml"))
}

// RemoveJob deletes the outputs and the status document of a job.
func (s *S3Storage) RemoveJob(ctx context.Context, jobID string) error {
	if !validName(jobID) {
		return fmt.Errorf("bad job id %q", jobID)
	}
	objs := []*s3.ObjectIdentifier{{Key: aws.String(s.key(jobID + ".xml"))}}
	err := s.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(jobID) + "/"),
	}, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, o := range page.Contents {
			objs = append(objs, &s3.ObjectIdentifier{Key: o.Key})
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("list %s: %w", jobID, err)
	}

	// DeleteObjects takes at most 1000 keys
	for len(objs) > 0 {
		n := len(objs)
		if n > 1000 {
			n = 1000
		}
		_, err := s.svc.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objs[:n], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete %s: %w", jobID, err)
		}
		objs = objs[n:]
	}
	return nil
}
