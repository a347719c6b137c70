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

// Package storage keeps job outputs and status documents where clients can
// fetch them: on the local file system, served by the service itself, or
// in an S3 bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/config"
)

// Storage stores outputs and status documents.  It satisfies
// swallow.OutputStore.
type Storage interface {
	swallow.OutputStore

	// WriteStatus replaces the status document of a job, returning its
	// URL.
	WriteStatus(ctx context.Context, jobID string, doc []byte) (string, error)

	// StatusURL is where the status document of a job is published.
	StatusURL(jobID string) string
}

// New returns the storage selected by the configuration.
func New(c *config.Config) (Storage, error) {
	switch c.Server.StorageType {
	case "", "file":
		return NewFileStorage(c.Server.OutputPath, c.Server.OutputURL)
	case "s3":
		return NewS3Storage(c.S3)
	}
	return nil, fmt.Errorf("unknown storage type %q", c.Server.StorageType)
}

// FileStorage keeps everything below a local directory.  Outputs of a job
// go into a directory named after the job; status documents sit next to
// those directories.
type FileStorage struct {
	path string
	url  string
}

func NewFileStorage(path, url string) (*FileStorage, error) {
	if e := os.MkdirAll(path, 0o755); e != nil {
		return nil, fmt.Errorf("create output directory: %w", e)
	}
	return &FileStorage{path: path, url: strings.TrimRight(url, "/")}, nil
}

func validName(s string) bool {
	return s != "" && s != "." && s != ".." &&
		!strings.ContainsAny(s, `/\`)
}

func copyFile(dst, src string) error {
	in, e := os.Open(src)
	if e != nil {
		return e
	}
	defer in.Close()
	out, e := os.Create(dst)
	if e != nil {
		return e
	}
	if _, e := io.Copy(out, in); e != nil {
		out.Close()
		return e
	}
	return out.Close()
}

// writeAtomic replaces a file so that readers never see partial content.
func writeAtomic(path string, b []byte) error {
	tmp, e := os.CreateTemp(filepath.Dir(path), ".status-*")
	if e != nil {
		return e
	}
	if _, e := tmp.Write(b); e != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return e
	}
	if e := tmp.Close(); e != nil {
		os.Remove(tmp.Name())
		return e
	}
	if e := os.Chmod(tmp.Name(), 0o644); e != nil {
		os.Remove(tmp.Name())
		return e
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileStorage) Store(ctx context.Context, jobID, name, path string) (string, error) {
	if !validName(jobID) || !validName(name) {
		return "", fmt.Errorf("bad output name %s/%s", jobID, name)
	}
	dir := filepath.Join(s.path, jobID)
	if e := os.MkdirAll(dir, 0o755); e != nil {
		return "", e
	}
	if e := copyFile(filepath.Join(dir, name), path); e != nil {
		return "", fmt.Errorf("store output: %w", e)
	}
	return s.url + "/" + jobID + "/" + name, nil
}

func (s *FileStorage) WriteStatus(ctx context.Context, jobID string, doc []byte) (string, error) {
	if !validName(jobID) {
		return "", fmt.Errorf("bad job id %q", jobID)
	}
	if e := writeAtomic(filepath.Join(s.path, jobID+".xml"), doc); e != nil {
		return "", fmt.Errorf("write status: %w", e)
	}
	return s.StatusURL(jobID), nil
}

func (s *FileStorage) StatusURL(jobID string) string {
	return s.url + "/" + jobID + ".xml"
}

func (s *FileStorage) RemoveJob(ctx context.Context, jobID string) error {
	if !validName(jobID) {
		return fmt.Errorf("bad job id %q", jobID)
	}
	e1 := os.RemoveAll(filepath.Join(s.path, jobID))
	e2 := os.Remove(filepath.Join(s.path, jobID+".xml"))
	if e1 != nil {
		return e1
	}
	if e2 != nil && !os.IsNotExist(e2) {
		return e2
	}
	return nil
}

// Handler serves the stored files.  Directory listings are refused.
func (s *FileStorage) Handler() http.Handler {
	fs := http.FileServer(http.Dir(s.path))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}
