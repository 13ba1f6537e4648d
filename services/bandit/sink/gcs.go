// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig configures result publishing to Cloud Storage.
type GCSConfig struct {
	Bucket string `yaml:"bucket" validate:"required"`
	Prefix string `yaml:"prefix"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// GCSPublisher uploads result files to a bucket.
type GCSPublisher struct {
	client *storage.Client
	cfg    GCSConfig
}

// NewGCSPublisher creates a storage client.
func NewGCSPublisher(ctx context.Context, cfg GCSConfig) (*GCSPublisher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return &GCSPublisher{client: client, cfg: cfg}, nil
}

// ObjectName is the object a result file for runID is stored under.
func (p *GCSPublisher) ObjectName(runID, localPath string) string {
	return objectName(p.cfg.Prefix, runID, localPath)
}

func objectName(prefix, runID, localPath string) string {
	return path.Join(prefix, runID, filepath.Base(localPath))
}

// Publish implements Publisher.
func (p *GCSPublisher) Publish(ctx context.Context, runID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	name := p.ObjectName(runID, localPath)
	w := p.client.Bucket(p.cfg.Bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("upload %s to gs://%s/%s: %w", localPath, p.cfg.Bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", p.cfg.Bucket, name, err)
	}
	return fmt.Sprintf("gs://%s/%s", p.cfg.Bucket, name), nil
}

// Close implements Publisher.
func (p *GCSPublisher) Close() error {
	return p.client.Close()
}
