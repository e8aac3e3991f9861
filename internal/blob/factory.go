package blob

import (
	"context"
	"fmt"

	"medichain/internal/config"
	"medichain/internal/infra/blob/fs"
	memorystore "medichain/internal/infra/blob/memory"
	"medichain/internal/infra/blob/s3"
)

// Open selects a Store from cfg.BlobDriver (fs when empty):
//
//	fs     local directory at cfg.BlobFSRoot
//	s3     bucket described by cfg.BlobS3
//	memory process memory, for tests and the demo
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	driver := Driver(cfg.BlobDriver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(cfg.BlobFSRoot)
	case DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.BlobS3.Bucket,
			Region:          cfg.BlobS3.Region,
			Endpoint:        cfg.BlobS3.Endpoint,
			Prefix:          cfg.BlobS3.Prefix,
			AccessKeyID:     cfg.BlobS3.AccessKeyID,
			SecretAccessKey: cfg.BlobS3.SecretAccessKey,
			PathStyle:       cfg.BlobS3.PathStyle,
		})
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
