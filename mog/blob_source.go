package mog

import (
	"context"
	"io"
	"log/slog"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BlobSource reads containers stored as keys of a gocloud.dev bucket
// (S3, GCS, Azure, local directories...). Names passed to Open are keys.
type BlobSource struct {
	bucket  *blob.Bucket
	logger  *slog.Logger
	metrics *Metrics
}

// NewBlobSource wraps an open bucket. The caller keeps ownership of it.
func NewBlobSource(bucket *blob.Bucket, logger *slog.Logger, metrics *Metrics) *BlobSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlobSource{bucket: bucket, logger: logger, metrics: metrics}
}

// Open implements ByteSource.
func (s *BlobSource) Open(ctx context.Context, key string, rng *ByteRange) io.ReadCloser {
	var offset, length int64 = 0, -1
	if rng != nil {
		offset, length = rng.From, rng.Len()
	}

	reader, err := s.bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			s.logger.Info("blob not found", "key", key)
			s.metrics.observeRequest("404")
			return notFoundBody()
		}
		s.logger.Warn("failed to create range reader", "key", key, "range", rangeAttr(rng), "error", err)
		s.metrics.observeRequest("error")
		return emptyBody()
	}

	if rng != nil {
		s.metrics.observeRequest("206")
	} else {
		s.metrics.observeRequest("200")
	}
	return &countingBody{ReadCloser: reader, metrics: s.metrics}
}
