package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/icsfxd/icsfx/internal/log"
)

// largeAttachmentThreshold is the PidTagAttachDataBinary size above which a
// configured blob store offloads the payload instead of keeping it in the
// sqlite message_props table.
const largeAttachmentThreshold = 64 * 1024

// BlobStore is the optional large-attachment offload collaborator. A nil
// *Store.blobs keeps every attachment inline in sqlite regardless of size.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// S3BlobStore is the reference BlobStore, grounded in the teacher's use of
// aws-sdk-go-v2 S3 for job-archive storage: attachment blobs above
// largeAttachmentThreshold are written under their own key instead of held
// in the sqlite row.
type S3BlobStore struct {
	client *s3.Client
	bucket string
}

// NewS3BlobStore loads the default AWS config (env/shared-config chain) and
// returns a client scoped to bucket. endpoint, when non-empty, overrides the
// default resolver for S3-compatible object stores (minio, etc.).
func NewS3BlobStore(ctx context.Context, bucket, endpoint string) (*S3BlobStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3BlobStore{client: client, bucket: bucket}, nil
}

func (s *S3BlobStore) Put(ctx context.Context, key string, data []byte) error {
	log.Debugf("memstore: offloading %d bytes to s3://%s/%s", len(data), s.bucket, key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (s *S3BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func attachmentBlobKey(mid uint64, attachNum uint32) string {
	return fmt.Sprintf("attachments/%016x/%08x", mid, attachNum)
}
