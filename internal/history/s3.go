package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/angeloszaimis/fleet-watcher/config"
	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

// S3 writes one JSON object per record under
// <prefix>/<entity>/<inverted unix nanos>-<id>.json. The inverted, zero-padded
// timestamp makes lexical listing order newest first.
type S3 struct {
	mc     *minio.Client
	bucket string
	prefix string
}

// NewS3 connects and creates the bucket if it does not exist.
func NewS3(ctx context.Context, cfg config.S3Config) (*S3, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &S3{mc: mc, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

type s3Object struct {
	ID       string            `json:"id"`
	EntityID string            `json:"entity"`
	Kind     models.SampleKind `json:"kind"`
	When     time.Time         `json:"when"`
	Payload  json.RawMessage   `json:"payload"`
}

func (s *S3) Append(ctx context.Context, rec models.Record) error {
	rec = withID(rec)

	payload, err := encodePayload(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	data, err := json.Marshal(s3Object{
		ID:       rec.ID,
		EntityID: rec.EntityID,
		Kind:     rec.Kind,
		When:     rec.When,
		Payload:  payload,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	key := s.entityPrefix(rec.EntityID) + invertedStamp(rec.When) + "-" + rec.ID + ".json"
	_, err = s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrStoreWrite, key, err)
	}
	return nil
}

func (s *S3) Query(ctx context.Context, entityID string, opts QueryOptions) ([]models.Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prefix := s.entityPrefix(entityID)
	listOpts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	if opts.Before != nil {
		// '~' sorts after '-', skipping every key stamped exactly at Before
		listOpts.StartAfter = prefix + invertedStamp(*opts.Before) + "~"
	}

	limit := opts.EffectiveLimit()
	out := []models.Record{}
	for obj := range s.mc.ListObjects(ctx, s.bucket, listOpts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrStoreQuery, prefix, obj.Err)
		}
		rec, err := s.load(ctx, obj.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreQuery, err)
		}
		if !opts.admits(rec) {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *S3) load(ctx context.Context, key string) (models.Record, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return models.Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()

	var stored s3Object
	if err := json.NewDecoder(obj).Decode(&stored); err != nil {
		return models.Record{}, fmt.Errorf("decode %s: %w", key, err)
	}

	rec := models.Record{ID: stored.ID, EntityID: stored.EntityID, Kind: stored.Kind, When: stored.When}
	if err := decodePayload(&rec, stored.Payload); err != nil {
		return models.Record{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, nil
}

func (s *S3) Close() error { return nil }

func (s *S3) entityPrefix(entityID string) string {
	return path.Join(s.prefix, url.PathEscape(entityID)) + "/"
}

func invertedStamp(t time.Time) string {
	return fmt.Sprintf("%019d", math.MaxInt64-t.UnixNano())
}
