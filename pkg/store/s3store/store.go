// Package s3store persists settings snapshots as JSON objects in S3.
//
// The version check is read-then-write and therefore not atomic across
// writers; two processes racing within the same round trip can both succeed.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/goliatone/go-replica/pkg/store"
	"github.com/goliatone/go-replica/snapshot"
)

// Client is the subset of the S3 API the store needs.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store keeps one snapshot document under bucket/prefix+namespace.json.
type Store struct {
	client Client
	bucket string
	key    string
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix, e.g. "replica/".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.key = strings.TrimSpace(prefix) + s.key
	}
}

// New returns a store writing namespace to bucket.
func New(client Client, bucket, namespace string, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("s3store: client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("s3store: bucket is required")
	}
	s := &Store{
		client: client,
		bucket: bucket,
		key:    store.NormalizeNamespace(namespace) + ".json",
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Key returns the object key the snapshot is stored under.
func (s *Store) Key() string {
	return s.key
}

// Load fetches and decodes the snapshot object.
func (s *Store) Load(ctx context.Context) (snapshot.Snapshot, store.Meta, bool, error) {
	record, ok, err := s.read(ctx)
	if err != nil || !ok {
		return nil, store.Meta{}, ok, err
	}
	return record.Snapshot, record.Meta, true, nil
}

// Save writes the snapshot object unless the stored version is newer.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot, meta store.Meta) (store.Meta, error) {
	current, ok, err := s.read(ctx)
	if err != nil {
		return store.Meta{}, err
	}
	if ok {
		if err := store.CheckVersion(current.Meta, meta); err != nil {
			return store.Meta{}, err
		}
	}

	stamped := store.Stamp(meta, s.now())
	if snap == nil {
		snap = snapshot.Snapshot{}
	}
	body, err := json.Marshal(store.Record{Snapshot: snap, Meta: stamped})
	if err != nil {
		return store.Meta{}, fmt.Errorf("s3store: encode %s: %w", s.key, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"snapshot-id": stamped.SnapshotID,
			"version":     strconv.FormatUint(stamped.Version, 10),
			"origin":      stamped.Origin,
			"updated-at":  stamped.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return store.Meta{}, fmt.Errorf("s3store: put %s/%s: %w", s.bucket, s.key, err)
	}
	return stamped, nil
}

func (s *Store) read(ctx context.Context) (store.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, false, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return store.Record{}, false, nil
		}
		return store.Record{}, false, fmt.Errorf("s3store: get %s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return store.Record{}, false, fmt.Errorf("s3store: read %s: %w", s.key, err)
	}
	var record store.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return store.Record{}, false, fmt.Errorf("s3store: decode %s: %w", s.key, err)
	}
	if record.Snapshot == nil {
		record.Snapshot = snapshot.Snapshot{}
	}
	return record, true, nil
}
