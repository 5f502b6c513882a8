package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/goliatone/go-replica/pkg/store"
	"github.com/goliatone/go-replica/pkg/store/storetest"
	"github.com/goliatone/go-replica/snapshot"
)

type fakeClient struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
	getErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (c *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	body, ok := c.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (c *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	c.objects[key] = body
	c.metadata[key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(newFakeClient(), "bucket", "settings")
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		return s
	})
}

func TestSaveWritesObjectMetadata(t *testing.T) {
	client := newFakeClient()
	s, err := New(client, "bucket", "sync", WithPrefix("replica/"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Key() != "replica/sync.json" {
		t.Fatalf("unexpected key %q", s.Key())
	}
	meta, err := s.Save(context.Background(), snapshot.Snapshot{"a": true}, store.Meta{Version: 4, Origin: "page"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	written := client.metadata["bucket/replica/sync.json"]
	if written["version"] != "4" || written["origin"] != "page" || written["snapshot-id"] != meta.SnapshotID {
		t.Fatalf("unexpected object metadata: %v", written)
	}
}

func TestLoadSurfacesClientErrors(t *testing.T) {
	client := newFakeClient()
	client.getErr = errors.New("access denied")
	s, err := New(client, "bucket", "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, _, _, err := s.Load(context.Background()); err == nil {
		t.Fatalf("expected client error")
	}
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, "bucket", ""); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := New(newFakeClient(), " ", ""); err == nil {
		t.Fatalf("expected error for empty bucket")
	}
}
