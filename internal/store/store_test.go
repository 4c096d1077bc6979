package store

import (
	"bytes"
	"context"
	"io/ioutil"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in memory and implements the subset of S3API used
// by the S3 store.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{Body: ioutil.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObjectWithContext(ctx aws.Context, in *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.StringValue(in.Key)]; !ok {
		return nil, awserr.New("NotFound", "not found", nil)
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := ioutil.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(ctx aws.Context, in *s3.DeleteObjectInput, opts ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2PagesWithContext returns one object per page to exercise
// pagination.
func (f *fakeS3) ListObjectsV2PagesWithContext(ctx aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error {
	f.mu.Lock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	for i, k := range keys {
		page := &s3.ListObjectsV2Output{Contents: []*s3.Object{{Key: aws.String(k)}}}
		if !fn(page, i == len(keys)-1) {
			break
		}
	}
	return nil
}

func testStores(t *testing.T) map[string]Store {
	return map[string]Store{
		"fs": NewFSFrom(afero.NewMemMapFs()),
		"s3": NewS3From(newFakeS3(), "bucket", "/models/"),
	}
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "current", []byte("v1")))
			require.NoError(t, s.Put(ctx, "current", []byte("v2")))

			data, err := s.Get(ctx, "current")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), data)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

			err = s.Delete(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
		})
	}
}

func TestStore_ListDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"pending/b", "pending/a", "pending/c", "current"} {
				require.NoError(t, s.Put(ctx, key, []byte(key)))
			}

			keys, err := s.List(ctx, "pending/")
			require.NoError(t, err)
			assert.Equal(t, []string{"pending/a", "pending/b", "pending/c"}, keys)

			require.NoError(t, s.Delete(ctx, "pending/b"))
			keys, err = s.List(ctx, "pending/")
			require.NoError(t, err)
			assert.Equal(t, []string{"pending/a", "pending/c"}, keys)

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"current", "pending/a", "pending/c"}, all)
		})
	}
}

func TestStore_ListEmpty(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			keys, err := s.List(context.Background(), "pending/")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestS3_Prefix(t *testing.T) {
	client := newFakeS3()
	s := NewS3From(client, "bucket", "models")
	require.NoError(t, s.Put(context.Background(), "current", []byte("x")))

	_, ok := client.objects["models/current"]
	assert.True(t, ok)
}

func TestFS_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewFSFrom(afero.NewMemMapFs())
	assert.Error(t, s.Put(ctx, "current", []byte("x")))
	_, err := s.List(ctx, "")
	assert.Error(t, err)
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"current", "current", false},
		{"/pending//a", "pending/a", false},
		{"pending\\a", "pending/a", false},
		{"", "", true},
		{"/", "", true},
		{"../etc/passwd", "", true},
		{"pending/../../x", "", true},
	}
	for _, tt := range tests {
		got, err := CleanKey(tt.key)
		if tt.wantErr {
			assert.Error(t, err, tt.key)
			continue
		}
		require.NoError(t, err, tt.key)
		assert.Equal(t, tt.want, got)
	}
}
