package storage

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoSuchKey = minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}

// fakeMinio is an in-memory bucket implementing minioAPI
type fakeMinio struct {
	mu           sync.Mutex
	bucketExists bool
	madeBucket   string
	objects      map[string][]byte
	contentTypes map[string]string
	stats        []string
	listErr      error
}

func newFakeMinio() *fakeMinio {
	return &fakeMinio{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeMinio) BucketExists(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bucketExists, nil
}

func (f *fakeMinio) MakeBucket(_ context.Context, bucketName string, _ minio.MakeBucketOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucketExists = true
	f.madeBucket = bucketName
	return nil
}

func (f *fakeMinio) StatObject(_ context.Context, _, objectName string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, objectName)
	data, ok := f.objects[objectName]
	if !ok {
		return minio.ObjectInfo{}, errNoSuchKey
	}
	return minio.ObjectInfo{Key: objectName, Size: int64(len(data))}, nil
}

func (f *fakeMinio) PutObject(_ context.Context, _, objectName string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = data
	f.contentTypes[objectName] = opts.ContentType
	return minio.UploadInfo{Key: objectName, Size: int64(len(data))}, nil
}

func (f *fakeMinio) GetObject(context.Context, string, string, minio.GetObjectOptions) (*minio.Object, error) {
	return nil, errors.New("not supported by fake")
}

func (f *fakeMinio) RemoveObject(_ context.Context, _, objectName string, _ minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[objectName]; !ok {
		return errNoSuchKey
	}
	delete(f.objects, objectName)
	return nil
}

func (f *fakeMinio) ListObjects(context.Context, string, minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan minio.ObjectInfo, len(f.objects)+1)
	for key, data := range f.objects {
		ch <- minio.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Unix(0, 0)}
	}
	if f.listErr != nil {
		ch <- minio.ObjectInfo{Err: f.listErr}
	}
	close(ch)
	return ch
}

func TestMinioStore_CreatesMissingBucket(t *testing.T) {
	fake := newFakeMinio()
	_, err := newMinioStore(context.Background(), fake, "wall", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "wall", fake.madeBucket)

	existing := newFakeMinio()
	existing.bucketExists = true
	_, err = newMinioStore(context.Background(), existing, "wall", zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, existing.madeBucket)
}

func TestMinioStore_SkipsTakenNames(t *testing.T) {
	ctx := context.Background()
	fake := newFakeMinio()
	fake.bucketExists = true
	store, err := newMinioStore(ctx, fake, "wall", zerolog.Nop())
	require.NoError(t, err)

	at := time.UnixMilli(1700000000000)
	store.names.now = func() time.Time { return at }
	fake.objects["capture-1700000000000.jpg"] = []byte("older")

	name, err := store.Store(ctx, []byte("fresh"), ".jpg")
	require.NoError(t, err)
	assert.Equal(t, "capture-1700000000001.jpg", name)
	assert.Equal(t, []string{"capture-1700000000000.jpg", "capture-1700000000001.jpg"}, fake.stats)
	assert.Equal(t, []byte("older"), fake.objects["capture-1700000000000.jpg"])
	assert.Equal(t, []byte("fresh"), fake.objects[name])
	assert.Equal(t, "image/jpeg", fake.contentTypes[name])
}

func TestMinioStore_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	fake := newFakeMinio()
	fake.bucketExists = true
	store, err := newMinioStore(ctx, fake, "wall", zerolog.Nop())
	require.NoError(t, err)

	name, err := store.Store(ctx, []byte("smile"), ".png")
	require.NoError(t, err)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, name, infos[0].Name)
	assert.Equal(t, int64(5), infos[0].Size)

	require.NoError(t, store.Delete(ctx, name))
	assert.NoError(t, store.Delete(ctx, name))

	fake.listErr = errors.New("connection reset")
	_, err = store.List(ctx)
	assert.ErrorContains(t, err, "connection reset")
}

func TestMinioStore_OpenRejectsInvalidNames(t *testing.T) {
	fake := newFakeMinio()
	fake.bucketExists = true
	store, err := newMinioStore(context.Background(), fake, "wall", zerolog.Nop())
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "../gallery-data.json")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
