package objectstore

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStore(t *testing.T) (*LocalStore, *time.Time) {
	t.Helper()

	store, err := NewLocalStore(LocalConfig{
		Root:       t.TempDir(),
		Bucket:     "uploads",
		BaseURL:    "http://localhost:8080/",
		SigningKey: "test-signing-key",
	})
	require.NoError(t, err)

	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	return store, &now
}

func presignedQuery(t *testing.T, c Capability) (string, string, url.Values) {
	t.Helper()

	u, err := url.Parse(c.URL)
	require.NoError(t, err)

	rest := strings.TrimPrefix(u.Path, "/objects/")
	bucket, key, ok := strings.Cut(rest, "/")
	require.True(t, ok)
	return bucket, key, u.Query()
}

func TestLocalStore_PresignPut(t *testing.T) {
	store, now := newTestLocalStore(t)

	c, err := store.PresignPut(context.Background(), "b.txt", "text/plain", 60*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "PUT", c.Method)
	assert.Equal(t, "b.txt", c.Key)
	assert.Equal(t, "text/plain", c.ContentType)
	assert.Equal(t, 60*time.Second, c.ExpiresAt.Sub(*now))
	assert.True(t, strings.HasPrefix(c.URL, "http://localhost:8080/objects/uploads/b.txt?"))

	_, _, q := presignedQuery(t, c)
	assert.Equal(t, "text/plain", q.Get("ct"))
	assert.NotEmpty(t, q.Get("sig"))
}

func TestLocalStore_PutWithCapability(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		mutate      func(now *time.Time, bucket, key, ct *string, q url.Values)
		wantErr     error
		wantContent bool
	}{
		{
			name:        "valid capability",
			mutate:      func(*time.Time, *string, *string, *string, url.Values) {},
			wantContent: true,
		},
		{
			name: "put exactly at expiry is accepted",
			mutate: func(now *time.Time, _, _, _ *string, _ url.Values) {
				*now = now.Add(60 * time.Second)
			},
			wantContent: true,
		},
		{
			name: "put after expiry is rejected",
			mutate: func(now *time.Time, _, _, _ *string, _ url.Values) {
				*now = now.Add(61 * time.Second)
			},
			wantErr: domain.ErrCapabilityExpired,
		},
		{
			name: "different content type",
			mutate: func(_ *time.Time, _, _, ct *string, _ url.Values) {
				*ct = "application/octet-stream"
			},
			wantErr: domain.ErrCapabilityInvalid,
		},
		{
			name: "different key",
			mutate: func(_ *time.Time, _, key, _ *string, _ url.Values) {
				*key = "c.txt"
			},
			wantErr: domain.ErrCapabilityInvalid,
		},
		{
			name: "tampered expiry",
			mutate: func(_ *time.Time, _, _, _ *string, q url.Values) {
				q.Set("exp", "9999999999")
			},
			wantErr: domain.ErrCapabilityInvalid,
		},
		{
			name: "unknown bucket",
			mutate: func(_ *time.Time, bucket, _, _ *string, _ url.Values) {
				*bucket = "other"
			},
			wantErr: domain.ErrCapabilityInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, now := newTestLocalStore(t)

			c, err := store.PresignPut(ctx, "b.txt", "text/plain", 60*time.Second)
			require.NoError(t, err)

			bucket, key, q := presignedQuery(t, c)
			ct := "text/plain"
			tt.mutate(now, &bucket, &key, &ct, q)

			err = store.PutWithCapability(ctx, bucket, key, ct, q, []byte("payload"))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				_, getErr := store.Get(ctx, "b.txt")
				assert.ErrorIs(t, getErr, domain.ErrObjectNotFound)
				return
			}

			require.NoError(t, err)
			data, err := store.Get(ctx, "b.txt")
			require.NoError(t, err)
			assert.Equal(t, "payload", string(data))
		})
	}
}

func TestLocalStore_CapabilityWindowWithSubSecondIssueTime(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		after   time.Duration
		wantErr error
	}{
		{name: "just inside the window", after: 59*time.Second + 999*time.Millisecond},
		{name: "exactly at the window end", after: 60 * time.Second},
		{name: "one millisecond late", after: 60*time.Second + time.Millisecond, wantErr: domain.ErrCapabilityExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, now := newTestLocalStore(t)
			*now = now.Add(750*time.Millisecond + 300*time.Microsecond)
			issued := *now

			c, err := store.PresignPut(ctx, "b.txt", "text/plain", 60*time.Second)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, c.ExpiresAt.Sub(issued), 60*time.Second)
			assert.Less(t, c.ExpiresAt.Sub(issued), 60*time.Second+time.Millisecond)

			bucket, key, q := presignedQuery(t, c)
			*now = issued.Add(tt.after)

			err = store.PutWithCapability(ctx, bucket, key, "text/plain", q, []byte("payload"))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLocalStore_CapabilityIsSingleUse(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestLocalStore(t)

	c, err := store.PresignPut(ctx, "b.txt", "text/plain", time.Minute)
	require.NoError(t, err)
	bucket, key, q := presignedQuery(t, c)

	require.NoError(t, store.PutWithCapability(ctx, bucket, key, "text/plain", q, []byte("one")))

	err = store.PutWithCapability(ctx, bucket, key, "text/plain", q, []byte("two"))
	require.ErrorIs(t, err, domain.ErrCapabilityUsed)

	data, err := store.Get(ctx, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestLocalStore_CapabilityCannotOverwrite(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestLocalStore(t)

	require.NoError(t, store.Put(ctx, "b.txt", "text/plain", []byte("existing")))

	c, err := store.PresignPut(ctx, "b.txt", "text/plain", time.Minute)
	require.NoError(t, err)
	bucket, key, q := presignedQuery(t, c)

	err = store.PutWithCapability(ctx, bucket, key, "text/plain", q, []byte("new"))
	require.ErrorIs(t, err, domain.ErrObjectExists)
}

func TestLocalStore_GetPut(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestLocalStore(t)

	_, err := store.Get(ctx, "missing.txt")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)

	require.NoError(t, store.Put(ctx, "nested/processed-a.txt", "text/plain", []byte("v1")))
	require.NoError(t, store.Put(ctx, "nested/processed-a.txt", "text/plain", []byte("v2")))

	data, err := store.Get(ctx, "nested/processed-a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	require.Error(t, store.Put(ctx, "../escape.txt", "text/plain", nil))
}

func TestNewLocalStore_Validation(t *testing.T) {
	_, err := NewLocalStore(LocalConfig{Root: t.TempDir(), SigningKey: "k"})
	require.Error(t, err)

	_, err = NewLocalStore(LocalConfig{Root: t.TempDir(), Bucket: "uploads"})
	require.Error(t, err)
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    Ref
		wantErr bool
	}{
		{in: "uploads/a.txt", want: Ref{Bucket: "uploads", Key: "a.txt"}},
		{in: "s3://uploads/processed-a.txt", want: Ref{Bucket: "uploads", Key: "processed-a.txt"}},
		{in: "uploads/dir/a.txt", want: Ref{Bucket: "uploads", Key: "dir/a.txt"}},
		{in: "a.txt", wantErr: true},
		{in: "/a.txt", wantErr: true},
		{in: "uploads/../a.txt", wantErr: true},
		{in: "uploads/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRef(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Bucket+"/"+tt.want.Key, got.String())
		})
	}
}

func TestOutputKey(t *testing.T) {
	assert.Equal(t, "processed-a.txt", OutputKey("a.txt"))
	assert.Equal(t, "dir/processed-a.txt", OutputKey("dir/a.txt"))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("uploads")

	_, err := store.Get(ctx, "a.txt")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)

	require.NoError(t, store.Put(ctx, "a.txt", "text/plain", []byte("hi")))
	data, err := store.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
	assert.Equal(t, "text/plain", store.ContentType("a.txt"))

	c, err := store.PresignPut(ctx, "b.txt", "text/plain", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "PUT", c.Method)
}
