package credstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/matheus3301/wppcrm/internal/store"
)

var testKeys = []string{"creds.json", "app-state-sync-version.json"}

type failingStore struct {
	err error
}

func (f failingStore) Write(context.Context, string, []byte) error  { return f.err }
func (f failingStore) Read(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingStore) Remove(context.Context, string) error         { return f.err }

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	blob, err := s.Read(ctx, "creds.json")
	if err != nil {
		t.Fatalf("Read(missing) error = %v", err)
	}
	if blob != nil {
		t.Fatalf("Read(missing) = %q, want nil", blob)
	}

	if err := s.Write(ctx, "creds.json", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, "creds.json", []byte("two")); err != nil {
		t.Fatal(err)
	}
	blob, err = s.Read(ctx, "creds.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(blob) != "two" {
		t.Errorf("Read = %q, want two", blob)
	}

	if err := s.Remove(ctx, "creds.json"); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, "creds.json"); err != nil {
		t.Fatalf("Remove(missing) error = %v", err)
	}
	blob, _ = s.Read(ctx, "creds.json")
	if blob != nil {
		t.Errorf("Read after Remove = %q, want nil", blob)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreCopiesBlobs(t *testing.T) {
	m := NewMemory()
	blob := []byte("abc")
	_ = m.Write(context.Background(), "k", blob)
	blob[0] = 'x'
	got, _ := m.Read(context.Background(), "k")
	if string(got) != "abc" {
		t.Errorf("stored blob mutated through caller slice: %q", got)
	}
}

func TestSQLStore(t *testing.T) {
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, NewSQL(db, "main"))
}

func TestSQLStoreNamespacesSessions(t *testing.T) {
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := NewSQL(db, "work").Write(ctx, "creds.json", []byte("work")); err != nil {
		t.Fatal(err)
	}
	blob, err := NewSQL(db, "main").Read(ctx, "creds.json")
	if err != nil {
		t.Fatal(err)
	}
	if blob != nil {
		t.Errorf("session main saw session work's blob: %q", blob)
	}
}

func TestGuardedWriteFailureIsPersistenceError(t *testing.T) {
	cause := errors.New("disk full")
	g := Guard(failingStore{err: cause}, nil)

	err := g.Write(context.Background(), "creds.json", []byte("x"))
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("Write error = %v, want *PersistenceError", err)
	}
	if perr.Op != "write" || perr.Key != "creds.json" || !errors.Is(err, cause) {
		t.Errorf("PersistenceError = %+v", perr)
	}

	if err := g.Remove(context.Background(), "creds.json"); !errors.As(err, &perr) {
		t.Errorf("Remove error = %v, want *PersistenceError", err)
	}
}

func TestGuardedReadFailureIsAbsent(t *testing.T) {
	g := Guard(failingStore{err: errors.New("timeout")}, nil)
	blob, err := g.Read(context.Background(), "creds.json")
	if err != nil || blob != nil {
		t.Errorf("Read = (%q, %v), want (nil, nil)", blob, err)
	}

	creds, err := Load(context.Background(), g, testKeys)
	if err != nil {
		t.Fatal(err)
	}
	if creds != nil {
		t.Errorf("Load = %v, want nil (fresh pairing)", creds)
	}
}

func TestLoadReturnsPresentKeys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Write(ctx, "creds.json", []byte("c"))

	creds, err := Load(ctx, m, testKeys)
	if err != nil {
		t.Fatal(err)
	}
	if len(creds) != 1 || string(creds["creds.json"]) != "c" {
		t.Errorf("Load = %v, want only creds.json", creds)
	}
}

func TestRemoveAll(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, k := range testKeys {
		_ = m.Write(ctx, k, []byte(k))
	}
	if err := RemoveAll(ctx, m, testKeys); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}

// fakeS3 is an in-memory stand-in for the S3 client.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(blob))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	blob, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = blob
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	s := NewS3WithClient(fake, "bucket", "sessions/main")
	exerciseStore(t, s)

	_ = s.Write(context.Background(), "creds.json", []byte("x"))
	if _, ok := fake.objects["bucket/sessions/main/creds.json"]; !ok {
		t.Errorf("object key not prefixed: %v", fake.objects)
	}
}

func TestNewS3RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), S3Config{}); err == nil {
		t.Error("NewS3 without bucket should fail")
	}
}

func TestRedisKeyPrefix(t *testing.T) {
	r := NewRedisWithClient(nil, "wppcrm:main")
	if got := r.key("creds.json"); got != "wppcrm:main:creds.json" {
		t.Errorf("key = %q", got)
	}
	if got := NewRedisWithClient(nil, "").key("creds.json"); got != "creds.json" {
		t.Errorf("unprefixed key = %q", got)
	}
}
