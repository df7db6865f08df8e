package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"server/internal/domain"
)

func TestFileStoreWriteReadDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	key, err := store.Write(ctx, "job-1", KindAudio, []byte("audio-bytes"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if key != "jobs/job-1/audio.mp3" {
		t.Errorf("key = %q, want deterministic jobs/job-1/audio.mp3", key)
	}

	rc, size, err := store.Read(ctx, "job-1", KindAudio)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "audio-bytes" || size != int64(len(data)) {
		t.Errorf("read %q size %d", data, size)
	}

	if err := store.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, kind := range Kinds {
		if _, _, err := store.Read(ctx, "job-1", kind); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Read(%s) after delete = %v, want ErrNotFound", kind, err)
		}
	}
}

func TestFileStoreWriteOnce(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Write(ctx, "job-2", KindVideo, []byte("v1")); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if _, err := store.Write(ctx, "job-2", KindVideo, []byte("v2")); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Write = %v, want ErrConflict", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	for _, id := range []string{"", "../evil", "a/b", `a\b`} {
		if _, err := store.Write(ctx, id, KindAudio, nil); err == nil {
			t.Errorf("Write(%q) accepted invalid job id", id)
		}
	}
}

func TestFileStoreDeleteMissingJob(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Delete(context.Background(), "never-existed"); err != nil {
		t.Fatalf("Delete of absent job should be a no-op, got %v", err)
	}
}
