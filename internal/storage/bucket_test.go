package storage

import (
	"bytes"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{
		Root:          t.TempDir(),
		PublicBaseURL: "https://ripple.example/",
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func TestUploadAndOpenRoundTrip(t *testing.T) {
	store := newTestStore(t)

	publicURL, err := store.Upload("avatars", "u-1/profile.png", []byte("image-bytes"))
	if err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}
	if publicURL != "https://ripple.example/storage/avatars/u-1/profile.png" {
		t.Fatalf("unexpected public url %q", publicURL)
	}

	data, err := store.Open("avatars", "u-1/profile.png")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if !bytes.Equal(data, []byte("image-bytes")) {
		t.Fatalf("unexpected object bytes %q", data)
	}
}

func TestUploadOverwritesExistingObject(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Upload("avatars", "u-1/profile.png", []byte("old")); err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}
	if _, err := store.Upload("avatars", "u-1/profile.png", []byte("new")); err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}

	data, err := store.Open("avatars", "u-1/profile.png")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if string(data) != "new" {
		t.Fatalf("expected overwrite, got %q", data)
	}
}

func TestOpenMissingObject(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Open("avatars", "nobody.png"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	cases := []struct {
		name   string
		bucket string
		path   string
		want   error
	}{
		{"empty bucket", "", "file.png", ErrInvalidBucket},
		{"bucket with slash", "a/b", "file.png", ErrInvalidBucket},
		{"bucket with dot", "..", "file.png", ErrInvalidBucket},
		{"empty path", "avatars", "", ErrInvalidPath},
		{"parent escape", "avatars", "../secrets.txt", ErrInvalidPath},
		{"nested escape", "avatars", "a/../../secrets.txt", ErrInvalidPath},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := store.Upload(testCase.bucket, testCase.path, []byte("x")); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}
