package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// metaSuffix names the JSON sidecar written next to each blob.
const metaSuffix = ".meta.json"

// FSBlobStore keeps blobs as files on an afero filesystem: the content under
// the blob id and its metadata in a sidecar. Both are written to a temporary
// name, synced and renamed into place, so readers never see a partial blob.
type FSBlobStore struct {
	fs afero.Fs
}

// NewFSBlobStore stores blobs at the root of fsys.
func NewFSBlobStore(fsys afero.Fs) *FSBlobStore {
	return &FSBlobStore{fs: fsys}
}

// NewDirBlobStore stores blobs in dir on the local disk, creating it if
// needed.
func NewDirBlobStore(dir string) (*FSBlobStore, error) {
	osfs := afero.NewOsFs()
	if err := osfs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return NewFSBlobStore(afero.NewBasePathFs(osfs, dir)), nil
}

func (s *FSBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if meta.FileName == "" {
		return nil, ErrMissingFileName
	}

	// The id is only known after stamping; write under a scratch name first.
	tmp := "upload-" + uuid.NewString() + ".tmp"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create blob file: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(io.LimitReader(content, MaxFileSize+1), hasher))
	if err == nil && size > MaxFileSize {
		err = ErrFileTooLarge
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		if errors.Is(err, ErrFileTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("write blob: %w", err)
	}

	stamp(&meta, size, hasher.Sum(nil))
	if err := s.writeMeta(meta); err != nil {
		_ = s.fs.Remove(tmp)
		return nil, err
	}
	if err := s.fs.Rename(tmp, meta.ID); err != nil {
		_ = s.fs.Remove(tmp)
		_ = s.fs.Remove(meta.ID + metaSuffix)
		return nil, fmt.Errorf("rename blob: %w", err)
	}

	out := meta
	return &out, nil
}

func (s *FSBlobStore) writeMeta(meta BlobMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode blob metadata: %w", err)
	}
	path := meta.ID + metaSuffix
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o640); err != nil {
		return fmt.Errorf("write blob metadata: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename blob metadata: %w", err)
	}
	return nil
}

func (s *FSBlobStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	// Ids are server-assigned uuids; anything else cannot name a blob and must
	// not reach the filesystem.
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil, ErrBlobNotFound
	}

	data, err := afero.ReadFile(s.fs, id+metaSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("read blob metadata: %w", err)
	}
	var meta BlobMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, nil, fmt.Errorf("decode blob metadata: %w", err)
	}

	f, err := s.fs.Open(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return f, &meta, nil
}
