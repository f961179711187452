package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/weiihann/energy-stats-indexer/pkg/utils"
)

const compressedSuffix = ".zst"

// ErrNotFound is returned by Load when neither the plain nor the compressed
// variant of a file exists.
var ErrNotFound = errors.New("file not found in store")

// FileStore keeps JSON documents in a directory, optionally zstd-compressed.
type FileStore struct {
	Path    string
	encoder *utils.ZstdEncoder
	decoder *utils.ZstdDecoder
}

func NewFileStore(path string) (*FileStore, error) {
	return NewFileStoreWithCompression(path, false)
}

func NewFileStoreWithCompression(path string, compression bool) (*FileStore, error) {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, err
	}

	decoder, err := utils.NewZstdDecoder()
	if err != nil {
		return nil, err
	}

	fs := &FileStore{Path: path, decoder: decoder}
	if compression {
		encoder, err := utils.NewZstdEncoder()
		if err != nil {
			decoder.Close()
			return nil, err
		}
		fs.encoder = encoder
	}
	return fs, nil
}

func (fs *FileStore) Save(filename string, data []byte) error {
	return os.WriteFile(filepath.Join(fs.Path, filename), data, 0o644)
}

// SaveCompressed writes data to filename with a .zst suffix.
func (fs *FileStore) SaveCompressed(filename string, data []byte) error {
	if fs.encoder == nil {
		return fmt.Errorf("compression is not enabled for this FileStore")
	}

	compressed, err := fs.encoder.Compress(data)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(fs.Path, filename+compressedSuffix), compressed, 0o644)
}

// Load returns the contents of filename, preferring the compressed variant.
func (fs *FileStore) Load(filename string) ([]byte, error) {
	path := filepath.Join(fs.Path, filename)

	compressed, err := os.ReadFile(path + compressedSuffix)
	if err == nil {
		return fs.decoder.Decompress(compressed)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not read %s: %w", path+compressedSuffix, err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", filename, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}
	return data, nil
}

func (fs *FileStore) Close() error {
	if fs.encoder != nil {
		fs.encoder.Close()
	}
	if fs.decoder != nil {
		fs.decoder.Close()
	}
	return nil
}
