package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (ls *LocalStorage) resolve(key string) (string, error) {
	cleanPath := filepath.Clean(key)
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) || filepath.IsAbs(cleanPath) {
		return "", fmt.Errorf("object %s escapes storage root: %w", key, ErrObjectNotFound)
	}
	return filepath.Join(ls.basePath, cleanPath), nil
}

func (ls *LocalStorage) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	fullPath, err := ls.resolve(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("object %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("object %s is a directory: %w", key, ErrObjectNotFound)
	}

	return &ObjectInfo{
		Key:          key,
		Size:         info.Size(),
		ContentType:  mime.TypeByExtension(filepath.Ext(key)),
		LastModified: info.ModTime(),
	}, nil
}
