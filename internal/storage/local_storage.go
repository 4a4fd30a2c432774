package storage

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
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

func (ls *LocalStorage) SaveFile(file multipart.File, info FileInfo) (string, error) {
	ext := strings.ToLower(filepath.Ext(info.Filename))
	if ext == "" {
		ext = ".mp4"
	}

	name := fmt.Sprintf("%s%s", uuid.New().String(), ext)
	fullPath := filepath.Join(ls.basePath, name)

	dst, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	return name, nil
}

func (ls *LocalStorage) OpenFile(name string) (io.ReadSeekCloser, error) {
	cleanPath := filepath.Clean(name)
	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid path")
	}

	file, err := os.Open(filepath.Join(ls.basePath, cleanPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (ls *LocalStorage) FilePath(name string) string {
	return filepath.Join(ls.basePath, filepath.Clean(name))
}

func (ls *LocalStorage) DeleteFile(name string) error {
	cleanPath := filepath.Clean(name)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid path")
	}

	if err := os.Remove(filepath.Join(ls.basePath, cleanPath)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
