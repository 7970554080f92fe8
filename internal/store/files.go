// Package store owns the on-disk files under the vulnagent home: the config
// file and JSONL session transcripts. Writers to the same path are serialized
// within the process.
package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// maxLineSize bounds a single JSONL line. Session records embed full tool
// results, so this is well above bufio's default.
const maxLineSize = 16 * 1024 * 1024

var (
	pathLocksMu sync.Mutex
	pathLocks   = map[string]*sync.Mutex{}
)

// ReadFile reads a file and returns it as a string.
func ReadFile(path string) (string, error) {
	cleanPath, err := cleanPath(path)
	if err != nil {
		return "", err
	}

	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ReadLines returns the non-empty lines of a JSONL file. A missing file has
// no lines.
func ReadLines(path string) ([][]byte, error) {
	cleanPath, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	lock := lockForPath(cleanPath)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(cleanPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", cleanPath, err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %q: %w", cleanPath, err)
	}
	return lines, nil
}

// WriteFile atomically replaces a file's contents.
func WriteFile(path string, data []byte) error {
	cleanPath, err := cleanPath(path)
	if err != nil {
		return err
	}

	lock := lockForPath(cleanPath)
	lock.Lock()
	defer lock.Unlock()

	return replaceFile(cleanPath, data)
}

// CreateFile writes data to path only when nothing exists there yet. It
// reports whether the file was created; an existing file is left untouched.
func CreateFile(path string, data []byte) (bool, error) {
	cleanPath, err := cleanPath(path)
	if err != nil {
		return false, err
	}

	lock := lockForPath(cleanPath)
	lock.Lock()
	defer lock.Unlock()

	if err := ensureDir(cleanPath); err != nil {
		return false, err
	}
	f, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create file %q: %w", cleanPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return false, fmt.Errorf("write file %q: %w", cleanPath, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close file %q: %w", cleanPath, err)
	}
	return true, nil
}

// AppendLine appends one newline-terminated line, creating the file if
// missing. line must not contain a newline itself.
func AppendLine(path string, line []byte) error {
	if bytes.ContainsAny(line, "\r\n") {
		return errors.New("line must not contain newlines")
	}
	cleanPath, err := cleanPath(path)
	if err != nil {
		return err
	}

	lock := lockForPath(cleanPath)
	lock.Lock()
	defer lock.Unlock()

	if err := ensureDir(cleanPath); err != nil {
		return err
	}
	f, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open file %q for append: %w", cleanPath, err)
	}
	defer f.Close()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("append file %q: %w", cleanPath, err)
	}
	return nil
}

func replaceFile(cleanPath string, data []byte) error {
	if err := ensureDir(cleanPath); err != nil {
		return err
	}
	dir := filepath.Dir(cleanPath)

	tempFile, err := os.CreateTemp(dir, filepath.Base(cleanPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %q: %w", cleanPath, err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write temp file for %q: %w", cleanPath, err)
	}
	if err := tempFile.Chmod(0o644); err != nil {
		tempFile.Close()
		return fmt.Errorf("chmod temp file for %q: %w", cleanPath, err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file for %q: %w", cleanPath, err)
	}
	if err := os.Rename(tempPath, cleanPath); err != nil {
		return fmt.Errorf("replace file %q: %w", cleanPath, err)
	}
	return nil
}

func ensureDir(cleanPath string) error {
	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}

func lockForPath(path string) *sync.Mutex {
	pathLocksMu.Lock()
	defer pathLocksMu.Unlock()

	lock, ok := pathLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		pathLocks[path] = lock
	}
	return lock
}

func cleanPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path is required")
	}
	return filepath.Clean(trimmed), nil
}
