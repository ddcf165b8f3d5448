// Package storage persists session images and aggregated results,
// preferring removable volumes and falling back to a local directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/srosendal/rpi-uv/internal/debug"
)

var (
	// ErrNoRemovable means no writable removable volume was found.
	// Recovered internally via the fallback directory; non-fatal.
	ErrNoRemovable = errors.New("no writable removable volume")

	// ErrPersistFailed means the fallback write itself failed. Fatal.
	ErrPersistFailed = errors.New("failed to persist session")
)

// Locations a session can land in.
const (
	LocationRemovable = "removable"
	LocationFallback  = "fallback"
)

// Report describes where a session was stored and which files were
// written.
type Report struct {
	Location  string   `json:"location"`
	SavedPath string   `json:"saved_path"`
	Files     []string `json:"files"`
}

// Record is the structured results file written next to the photos,
// one field per region id.
type Record struct {
	Folder    string         `json:"folder"`
	Timestamp string         `json:"timestamp"`
	Results   map[string]int `json:"results"`
}

// Writer resolves the storage target at save time, never at capture
// time.
type Writer struct {
	roots    []string // mount roots probed for removable volumes
	fallback string
	subdir   string
}

// NewWriter creates a writer probing the given mount roots (e.g.
// /media, /mnt) and falling back to the fallback directory. subdir is
// the directory created on removable volumes to hold sessions.
func NewWriter(roots []string, fallback, subdir string) *Writer {
	return &Writer{roots: roots, fallback: fallback, subdir: subdir}
}

// Probe returns mounted removable volumes that accept writes, checked
// with a transient write test.
func (w *Writer) Probe() []string {
	var drives []string
	for _, root := range w.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || e.Name() == "cdrom" || e.Name() == "floppy" {
				continue
			}
			mount := filepath.Join(root, e.Name())
			test := filepath.Join(mount, ".write_test_"+uuid.NewString())
			if err := os.WriteFile(test, nil, 0o644); err != nil {
				continue
			}
			os.Remove(test)
			drives = append(drives, mount)
		}
	}
	debug.Verbose("Storage probe found %d removable volume(s): %v", len(drives), drives)
	return drives
}

// RemovableTarget returns the first writable removable volume, or
// ErrNoRemovable when none is mounted.
func (w *Writer) RemovableTarget() (string, error) {
	drives := w.Probe()
	if len(drives) == 0 {
		return "", ErrNoRemovable
	}
	return drives[0], nil
}

// Save copies every photo of the session plus the results record to
// storage. Removable volumes are preferred; absence or a failed copy
// falls back to the local directory. Idempotent: re-saving a session
// overwrites prior output. Success is never reported with a partially
// written record.
func (w *Writer) Save(sessionDir, folder string, averaged []int) (*Report, error) {
	if volume, err := w.RemovableTarget(); err == nil {
		dest := filepath.Join(volume, w.subdir, folder)
		files, err := w.writeAll(sessionDir, dest, folder, averaged)
		if err == nil {
			debug.Info("Saved %d files to removable volume: %s", len(files), dest)
			return &Report{Location: LocationRemovable, SavedPath: dest, Files: files}, nil
		}
		debug.Info("Removable save failed (%v), falling back to local directory", err)
	} else {
		debug.Verbose("No removable volume found, using fallback directory")
	}

	dest := filepath.Join(w.fallback, folder)
	files, err := w.writeAll(sessionDir, dest, folder, averaged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	debug.Info("Saved %d files to fallback: %s", len(files), dest)
	return &Report{Location: LocationFallback, SavedPath: dest, Files: files}, nil
}

// writeAll performs the identical write sequence against any target:
// copy photos, then write the results record temp-then-rename.
func (w *Writer) writeAll(srcDir, dest, folder string, averaged []int) ([]string, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dest, err)
	}

	photos, err := filepath.Glob(filepath.Join(srcDir, "*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(photos)

	var files []string
	for _, photo := range photos {
		name := filepath.Base(photo)
		if err := copyFile(photo, filepath.Join(dest, name)); err != nil {
			return nil, fmt.Errorf("copy %s: %w", name, err)
		}
		files = append(files, name)
		debug.Saved(dest, name)
	}

	record := Record{
		Folder:    folder,
		Timestamp: time.Now().Format(time.RFC3339),
		Results:   make(map[string]int, len(averaged)),
	}
	for i, v := range averaged {
		record.Results[strconv.Itoa(i+1)] = v
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, err
	}

	recordName := folder + "_results.json"
	tmp := filepath.Join(dest, "."+recordName+"."+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dest, recordName)); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("rename record: %w", err)
	}
	files = append(files, recordName)
	debug.Saved(dest, recordName)

	return files, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
