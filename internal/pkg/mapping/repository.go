package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/padgrid/midicore/internal/pkg/logger"
)

var log = logger.GetLogger()

// ErrNotFound is returned for lookups of unknown profile ids.
var ErrNotFound = errors.New("profile not found")

// Repository is the persistence surface the engine consumes. The storage
// format is opaque to everything above it.
type Repository interface {
	LoadAll() ([]Profile, error)
	Get(id string) (Profile, error)
	Save(p Profile) error
	Delete(id string) error
}

// FileStore keeps one JSON file per profile in a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	err := os.MkdirAll(dir, 0o777)
	if err != nil {
		return nil, fmt.Errorf("cannot create profile directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) LoadAll() ([]Profile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read profile directory: %w", err)
	}

	var profiles []Profile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("cannot read profile %s: %w", entry.Name(), err)
		}
		var p Profile
		err = json.Unmarshal(data, &p)
		if err != nil {
			log.Info(fmt.Sprintf("skipping malformed profile file %s: %v", entry.Name(), err), logger.Warning)
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (s *FileStore) Get(id string) (Profile, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("cannot read profile %s: %w", id, err)
	}
	var p Profile
	err = json.Unmarshal(data, &p)
	if err != nil {
		return Profile{}, fmt.Errorf("cannot decode profile %s: %w", id, err)
	}
	return p, nil
}

func (s *FileStore) Save(p Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode profile %s: %w", p.ID, err)
	}
	err = os.WriteFile(s.path(p.ID), data, 0o666)
	if err != nil {
		return fmt.Errorf("cannot write profile %s: %w", p.ID, err)
	}
	return nil
}

func (s *FileStore) Delete(id string) error {
	err := os.Remove(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("cannot delete profile %s: %w", id, err)
	}
	return nil
}

// Watch reports profile files changed on disk by something else than this
// process (an editor, a sync tool). Each event carries the profile id.
func (s *FileStore) Watch(ctx context.Context) <-chan string {
	var change = make(chan string)

	go func() {
		defer close(change)
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.Info(fmt.Sprintf("profile watcher unavailable: %v", err), logger.Warning)
			return
		}

		go func() {
			<-ctx.Done()
			err := watcher.Close()
			if err != nil {
				log.Info(fmt.Sprintf("closing watcher failed: %v", err), logger.Debug)
			}
		}()

		err = watcher.Add(s.dir)
		if err != nil {
			log.Info(fmt.Sprintf("cannot watch profile directory: %v", err), logger.Warning)
			return
		}

		for event := range watcher.Events {
			if event.Op != fsnotify.Write && event.Op != fsnotify.Create {
				continue
			}
			name := strings.ToLower(event.Name)
			if !strings.HasSuffix(name, ".json") {
				continue
			}
			id := strings.TrimSuffix(filepath.Base(event.Name), ".json")
			log.Info(fmt.Sprintf("profile change detected: %s", event.Name), logger.Info)
			change <- id
		}
	}()

	return change
}
