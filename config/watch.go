package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchBackendRegistry watches backends.yaml and invokes onChange with the
// freshly loaded registry whenever the file is rewritten. It blocks until
// stop is closed.
func WatchBackendRegistry(stop <-chan struct{}, onChange func(*BackendRegistry)) {
	registryPath, err := GetBackendRegistryPath()
	if err != nil {
		log.Printf("Error resolving backend registry path: %v", err)
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("Error creating config watcher: %v", err)
		return
	}
	defer watcher.Close()

	configDir := filepath.Dir(registryPath)
	if err := watcher.Add(configDir); err != nil {
		log.Printf("Error watching config directory: %v", err)
		return
	}

	var lastModTime time.Time
	if stat, err := os.Stat(registryPath); err == nil {
		lastModTime = stat.ModTime()
	}

	for {
		select {
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(registryPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			stat, err := os.Stat(registryPath)
			if err != nil {
				continue
			}

			if stat.ModTime().After(lastModTime) {
				log.Printf("Backend registry changed, reloading...")
				lastModTime = stat.ModTime()

				// Editors often write in two steps; let the file settle.
				time.Sleep(100 * time.Millisecond)

				registry, err := LoadBackendRegistry()
				if err != nil {
					log.Printf("Error reloading backend registry: %v", err)
					continue
				}
				onChange(registry)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Config watcher error: %v", err)
		}
	}
}
