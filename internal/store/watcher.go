package store

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

var watchedFiles = map[string]bool{
	UsersFile:    true,
	RolesFile:    true,
	SettingsFile: true,
	BellsFile:    true,
}

// Watcher reloads the store when a configuration file changes on disk, so
// edits made outside the API reach the store without an API call. Events are
// debounced because editors and atomic renames emit bursts.
type Watcher struct {
	store    *Store
	logger   *log.Logger
	onReload func()
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher starts watching the store's config directory. onReload runs
// after every reload, including one where a file failed to load (typically
// the scheduler notification).
func NewWatcher(store *Store, logger *log.Logger, onReload func()) (*Watcher, error) {
	if logger == nil {
		logger = log.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(store.dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		store:    store,
		logger:   logger,
		onReload: onReload,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !watchedFiles[filepath.Base(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("config watcher: %v", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.Printf("config files changed on disk, reloading")
			w.store.LoadAll()
			if w.onReload != nil {
				w.onReload()
			}
		}
	}
}
