package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the active profile when its file changes on disk, so
// edits take effect without restarting. Reloaded profiles are delivered on
// a channel the consumer thread drains; nothing engine-owned is touched
// from the watch goroutine.
type Watcher struct {
	path    string
	log     zerolog.Logger
	watcher *fsnotify.Watcher
	reloads chan *Profile
	done    chan struct{}
}

// NewWatcher starts watching the profile's directory (editors replace
// files, so watching the file itself misses the rename).
func NewWatcher(path string, log zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		path:    path,
		log:     log,
		watcher: fw,
		reloads: make(chan *Profile, 1),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Reloads delivers freshly parsed profiles after on-disk edits.
func (w *Watcher) Reloads() <-chan *Profile { return w.reloads }

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	var pending *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Editors emit bursts of writes; settle before reloading.
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn().Err(err).Str("profile", w.path).Msg("profile reload failed")
				continue
			}
			select {
			case w.reloads <- cfg:
			default:
				// Consumer still holds an unprocessed reload; replace it.
				select {
				case <-w.reloads:
				default:
				}
				w.reloads <- cfg
			}
			w.log.Info().Str("profile", w.path).Msg("profile reloaded")
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("profile watcher error")
		}
	}
}
