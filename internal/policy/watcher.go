package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 250 * time.Millisecond

type changeHandler func(path string)

// fileWatcher owns an fsnotify.Watcher on its own goroutine (Go's
// equivalent of a dedicated OS thread: fsnotify does no thread-affine
// work, so the scheduler is free to multiplex it) and debounces bursts of
// events into a single reload call.
type fileWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	handler changeHandler
	done    chan struct{}
	pending chan string
}

func newFileWatcher(dir string, handler changeHandler) (*fileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := addRecursive(watcher, dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch directory: %w", err)
	}

	fw := &fileWatcher{
		watcher: watcher,
		dir:     dir,
		handler: handler,
		done:    make(chan struct{}),
		pending: make(chan string, 64),
	}

	go fw.watch()
	go fw.debounceLoop()

	return fw, nil
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (fw *fileWatcher) Close() error {
	close(fw.done)
	return fw.watcher.Close()
}

func (fw *fileWatcher) watch() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fw.shouldHandle(event) {
				select {
				case fw.pending <- event.Name:
				default:
				}
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = fw.watcher.Add(event.Name)
				}
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("watcher error")
		case <-fw.done:
			return
		}
	}
}

// debounceLoop drains pending until the channel goes quiet for
// watchDebounce, then calls the handler once per burst, per spec §4.1.
func (fw *fileWatcher) debounceLoop() {
	var timer *time.Timer
	var last string

	for {
		if timer == nil {
			select {
			case path, ok := <-fw.pending:
				if !ok {
					return
				}
				last = path
				timer = time.NewTimer(watchDebounce)
			case <-fw.done:
				return
			}
			continue
		}

		select {
		case path, ok := <-fw.pending:
			if !ok {
				return
			}
			last = path
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(watchDebounce)
		case <-timer.C:
			fw.handler(last)
			timer = nil
		case <-fw.done:
			return
		}
	}
}

func (fw *fileWatcher) shouldHandle(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	return strings.HasSuffix(strings.ToLower(event.Name), ".rego")
}
