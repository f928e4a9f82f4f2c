package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/chatagent/logging"
)

// WatchOptions configure a Watcher.
type WatchOptions struct {
	// Debounce coalesces bursts of file events into one reload.
	Debounce time.Duration
	// Load reads the file. Defaults to Load.
	Load   func(path string) (*Config, error)
	Logger logging.Logger
}

// Watcher reloads a configuration file whenever it changes on disk and hands
// every successfully loaded config to a callback. Reloads that fail to parse
// or validate are logged and skipped; the previous config stays live.
type Watcher struct {
	path     string
	onChange func(*Config)
	opts     WatchOptions

	fsw  *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// Watch starts watching path. The parent directory is watched so editors that
// replace the file through a rename are still noticed.
func Watch(path string, onChange func(*Config), optFns ...func(o *WatchOptions)) (*Watcher, error) {
	opts := WatchOptions{
		Debounce: 100 * time.Millisecond,
		Load:     Load,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		onChange: onChange,
		opts:     opts,
		fsw:      fsw,
		done:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.opts.Logger.Warn("config.watch.error", "path", w.path, "error", err.Error())
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.opts.Load(w.path)
	if err != nil {
		w.opts.Logger.Warn("config.reload.failed", "path", w.path, "error", err.Error())
		return
	}
	w.opts.Logger.Info("config.reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Close stops watching and waits for the watch goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}
