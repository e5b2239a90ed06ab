package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// watchCmd re-extracts manifests as they change on disk
var watchCmd = &cobra.Command{
	Use:   "watch [file]...",
	Short: "Re-extract manifests whenever they change",
	Long: `Watches the given manifests and re-runs extraction after each write.
Rapid save bursts are debounced so editors that write several times per
save trigger a single extraction. Stop with Ctrl+C.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	mw, err := newManifestWatcher(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := mw.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Watching %d manifest(s). Press Ctrl+C to stop.\n", len(args))

	<-ctx.Done()
	mw.Stop()
	fmt.Println("Watch stopped.")
	return nil
}

// manifestWatcher debounces filesystem events on a fixed set of
// manifests and re-extracts each one after its events settle.
type manifestWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	targets     map[string]struct{}
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
}

func newManifestWatcher(paths []string) (*manifestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	targets := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = watcher.Close()
			return nil, err
		}
		if registry.Detect(abs) == nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("no manager matches %s", p)
		}
		targets[abs] = struct{}{}
	}

	return &manifestWatcher{
		watcher:     watcher,
		targets:     targets,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Parent directories are watched rather than the
// files themselves: many editors replace the file on save, which drops
// a watch pinned to the old inode.
func (mw *manifestWatcher) Start(ctx context.Context) error {
	dirs := make(map[string]struct{})
	for path := range mw.targets {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := mw.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	go mw.run(ctx)
	return nil
}

// Stop halts the watch loop and waits for it to drain.
func (mw *manifestWatcher) Stop() {
	close(mw.stopCh)
	<-mw.doneCh
	_ = mw.watcher.Close()
}

func (mw *manifestWatcher) run(ctx context.Context) {
	defer close(mw.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mw.stopCh:
			return
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			mw.handleEvent(event)
		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watch error", zap.Error(err))
		case <-debounceTicker.C:
			mw.processSettled(ctx)
		}
	}
}

func (mw *manifestWatcher) handleEvent(event fsnotify.Event) {
	// Write, create and rename all signal new content. Chmod and
	// remove do not.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	path := filepath.Clean(event.Name)
	if _, ok := mw.targets[path]; !ok {
		return
	}

	logger.Debug("manifest event",
		zap.String("path", path),
		zap.String("op", event.Op.String()))

	mw.mu.Lock()
	mw.debounceMap[path] = time.Now()
	mw.mu.Unlock()
}

// processSettled extracts every manifest whose last event is older than
// the debounce window.
func (mw *manifestWatcher) processSettled(ctx context.Context) {
	mw.mu.Lock()
	now := time.Now()
	var settled []string
	for path, eventTime := range mw.debounceMap {
		if now.Sub(eventTime) >= mw.debounceDur {
			settled = append(settled, path)
			delete(mw.debounceMap, path)
		}
	}
	mw.mu.Unlock()

	for _, path := range settled {
		mw.extract(ctx, path)
	}
}

func (mw *manifestWatcher) extract(ctx context.Context, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("manifest gone, skipping", zap.String("path", path))
			return
		}
		logger.Warn("cannot read manifest", zap.String("path", path), zap.Error(err))
		return
	}

	m := registry.Detect(path)
	deps, err := m.Extract(ctx, content, path)
	if err != nil {
		fmt.Printf("%s: extraction failed: %v\n", path, err)
		return
	}

	locked := 0
	for _, dep := range deps {
		if dep.LockedVersion != "" {
			locked++
		}
	}
	fmt.Printf("%s: %d dependencies (%d locked)\n", path, len(deps), locked)
}
