// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Start watches the new directory and submits every file already in it.
// Writers are expected to create files elsewhere and rename them into the
// directory once complete.
func (q *Queue) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Join(q.config.Dir, newDir)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	q.mu.Lock()
	q.watcher = watcher
	q.wg.Add(1)
	q.mu.Unlock()
	go q.watch(watcher)
	// Process any files currently in the directory
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			q.submit(entry.Name())
		}
	}
	q.logger.Info("watching message directory", "dir", dir, "existing", len(entries))
	return nil
}

func (q *Queue) watch(watcher *fsnotify.Watcher) {
	defer q.wg.Done()
	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !evt.Has(fsnotify.Create) {
				continue
			}
			q.submit(filepath.Base(evt.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			q.logger.Error("message directory watch error", "error", err)
		}
	}
}

func (q *Queue) submit(name string) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()
	go func() {
		defer q.wg.Done()
		_, _ = q.Process(q.ctx, name)
	}()
}

// Stop closes the watcher and waits for in-flight processing to finish
func (q *Queue) Stop() error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	watcher := q.watcher
	q.mu.Unlock()
	q.cancel()
	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	q.wg.Wait()
	if err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		return fmt.Errorf("close watcher: %w", err)
	}
	return nil
}
