package watcher

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"folderwatch/internal/ingest"
	"folderwatch/internal/logging"
)

// settleQueue coalesces events per path and releases paths in first-arrival
// order once each has been quiet for the settle delay. A path still receiving
// events holds back the paths queued after it.
type settleQueue struct {
	delay    time.Duration
	order    []string
	lastSeen map[string]time.Time
}

func newSettleQueue(delay time.Duration) *settleQueue {
	return &settleQueue{delay: delay, lastSeen: make(map[string]time.Time)}
}

func (q *settleQueue) touch(path string, now time.Time) {
	if _, ok := q.lastSeen[path]; !ok {
		q.order = append(q.order, path)
	}
	q.lastSeen[path] = now
}

func (q *settleQueue) len() int { return len(q.order) }

// ready removes and returns the leading run of settled paths, preserving
// first-arrival order; next is the wait until the first unsettled path
// settles (zero when the queue is empty).
func (q *settleQueue) ready(now time.Time) (paths []string, next time.Duration) {
	n := 0
	for _, path := range q.order {
		wait := q.lastSeen[path].Add(q.delay).Sub(now)
		if wait > 0 {
			next = wait
			break
		}
		paths = append(paths, path)
		delete(q.lastSeen, path)
		n++
	}
	q.order = q.order[n:]
	return paths, next
}

// loop is the single consumer of filesystem events.
func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	queue := newSettleQueue(w.cfg.SettleDelay())
	var timer <-chan time.Time
	schedule := func(d time.Duration) {
		if timer == nil {
			timer = time.After(d)
		}
	}

	w.catchUp(queue)
	if queue.len() > 0 {
		schedule(w.cfg.SettleDelay())
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if w.handleEvent(fsw, queue, event) {
				schedule(w.cfg.SettleDelay())
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logging.WarnWithContext(w.logger, "filesystem event queue overflowed; relisting directory", "watch_overflow",
					logging.String(logging.FieldImpact, "events were dropped; a catch-up listing recovers them"),
				)
				w.catchUp(queue)
				if queue.len() > 0 {
					schedule(w.cfg.SettleDelay())
				}
				continue
			}
			logging.WarnWithContext(w.logger, "filesystem watch error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check inotify limits (fs.inotify.max_user_watches)"),
				logging.String(logging.FieldImpact, "some files may only be picked up on the next restart"),
			)
		case <-timer:
			timer = nil
			paths, next := queue.ready(time.Now())
			for _, path := range paths {
				select {
				case <-quit:
					return
				case <-ctx.Done():
					return
				default:
				}
				w.ingester.Ingest(ctx, path, ingest.TriggerEvent)
			}
			if next > 0 {
				schedule(next)
			}
		}
	}
}

// handleEvent queues candidate paths and reports whether anything was queued.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, queue *settleQueue, event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	if event.Has(fsnotify.Create) && w.cfg.Watcher.Recursive {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.excluded(event.Name) {
				return false
			}
			if err := fsw.Add(event.Name); err != nil {
				logging.WarnWithContext(w.logger, "could not watch new subdirectory", "watch_add_failed",
					logging.String(logging.FieldPath, event.Name),
					logging.Error(err),
					logging.String(logging.FieldImpact, "files in this directory are picked up on the next sweep"),
				)
			}
			// Files may have landed before the watch was added.
			before := queue.len()
			w.catchUpDir(queue, event.Name)
			return queue.len() > before
		}
	}
	if !w.ingester.Accepts(event.Name) {
		return false
	}
	queue.touch(event.Name, time.Now())
	return true
}

func (w *Watcher) catchUp(queue *settleQueue) {
	w.catchUpDir(queue, w.layout.Watched)
}

func (w *Watcher) catchUpDir(queue *settleQueue, dir string) {
	paths, err := w.listUnder(dir)
	if err != nil {
		logging.WarnWithContext(w.logger, "catch-up listing failed", "catch_up_failed",
			logging.String(logging.FieldPath, dir),
			logging.Error(err),
			logging.String(logging.FieldImpact, "files present before the subscription may wait for the next sweep"),
		)
		return
	}
	now := time.Now()
	for _, path := range paths {
		queue.touch(path, now)
	}
}
