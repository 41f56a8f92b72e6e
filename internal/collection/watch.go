package collection

import (
	"context"
	"time"

	"github.com/unkn0wn-root/restbro/internal/watcher"
)

// Watch polls every cached collection until ctx is done, reloading those
// whose files changed on disk and dropping those whose directory vanished.
// Collections loaded after Watch starts are tracked on the next tick.
func (s *Store) Watch(ctx context.Context, interval time.Duration) error {
	w := watcher.New(watcher.Options{Interval: interval, Ext: RequestExt})
	defer w.Stop()

	track := func() {
		known := make(map[string]struct{})
		for _, root := range w.Tracked() {
			known[root] = struct{}{}
		}
		for _, c := range s.Collections() {
			if _, ok := known[c.Path]; ok {
				continue
			}
			if err := w.Track(c.Path); err != nil {
				s.log.Warn("cannot watch collection", "path", c.Path, "err", err)
			}
		}
	}
	track()

	w.Start()

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			track()
		case evt, ok := <-w.Events():
			if !ok {
				return nil
			}
			s.handleWatchEvent(w, evt)
		}
	}
}

func (s *Store) handleWatchEvent(w *watcher.Watcher, evt watcher.Event) {
	switch evt.Kind {
	case watcher.EventMissing:
		w.Forget(evt.Root)
		s.forget(evt.Root)
		s.log.Info("collection removed", "path", evt.Root)
		s.notify(Event{Kind: EventRemoved, Collection: evt.Root})
	case watcher.EventChanged:
		if _, err := s.Reload(evt.Root); err != nil {
			s.log.Warn("reload after change failed", "path", evt.Root, "err", err)
			return
		}
		s.log.Debug("collection reloaded", "path", evt.Root, "files", evt.Curr.Files)
	}
}
