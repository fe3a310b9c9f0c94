package scheduler

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchInputDir binds an fsnotify watch on the policy input directory
// (DOMAIN STACK: fsnotify) so that after a change the next ScheduleRun
// check, which still runs on the pulse, treats the policy as changed. It
// supplements, not replaces, the periodic pulse: a missed
// or coalesced event still self-heals on the next tick because ScheduleRun
// always re-reads the validated-at marker from disk.
func (d *Daemon) watchInputDir() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(d.cfg.InputDir); err != nil {
		w.Close()
		return nil, err
	}
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				d.logger.Debug().Str("event", ev.String()).Msg("input directory changed")
				d.forceReloadCheck()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				d.logger.Warn().Err(err).Msg("fsnotify watch error")
			}
		}
	}()
	return w, nil
}

// forceReloadCheck clears the remembered validated-at timestamp so the
// next ScheduleRun call treats the policy as changed, mirroring the
// SIGHUP handler's effect.
func (d *Daemon) forceReloadCheck() {
	d.lastValidatedAt = time.Time{}
}
