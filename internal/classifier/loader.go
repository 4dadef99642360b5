package classifier

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ParsePhrases decodes a YAML phrase file:
//
//	positive:
//	  - confirmed
//	negative:
//	  - unable to
func ParsePhrases(data []byte) (PhraseSet, error) {
	var p PhraseSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return PhraseSet{}, fmt.Errorf("classifier: parse phrases: %w", err)
	}
	return p.normalize()
}

func LoadFile(path string) (PhraseSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PhraseSet{}, fmt.Errorf("classifier: read phrases: %w", err)
	}
	return ParsePhrases(data)
}

// LoadFile replaces the active phrases with the contents of path.
func (c *Classifier) LoadFile(path string) error {
	p, err := LoadFile(path)
	if err != nil {
		return err
	}
	return c.Replace(p)
}

const reloadDebounce = 100 * time.Millisecond

// Watch reloads path whenever it changes until ctx is done. The parent
// directory is watched so editors that save by rename are picked up.
// A file that fails to parse is logged and the previous phrases stay active.
func (c *Classifier) Watch(ctx context.Context, path string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("classifier: watch %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("classifier: watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return fmt.Errorf("classifier: watch %s: %w", path, err)
	}

	go func() {
		defer w.Close()
		var (
			timer  *time.Timer
			reload <-chan time.Time
		)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != abs {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(reloadDebounce)
				reload = timer.C
			case <-reload:
				reload = nil
				if err := c.LoadFile(abs); err != nil {
					log.Warn("classifier reload failed; keeping previous phrases", "path", abs, "err", err)
					continue
				}
				p := c.Phrases()
				log.Info("classifier phrases reloaded", "path", abs, "positive", len(p.Positive), "negative", len(p.Negative))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("classifier watcher error", "err", err)
			}
		}
	}()
	return nil
}
