package netmon

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// FileProvider reads connectivity from a flag file: the device is online
// while the file exists and contains "online" or "1". Operators toggle it to
// simulate losing the network.
type FileProvider struct {
	path string
}

// NewFileProvider watches path; the file need not exist yet
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: filepath.Clean(path)}
}

func (p *FileProvider) Current(context.Context) bool {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return false
	}
	v := string(bytes.ToLower(bytes.TrimSpace(b)))
	return v == "online" || v == "1"
}

// Watch watches the parent directory so creating and removing the flag file
// are both seen
func (p *FileProvider) Watch(ctx context.Context) <-chan bool {
	ch := make(chan bool, 8)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error().Err(err).Msg("failed to create fsnotify watcher; connectivity file changes will not be seen")
		go func() { <-ctx.Done(); close(ch) }()
		return ch
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		log.Error().Err(err).Str("path", p.path).Msg("failed to watch connectivity file directory")
		watcher.Close()
		go func() { <-ctx.Done(); close(ch) }()
		return ch
	}

	go func() {
		defer close(ch)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != p.path {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				select {
				case ch <- p.Current(ctx):
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("connectivity file watcher error")
			}
		}
	}()
	return ch
}
