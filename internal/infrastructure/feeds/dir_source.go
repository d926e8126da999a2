package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
)

const defaultHistoryPoll = 30 * time.Second

// DirSource serves feeds from a directory of JSON fixtures, one
// <collection>.json object per source, and pushes a new delivery whenever a
// fixture file changes.
type DirSource struct {
	dir     string
	history ports.ResultRepository
	poll    time.Duration
	logger  *slog.Logger
}

var _ ports.FeedSubscriber = (*DirSource)(nil)

// NewDirSource reads fixtures from dir. history may be nil, in which case the
// history subscription delivers an empty list once.
func NewDirSource(dir string, history ports.ResultRepository, poll time.Duration, logger *slog.Logger) *DirSource {
	if logger == nil {
		logger = slog.Default()
	}
	if poll <= 0 {
		poll = defaultHistoryPoll
	}
	return &DirSource{
		dir:     dir,
		history: history,
		poll:    poll,
		logger:  logger.With("component", "dir_source"),
	}
}

// Path is the fixture file for src.
func (s *DirSource) Path(src domain.Source) string {
	return filepath.Join(s.dir, src.Collection+".json")
}

func (s *DirSource) Subscribe(ctx context.Context, src domain.Source, handle ports.DocumentHandler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fixture watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch fixture dir %s: %w", s.dir, err)
	}

	path := filepath.Clean(s.Path(src))
	s.deliver(src, path, handle)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.deliver(src, path, handle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			handle(nil, err)
		}
	}
}

func (s *DirSource) SubscribeHistory(ctx context.Context, limit int, handle ports.HistoryHandler) error {
	if s.history == nil {
		handle([]domain.AnalysisResult{}, nil)
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		rows, err := s.history.Recent(ctx, limit)
		if err != nil {
			handle(nil, err)
		} else {
			records := make([]domain.AnalysisResult, 0, len(rows))
			for _, r := range rows {
				records = append(records, r.Result)
			}
			handle(records, nil)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *DirSource) deliver(src domain.Source, path string, handle ports.DocumentHandler) {
	doc, skip, err := loadFixture(src, path)
	switch {
	case err != nil:
		s.logger.Warn("fixture unreadable", "source", src.ID, "path", path, "error", err)
		handle(nil, err)
	case skip:
	default:
		handle(doc, nil)
	}
}

// loadFixture reads one fixture. A missing file is "no document"; an empty
// file is a write in progress and is skipped.
func loadFixture(src domain.Source, path string) (*domain.SourceDocument, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read fixture: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, true, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false, fmt.Errorf("decode fixture %s: %w", filepath.Base(path), err)
	}
	if fields == nil {
		return nil, false, nil
	}

	id, _ := fields["id"].(string)
	if id == "" {
		id = src.Collection
		if src.FixedDocID != "" {
			id = src.FixedDocID
		}
	}
	return &domain.SourceDocument{ID: id, Fields: fields}, false, nil
}
