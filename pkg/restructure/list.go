package restructure

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
)

const (
	// connector staging directory, never complete files
	connectorTmpDir = "+tmp"
	avroSuffix      = ".avro"
)

// Lister finds the topic files of a source tree. Directories are listed one
// level at a time with at most concurrency List calls in flight.
type Lister struct {
	storage     storage.Storage
	concurrency int
	exclude     map[string]struct{}
	now         func() time.Time
	logger      logrus.FieldLogger
}

func NewLister(s storage.Storage, concurrency int, exclude []string, logger logrus.FieldLogger) *Lister {
	if concurrency < 1 {
		concurrency = 1
	}
	ex := make(map[string]struct{}, len(exclude))
	for _, t := range exclude {
		ex[t] = struct{}{}
	}
	return &Lister{
		storage:     s,
		concurrency: concurrency,
		exclude:     ex,
		now:         time.Now,
		logger:      logger,
	}
}

func (l *Lister) excluded(topic string) bool {
	_, ok := l.exclude[topic]
	return ok
}

// ListTopicFiles returns the files under root that were last modified at
// least minAge ago, grouped by topic and sorted by partition and offset.
// Only a failure to list root itself is an error.
func (l *Lister) ListTopicFiles(ctx context.Context, root string, minAge time.Duration) (map[string][]offsets.TopicFile, error) {
	cutoff := l.now().Add(-minAge)

	var mu sync.Mutex
	topics := make(map[string][]offsets.TopicFile)

	level := []string{root}
	for depth := 0; len(level) > 0; depth++ {
		var next []string
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(l.concurrency)

		for _, dir := range level {
			g.Go(func() error {
				entries, err := l.storage.List(gctx, dir)
				if err != nil {
					if depth == 0 {
						return fmt.Errorf("list source root %q: %w", root, err)
					}
					l.logger.WithError(err).WithField("dir", dir).Warn("cannot list source directory")
					return nil
				}

				var (
					dirs  []string
					files []offsets.TopicFile
				)
				for _, e := range entries {
					name := path.Base(e.Path)
					if e.IsDir {
						if name == connectorTmpDir || (depth == 0 && l.excluded(name)) {
							continue
						}
						dirs = append(dirs, e.Path)
						continue
					}
					if !strings.HasSuffix(name, avroSuffix) || e.LastModified.After(cutoff) {
						continue
					}
					f, err := offsets.ParseTopicFile(e.Path, e.LastModified)
					if err != nil {
						l.logger.WithError(err).WithField("file", e.Path).Warn("skipping unrecognized source file")
						continue
					}
					if l.excluded(f.Topic()) {
						continue
					}
					files = append(files, f)
				}

				mu.Lock()
				defer mu.Unlock()
				next = append(next, dirs...)
				for _, f := range files {
					topics[f.Topic()] = append(topics[f.Topic()], f)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		level = next
	}

	for _, files := range topics {
		sort.Slice(files, func(i, j int) bool {
			a, b := files[i].Range, files[j].Range
			if a.Partition != b.Partition {
				return a.Partition < b.Partition
			}
			return a.From < b.From
		})
	}
	return topics, nil
}

func sortedTopics(topics map[string][]offsets.TopicFile) []string {
	names := make([]string, 0, len(topics))
	for t := range topics {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}
