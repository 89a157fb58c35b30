package restructure

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siqueiraa/kaflow-restructure/pkg/accountant"
	"github.com/siqueiraa/kaflow-restructure/pkg/config"
	"github.com/siqueiraa/kaflow-restructure/pkg/faker"
	"github.com/siqueiraa/kaflow-restructure/pkg/lock"
	"github.com/siqueiraa/kaflow-restructure/pkg/metrics"
	"github.com/siqueiraa/kaflow-restructure/pkg/notify"
	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
)

var observed = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	reports []notify.Report
}

func (n *recordingNotifier) Notify(_ context.Context, r notify.Report) error {
	n.reports = append(n.reports, r)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

type harness struct {
	cfg        config.AppConfig
	sourceRoot string
	source     storage.Storage
	targetRoot string
	target     storage.Storage
	lockDir    string
	locks      lock.Manager
	notifier   *recordingNotifier
	logger     *logrus.Logger
	hook       *test.Hook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	cfg := config.Default()
	cfg.Worker.MinimumFileAge = 0
	cfg.Worker.NumThreads = 2
	cfg.Worker.TempDir = t.TempDir()
	cfg.Offsets.Debounce = 0

	h := &harness{
		cfg:        cfg,
		sourceRoot: t.TempDir(),
		targetRoot: t.TempDir(),
		lockDir:    t.TempDir(),
		notifier:   &recordingNotifier{},
		logger:     logger,
		hook:       hook,
	}
	h.source = storage.NewLocal(h.sourceRoot)
	h.target = storage.NewLocal(h.targetRoot)
	h.locks = h.lockManager(t)
	return h
}

func (h *harness) lockManager(t *testing.T) lock.Manager {
	t.Helper()
	m, err := lock.New("file", h.lockDir, time.Hour, nil, h.logger)
	require.NoError(t, err)
	return m
}

func (h *harness) options(t *testing.T) Options {
	t.Helper()
	p, err := accountant.NewPersistence("csv", h.target, "offsets", t.TempDir(), nil)
	require.NoError(t, err)
	return Options{
		Config:      h.cfg,
		Source:      h.source,
		Target:      h.target,
		Locks:       h.locks,
		Persistence: p,
		Notifier:    h.notifier,
		Logger:      h.logger,
	}
}

func (h *harness) restructurer(t *testing.T) *Restructurer {
	t.Helper()
	r, err := New(h.options(t))
	require.NoError(t, err)
	return r
}

func (h *harness) write(t *testing.T, topic string, partition int, from int64, records ...map[string]any) string {
	t.Helper()
	p, err := faker.WriteTopicFile(context.Background(), h.source, "", topic, partition, from, faker.ObservationSchema, records)
	require.NoError(t, err)
	return p
}

func (h *harness) storedOffsets(t *testing.T, topic string) map[int][]offsets.Range {
	t.Helper()
	set, err := accountant.NewCSVPersistence(h.target, "offsets", t.TempDir()).Read(context.Background(), topic)
	require.NoError(t, err)
	out := map[int][]offsets.Range{}
	set.Ranges(func(tp offsets.TopicPartition, r offsets.Range) {
		out[tp.Partition] = append(out[tp.Partition], offsets.Range{From: r.From, To: r.To})
	})
	return out
}

func (h *harness) sourceExists(p string) bool {
	_, err := os.Stat(filepath.Join(h.sourceRoot, filepath.FromSlash(p)))
	return err == nil
}

// writeExampleTopic lays out partition 1 with offsets 0 to 8 in two files and
// partition 0 with offset 0 alone.
func (h *harness) writeExampleTopic(t *testing.T) (first, second, single string) {
	t.Helper()
	gen := faker.NewGenerator(7, observed, time.Minute)
	first = h.write(t, "t", 1, 0, gen.Records(5)...)
	second = h.write(t, "t", 1, 5, gen.Records(4)...)
	single = h.write(t, "t", 0, 0, faker.Observation("p9", "u9", "s", observed, 0.5))
	return first, second, single
}

func countRows(t *testing.T, root string) int {
	t.Helper()
	rows := 0
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".csv") {
			return err
		}
		if rel, _ := filepath.Rel(root, p); strings.HasPrefix(filepath.ToSlash(rel), "offsets/") {
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		// minus the header
		rows += strings.Count(string(b), "\n") - 1
		return nil
	})
	require.NoError(t, err)
	return rows
}

func TestProcessRestructuresEveryOffsetOnce(t *testing.T) {
	h := newHarness(t)
	h.writeExampleTopic(t)
	r := h.restructurer(t)

	summary, err := r.Process(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Topics)
	assert.EqualValues(t, 3, summary.Files)
	assert.EqualValues(t, 10, summary.Records)

	assert.Equal(t, map[int][]offsets.Range{
		0: {{From: 0, To: 0}},
		1: {{From: 0, To: 8}},
	}, h.storedOffsets(t, "t"))
	assert.Equal(t, 10, countRows(t, h.targetRoot))
	_, err = os.Stat(filepath.Join(h.targetRoot, "p9", "u9", "t", "20240301_1000.csv"))
	assert.NoError(t, err)

	// a second pass finds nothing to do
	summary, err = r.Process(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, summary.Files)
	assert.EqualValues(t, 0, summary.Records)
	assert.Equal(t, 10, countRows(t, h.targetRoot))

	require.Len(t, h.notifier.reports, 2)
	assert.Equal(t, []notify.TopicReport{{Topic: "t", Files: 3, Records: 10}}, h.notifier.reports[0].Topics)
}

func TestProcessPicksUpNewFilesOfProcessedTopic(t *testing.T) {
	h := newHarness(t)
	h.writeExampleTopic(t)
	r := h.restructurer(t)
	_, err := r.Process(context.Background())
	require.NoError(t, err)

	h.write(t, "t", 1, 9, faker.NewGenerator(8, observed, time.Second).Records(3)...)
	summary, err := r.Process(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Files)
	assert.EqualValues(t, 3, summary.Records)
	assert.Equal(t, []offsets.Range{{From: 0, To: 11}}, h.storedOffsets(t, "t")[1])
	assert.Equal(t, 13, countRows(t, h.targetRoot))
}

func TestProcessSkipsLockedTopics(t *testing.T) {
	h := newHarness(t)
	h.writeExampleTopic(t)
	h.write(t, "other", 0, 0, faker.Observation("p1", "u1", "s", observed, 0.1))

	held, err := h.lockManager(t).AcquireLock(context.Background(), "t")
	require.NoError(t, err)
	require.NotNil(t, held)

	summary, err := h.restructurer(t).Process(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Topics)
	assert.EqualValues(t, 1, summary.Records)
	assert.Empty(t, h.storedOffsets(t, "t"))

	require.Len(t, h.notifier.reports, 1)
	assert.Equal(t, []notify.TopicReport{
		{Topic: "other", Files: 1, Records: 1},
		{Topic: "t", Locked: true},
	}, h.notifier.reports[0].Topics)

	require.NoError(t, held.Release(context.Background()))
}

func TestProcessLimitsFilesPerTopic(t *testing.T) {
	h := newHarness(t)
	h.writeExampleTopic(t)
	h.cfg.Worker.MaxFilesPerTopic = 1
	r := h.restructurer(t)

	for pass := 1; pass <= 3; pass++ {
		summary, err := r.Process(context.Background())
		require.NoError(t, err)
		assert.EqualValues(t, 1, summary.Files, "pass %d", pass)
	}
	assert.Equal(t, map[int][]offsets.Range{
		0: {{From: 0, To: 0}},
		1: {{From: 0, To: 8}},
	}, h.storedOffsets(t, "t"))
}

func TestClosedRestructurerSchedulesNothing(t *testing.T) {
	h := newHarness(t)
	h.writeExampleTopic(t)
	r := h.restructurer(t)
	r.Close()

	summary, err := r.Process(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, summary.Topics)
	assert.Empty(t, h.storedOffsets(t, "t"))
}

func TestRunRepeatsUntilCancelled(t *testing.T) {
	h := newHarness(t)
	h.writeExampleTopic(t)
	h.cfg.Service.Interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var passes []metrics.Summary
	opts := h.options(t)
	opts.OnPass = func(_ context.Context, s metrics.Summary) {
		passes = append(passes, s)
		if len(passes) == 2 {
			cancel()
		}
	}
	r, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, r.Run(ctx))
	require.Len(t, passes, 2)
	assert.EqualValues(t, 10, passes[0].Records)
	assert.EqualValues(t, 0, passes[1].Records)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	h := newHarness(t)
	h.cfg.Format.Type = "parquet"
	_, err := New(h.options(t))
	assert.ErrorContains(t, err, "parquet")

	_, err = New(Options{Config: config.Default()})
	assert.Error(t, err)
}

func TestProcessSingleFilePerPartition(t *testing.T) {
	h := newHarness(t)
	h.write(t, "t", 1, 0, faker.NewGenerator(7, observed, time.Minute).Records(9)...)
	h.write(t, "t", 0, 0, faker.Observation("p9", "u9", "s", observed, 0.5))

	summary, err := h.restructurer(t).Process(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, summary.Files)
	assert.EqualValues(t, 10, summary.Records)
	assert.Equal(t, map[int][]offsets.Range{
		0: {{From: 0, To: 0}},
		1: {{From: 0, To: 8}},
	}, h.storedOffsets(t, "t"))
	assert.Equal(t, 10, countRows(t, h.targetRoot))

	b, err := os.ReadFile(filepath.Join(h.targetRoot, "p9", "u9", "t", "20240301_1000.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "key.projectId,key.userId,key.sourceId,value.time,value.timeReceived,value.level,value.status", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "p9,u9,s,"), lines[1])
}
