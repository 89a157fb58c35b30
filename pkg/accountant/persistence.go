package accountant

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
	"github.com/siqueiraa/kaflow-restructure/pkg/state"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
)

var csvHeader = []string{"offsetFrom", "offsetTo", "partition", "topic", "lastModified"}

// NewPersistence returns the backend named by backend. The badger backend
// needs store; the csv backend writes under dir on target.
func NewPersistence(backend string, target storage.Storage, dir, tempDir string, store *state.Store) (Persistence, error) {
	switch backend {
	case "", "csv":
		return NewCSVPersistence(target, dir, tempDir), nil
	case "badger":
		if store == nil {
			return nil, errors.New("badger offsets need an open state store")
		}
		return state.NewOffsets(store), nil
	default:
		return nil, fmt.Errorf("unknown offsets backend %q", backend)
	}
}

// CSVPersistence stores one CSV file per topic on the target storage.
type CSVPersistence struct {
	storage storage.Storage
	dir     string
	tempDir string
}

func NewCSVPersistence(s storage.Storage, dir, tempDir string) *CSVPersistence {
	return &CSVPersistence{storage: s, dir: dir, tempDir: tempDir}
}

func (p *CSVPersistence) path(topic string) string {
	return path.Join(p.dir, topic+".csv")
}

func (p *CSVPersistence) Read(ctx context.Context, topic string) (*offsets.OffsetRangeSet, error) {
	in, err := p.storage.NewReader(ctx, p.path(topic))
	if errors.Is(err, storage.ErrNotFound) {
		return offsets.NewOffsetRangeSet(), nil
	}
	if err != nil {
		return nil, err
	}
	defer in.Close()

	set, err := ReadCSV(in)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.path(topic), err)
	}
	return set, nil
}

func (p *CSVPersistence) Topics(ctx context.Context) ([]string, error) {
	entries, err := p.storage.List(ctx, p.dir)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var topics []string
	for _, e := range entries {
		name := path.Base(e.Path)
		if e.IsDir || !strings.HasSuffix(name, ".csv") {
			continue
		}
		topics = append(topics, strings.TrimSuffix(name, ".csv"))
	}
	sort.Strings(topics)
	return topics, nil
}

// ReadCSV parses offsets written by WriteCSV. Files without a
// lastModified column load with zero modification times.
func ReadCSV(r io.Reader) (*offsets.OffsetRangeSet, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1

	set := offsets.NewOffsetRangeSet()
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return set, nil
	}
	if err != nil {
		return nil, err
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[name] = i
	}
	for _, required := range csvHeader[:4] {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	modCol, hasMod := cols["lastModified"]

	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return set, nil
		}
		if err != nil {
			return nil, err
		}
		if len(row) < len(header) {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", line, len(header), len(row))
		}

		from, err := strconv.ParseInt(row[cols["offsetFrom"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		to, err := strconv.ParseInt(row[cols["offsetTo"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if from > to {
			return nil, fmt.Errorf("line %d: invalid range [%d,%d]", line, from, to)
		}
		partition, err := strconv.Atoi(row[cols["partition"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var modified time.Time
		if hasMod && row[modCol] != "" {
			if modified, err = time.Parse(time.RFC3339Nano, row[modCol]); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}

		if err := set.Add(offsets.OffsetRange{
			TopicPartition: offsets.TopicPartition{Topic: row[cols["topic"]], Partition: partition},
			Range:          offsets.Range{From: from, To: to, LastModified: modified},
		}); err != nil {
			return nil, err
		}
	}
}

// WriteCSV writes every range of set in order.
func WriteCSV(w io.Writer, set *offsets.OffsetRangeSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	var werr error
	set.Ranges(func(tp offsets.TopicPartition, r offsets.Range) {
		if werr != nil {
			return
		}
		werr = cw.Write([]string{
			strconv.FormatInt(r.From, 10),
			strconv.FormatInt(r.To, 10),
			strconv.Itoa(tp.Partition),
			tp.Topic,
			r.LastModified.UTC().Format(time.RFC3339Nano),
		})
	})
	if werr != nil {
		return werr
	}
	cw.Flush()
	return cw.Error()
}

// Write replaces the topic file through a local temp file, so readers see
// either the old or the new content.
func (p *CSVPersistence) Write(ctx context.Context, topic string, set *offsets.OffsetRangeSet) error {
	tmp, err := os.CreateTemp(p.tempDir, "offsets-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, set); err != nil {
		tmp.Close()
		return fmt.Errorf("write offsets of %s: %w", topic, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := p.storage.Store(ctx, tmp.Name(), p.path(topic)); err != nil {
		return fmt.Errorf("store offsets of %s: %w", topic, err)
	}
	return nil
}
