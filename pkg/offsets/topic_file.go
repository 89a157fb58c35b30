package offsets

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	topicFileSeparator = "+"
	topicFileParts     = 4
	avroExtension      = ".avro"
)

// TopicFile is one source file holding a contiguous offset range of a
// topic-partition, as written by the topic-dump connector:
//
//	<topic>+<partition>+<fromOffset>+<toOffset>.avro
type TopicFile struct {
	Path         string
	Range        OffsetRange
	LastModified time.Time
}

// Topic is shorthand for f.Range.Topic.
func (f TopicFile) Topic() string {
	return f.Range.Topic
}

// Size is the number of records the file is expected to contain.
func (f TopicFile) Size() int64 {
	return f.Range.Size()
}

// ParseTopicFile extracts the topic, partition and offsets from a source file
// path. The range is tagged with lastModified.
func ParseTopicFile(filePath string, lastModified time.Time) (TopicFile, error) {
	name := path.Base(filePath)
	if !strings.HasSuffix(name, avroExtension) {
		return TopicFile{}, fmt.Errorf("%s is not an avro file", name)
	}
	// topics may contain '+', so split from the right
	parts := strings.Split(strings.TrimSuffix(name, avroExtension), topicFileSeparator)
	if len(parts) < topicFileParts {
		return TopicFile{}, fmt.Errorf("cannot parse offsets from file name %s", name)
	}
	n := len(parts)
	topic := strings.Join(parts[:n-3], topicFileSeparator)
	if topic == "" {
		return TopicFile{}, fmt.Errorf("missing topic in file name %s", name)
	}
	partition, err := strconv.Atoi(parts[n-3])
	if err != nil {
		return TopicFile{}, fmt.Errorf("invalid partition in %s: %w", name, err)
	}
	from, err := strconv.ParseInt(parts[n-2], 10, 64)
	if err != nil {
		return TopicFile{}, fmt.Errorf("invalid start offset in %s: %w", name, err)
	}
	to, err := strconv.ParseInt(parts[n-1], 10, 64)
	if err != nil {
		return TopicFile{}, fmt.Errorf("invalid end offset in %s: %w", name, err)
	}
	if from > to {
		return TopicFile{}, fmt.Errorf("start offset %d exceeds end offset %d in %s", from, to, name)
	}

	return TopicFile{
		Path: filePath,
		Range: OffsetRange{
			TopicPartition: TopicPartition{Topic: topic, Partition: partition},
			Range:          Range{From: from, To: to, LastModified: lastModified},
		},
		LastModified: lastModified,
	}, nil
}

// FileName formats the canonical source file name for a range.
func FileName(r OffsetRange) string {
	return fmt.Sprintf("%s+%d+%010d+%010d%s", r.Topic, r.Partition, r.From, r.To, avroExtension)
}
