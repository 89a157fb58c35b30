package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/siqueiraa/kaflow-restructure/pkg/config"
)

// S3 stores objects in one bucket under a key prefix. Directories are
// emulated with "/" delimiters.
type S3 struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	prefix     string
	tempDir    string
	logger     logrus.FieldLogger
}

// NewS3 connects to the bucket named in cfg.
func NewS3(ctx context.Context, prefix string, cfg config.S3Config, tempDir string, logger logrus.FieldLogger) (*S3, error) {
	opts := []func(*awsConfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsConfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(prefix, "/"),
		tempDir:    tempDir,
		logger:     logger.WithField("storage", "s3"),
	}, nil
}

func (s *S3) key(p string) string {
	return strings.TrimPrefix(path.Join(s.prefix, p), "/")
}

func (s *S3) relative(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
}

func (s *S3) List(ctx context.Context, dir string) ([]FileStatus, error) {
	prefix := s.key(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var statuses []FileStatus
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			statuses = append(statuses, FileStatus{
				Path:  s.relative(strings.TrimSuffix(aws.ToString(cp.Prefix), "/")),
				IsDir: true,
			})
		}
		for _, obj := range page.Contents {
			statuses = append(statuses, FileStatus{
				Path:         s.relative(aws.ToString(obj.Key)),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return statuses, nil
}

func (s *S3) Status(ctx context.Context, p string) (*FileStatus, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if isS3NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("head s3://%s/%s: %w", s.bucket, s.key(p), err)
	}
	return &FileStatus{
		Path:         p,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// NewInput downloads the object into a temp file so it can be read with seeks.
func (s *S3) NewInput(ctx context.Context, p string) (io.ReadSeekCloser, error) {
	in, err := newTempInput(s.tempDir)
	if err != nil {
		return nil, err
	}
	_, err = s.downloader.Download(ctx, in.File, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		in.Close()
		if isS3NotFound(err) {
			return nil, fmt.Errorf("download %s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("download s3://%s/%s: %w", s.bucket, s.key(p), err)
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		in.Close()
		return nil, err
	}
	return in, nil
}

func (s *S3) NewReader(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if isS3NotFound(err) {
		return nil, fmt.Errorf("get %s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, s.key(p), err)
	}
	return out.Body, nil
}

func (s *S3) Store(ctx context.Context, localPath, p string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	res, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, s.key(p), err)
	}
	s.logger.WithField("location", res.Location).Debug("stored object")
	return nil
}

// Move copies the object server side and deletes the original.
func (s *S3) Move(ctx context.Context, oldPath, newPath string) error {
	source := (&url.URL{Path: s.bucket + "/" + s.key(oldPath)}).EscapedPath()
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key(newPath)),
		CopySource: aws.String(source),
	})
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", oldPath, newPath, err)
	}
	return s.Delete(ctx, oldPath)
}

func (s *S3) Delete(ctx context.Context, p string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", s.bucket, s.key(p), err)
	}
	return nil
}

// CreateDirectories is a no-op: S3 has no directories.
func (s *S3) CreateDirectories(context.Context, string) error {
	return nil
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
