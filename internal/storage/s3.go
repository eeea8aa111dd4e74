package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Options configures where artifacts are published.
type Options struct {
	URI       string // s3://bucket/prefix
	Region    string
	Endpoint  string // custom endpoint, e.g. MinIO
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Publisher uploads finished artifacts to an S3 bucket.
type Publisher struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// ParseURI splits s3://bucket/some/prefix into bucket and prefix.
func ParseURI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("missing bucket in %q", uri)
	}
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}

// NewPublisher creates an S3 client from the default AWS chain, overridden
// by static credentials and a custom endpoint when given.
func NewPublisher(ctx context.Context, opts Options) (*Publisher, error) {
	bucket, prefix, err := ParseURI(opts.URI)
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	return &Publisher{
		client:   cli,
		uploader: manager.NewUploader(cli),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

// Publish uploads the file at localPath as the next free version of its
// name under the prefix, e.g. prefix/output_v3.pdf, and returns its URI.
func (p *Publisher) Publish(ctx context.Context, localPath string, meta map[string]string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	name := filepath.Base(localPath)
	ext := filepath.Ext(name)
	base := p.key(strings.TrimSuffix(name, ext))

	n, err := p.nextVersion(ctx, base, ext)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s_v%d%s", base, n, ext)

	out, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(ext)),
		Metadata:    meta,
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Upload failed")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	uri := fmt.Sprintf("s3://%s/%s", p.bucket, key)
	log.Info().Str("uri", uri).Str("location", out.Location).Msg("Published artifact")
	return uri, nil
}

func (p *Publisher) key(name string) string {
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

// nextVersion returns the next free N for keys of the form base_vN+ext.
func (p *Publisher) nextVersion(ctx context.Context, base, ext string) (int, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(base + "_v"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 1, fmt.Errorf("list versions failed: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return nextVersion(keys, base, ext), nil
}

func nextVersion(keys []string, base, ext string) int {
	prefix := base + "_v"
	maxVersion := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ext) {
			continue
		}
		verStr := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ext)
		if n, err := strconv.Atoi(verStr); err == nil && n > maxVersion {
			maxVersion = n
		}
	}
	return maxVersion + 1
}

func contentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".log", ".txt":
		return "text/plain"
	}
	return "application/octet-stream"
}
