package bucket

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/meridian-data/quarry/errors"
	"github.com/meridian-data/quarry/logger"
)

// ListerOptions configures bucket access.
type ListerOptions struct {
	Region string
	// Anonymous skips the credential chain for public buckets.
	Anonymous bool
	// Recursive lists the full key space; otherwise a "/" delimiter
	// yields pseudo-directory prefixes one level deep.
	Recursive bool
}

// Lister reads versioned listings from one S3 bucket.
type Lister struct {
	client *s3.Client
	bucket string
	opts   ListerOptions
}

// NewLister builds a lister for a bucket.
func NewLister(ctx context.Context, bucketName string, opts ListerOptions) (*Lister, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Anonymous {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load AWS configuration")
	}
	return &Lister{
		client: s3.NewFromConfig(cfg),
		bucket: bucketName,
		opts:   opts,
	}, nil
}

// Bucket returns the bucket name.
func (l *Lister) Bucket() string {
	return l.bucket
}

// URLFor returns the source URL for a listing entry.
func (l *Lister) URLFor(e Entry) string {
	return ObjectURL(l.bucket, e)
}

// ListVersions returns every object version, delete marker, and (in
// non-recursive mode) pseudo-directory prefix under prefix, in the
// stable crawl order.
func (l *Lister) ListVersions(ctx context.Context, prefix string) ([]Entry, error) {
	input := &s3.ListObjectVersionsInput{
		Bucket: aws.String(l.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if !l.opts.Recursive {
		input.Delimiter = aws.String("/")
	}

	var entries []Entry
	paginator := s3.NewListObjectVersionsPaginator(l.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "list versions of s3://%s/%s", l.bucket, prefix)
		}
		for _, v := range page.Versions {
			entries = append(entries, Entry{
				Key:          aws.ToString(v.Key),
				VersionID:    aws.ToString(v.VersionId),
				LastModified: aws.ToTime(v.LastModified),
				Size:         aws.ToInt64(v.Size),
				ETag:         aws.ToString(v.ETag),
				IsLatest:     aws.ToBool(v.IsLatest),
			})
		}
		for _, m := range page.DeleteMarkers {
			entries = append(entries, Entry{
				Key:            aws.ToString(m.Key),
				VersionID:      aws.ToString(m.VersionId),
				LastModified:   aws.ToTime(m.LastModified),
				IsLatest:       aws.ToBool(m.IsLatest),
				IsDeleteMarker: true,
			})
		}
		for _, p := range page.CommonPrefixes {
			entries = append(entries, Entry{
				Key:      aws.ToString(p.Prefix),
				IsPrefix: true,
			})
		}
	}

	Sort(entries)
	logger.Debugw("Listed bucket versions",
		"bucket", l.bucket, "prefix", prefix, "entries", len(entries))
	return entries, nil
}
