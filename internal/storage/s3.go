package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Options selects where exported .torrent payloads are archived.
type Options struct {
	Bucket    string
	KeyPrefix string
	Region    string
	Endpoint  string
	Profile   string
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archive keeps a copy of every torrent payload moved by the migration tool
// in Amazon S3 (or compatible APIs).
type S3Archive struct {
	uploader  uploader
	bucket    string
	keyPrefix string
}

// NewS3Archive loads the default AWS credential chain and builds an archive for opts.Bucket.
func NewS3Archive(ctx context.Context, opts Options) (*S3Archive, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(opts.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Archive(manager.NewUploader(client), opts), nil
}

func newS3Archive(up uploader, opts Options) *S3Archive {
	return &S3Archive{
		uploader:  up,
		bucket:    opts.Bucket,
		keyPrefix: strings.Trim(opts.KeyPrefix, "/"),
	}
}

func (s *S3Archive) key(hash string) string {
	name := strings.ToLower(hash) + ".torrent"
	if s.keyPrefix == "" {
		return name
	}
	return s.keyPrefix + "/" + name
}

// ArchiveTorrent uploads payload as <prefix>/<hash>.torrent and returns its s3:// location.
func (s *S3Archive) ArchiveTorrent(ctx context.Context, hash string, payload []byte) (string, error) {
	if hash == "" {
		return "", fmt.Errorf("torrent hash is required")
	}
	key := s.key(hash)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/x-bittorrent"),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
