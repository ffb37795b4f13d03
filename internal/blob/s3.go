package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/opsdesk/casebot/internal/config"
)

// S3Store is a Store backed by object storage. Folders are key prefixes:
// EnsureFolder is a pure path computation and Upload writes
// "{prefix}/{name}" into the configured bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3Store. Explicit access keys win over the named
// profile, which wins over the default credential chain.
func NewS3Store(ctx context.Context, cfg config.BlobConfig) (*S3Store, error) {
	var awsCfg aws.Config
	var err error

	profile := cfg.GetAWSProfile()
	switch {
	case cfg.S3AccessKey != "" && cfg.S3SecretKey != "":
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		)
	case profile != "":
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithSharedConfigProfile(profile),
		)
	default:
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
	}, nil
}

// EnsureFolder joins the parent prefix and folder name into a key prefix.
// Object storage has no real folders, so there is nothing to create.
func (s *S3Store) EnsureFolder(_ context.Context, parentID, name string) (string, error) {
	parentID = strings.Trim(parentID, "/")
	if parentID == "" {
		return name, nil
	}
	return parentID + "/" + name, nil
}

// Upload writes the file under the folder prefix.
func (s *S3Store) Upload(ctx context.Context, folderID, name string, content []byte) error {
	key := strings.Trim(folderID, "/") + "/" + name
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return fmt.Errorf("uploading %q to s3: %w", key, err)
	}
	return nil
}
