package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"statesync/internal/config"
)

// versionMetaKey is the user metadata key carrying the snapshot version.
const versionMetaKey = "statesync-version"

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Vault stores each snapshot as one object under
// <prefix>/snapshots/<entity>.json, with its version in object metadata.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   s3API
	uploader uploader
}

var _ Vault = (*S3Vault)(nil)

// NewS3Vault builds a vault from the default AWS configuration chain,
// overridden by the region, endpoint and static credentials in cfg.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("s3 vault requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client, manager.NewUploader(client)), nil
}

func newS3Vault(name, bucket, prefix string, client s3API, up uploader) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		client:   client,
		uploader: up,
	}
}

func (v *S3Vault) PutSnapshot(entity string, r io.Reader, size int64, version int64) error {
	if err := checkEntity(entity); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return sizeMismatch(size, len(data))
	}

	_, err = v.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket:        aws.String(v.bucket),
		Key:           aws.String(v.key(entity)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/json"),
		Metadata:      map[string]string{versionMetaKey: strconv.FormatInt(version, 10)},
	})
	if err != nil {
		return fmt.Errorf("uploading snapshot %s: %w", entity, err)
	}
	return nil
}

func (v *S3Vault) GetSnapshot(entity string, w io.Writer) error {
	if err := checkEntity(entity); err != nil {
		return err
	}
	out, err := v.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(entity)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return fmt.Errorf("%s: %w", entity, ErrSnapshotNotFound)
		}
		return fmt.Errorf("downloading snapshot %s: %w", entity, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading snapshot body: %w", err)
	}
	return nil
}

func (v *S3Vault) GetSnapshotVersion(entity string) (int64, error) {
	if err := checkEntity(entity); err != nil {
		return 0, err
	}
	out, err := v.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(entity)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading snapshot metadata %s: %w", entity, err)
	}
	raw, ok := out.Metadata[versionMetaKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup() error {
	if _, err := v.client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(v.bucket),
	}); err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func (v *S3Vault) key(entity string) string {
	return path.Join(v.prefix, "snapshots", entity+".json")
}
