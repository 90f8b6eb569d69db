package s3backup

import (
	"context"
	"path"
	"path/filepath"

	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

type Options struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	Region          string
	Prefix          string // object key prefix, e.g. "fleetbox/"
}

// Uploader copies backup artifacts to S3-compatible storage.
type Uploader struct {
	client     *minio.Client
	bucketName string
	region     string
	prefix     string
}

func New(opts Options) (*Uploader, error) {
	if opts.Endpoint == "" || opts.BucketName == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create minio client")
	}
	return &Uploader{
		client:     client,
		bucketName: opts.BucketName,
		region:     opts.Region,
		prefix:     opts.Prefix,
	}, nil
}

// CheckBucket creates the bucket when it does not exist.
func (u *Uploader) CheckBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucketName)
	if err != nil {
		return errors.Wrap(err, "check bucket")
	}
	if !exists {
		log.Info("bucket does not exist, creating", "bucket", u.bucketName)
		if err := u.client.MakeBucket(ctx, u.bucketName, minio.MakeBucketOptions{Region: u.region}); err != nil {
			return errors.Wrap(err, "create bucket")
		}
	}
	return nil
}

// ObjectKey maps a local artifact path under root to its object key.
func (u *Uploader) ObjectKey(root, localPath string) string {
	rel, err := filepath.Rel(root, localPath)
	if err != nil {
		rel = filepath.Base(localPath)
	}
	return path.Join(u.prefix, filepath.ToSlash(rel))
}

func (u *Uploader) Upload(ctx context.Context, root, localPath string) error {
	key := u.ObjectKey(root, localPath)
	info, err := u.client.FPutObject(ctx, u.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType: "application/sql",
	})
	if err != nil {
		return errors.Wrap(err, "put object")
	}
	log.Info("backup uploaded", "bucket", u.bucketName, "key", key, "size", info.Size)
	return nil
}
