// Package s3 uploads merged files to object storage.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"

	"github.com/open-policy-agent/merge-into-file/internal/config"
)

// ObjectStorage stores merged files by name. Names are joined to the
// configured prefix.
type ObjectStorage interface {
	Upload(ctx context.Context, name string, body io.ReadSeeker) error
	Download(ctx context.Context, name string) (io.Reader, error)
}

// New returns the storage selected by cfg.
func New(ctx context.Context, cfg config.ObjectStorage) (ObjectStorage, error) {
	switch {
	case cfg.AmazonS3 != nil:
		return NewAmazonS3(ctx, cfg.AmazonS3)
	case cfg.GCPCloudStorage != nil:
		return NewGCPCloudStorage(ctx, cfg.GCPCloudStorage)
	case cfg.AzureBlobStorage != nil:
		return NewAzureBlobStorage(ctx, cfg.AzureBlobStorage)
	case cfg.FileSystemStorage != nil:
		return &FileSystemStorage{dir: cfg.FileSystemStorage.Path}, nil
	}
	return nil, errors.New("no object storage configured")
}

// metadata computes the object metadata and rewinds body.
func metadata(body io.ReadSeeker) (map[string]string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return nil, err
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return map[string]string{"sha256": hex.EncodeToString(h.Sum(nil))}, nil
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

type AmazonS3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewAmazonS3 uses the static credentials of the referenced secret, or the
// default credentials chain (environment variables, shared credentials
// file, ECS or EC2 instance role) when no secret is configured.
func NewAmazonS3(ctx context.Context, cfg *config.AmazonS3) (*AmazonS3, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.Credentials != nil {
		value, err := cfg.Credentials.Resolve(ctx)
		if err != nil {
			return nil, err
		}

		creds, ok := value.(*config.SecretAWS)
		if !ok {
			return nil, fmt.Errorf("unsupported secret type for amazon s3: %T", value)
		}

		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.URL != "" {
			o.BaseEndpoint = aws.String(cfg.URL)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	return &AmazonS3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *AmazonS3) Upload(ctx context.Context, name string, body io.ReadSeeker) error {
	meta, err := metadata(body)
	if err != nil {
		return err
	}

	key := config.Prefix(s.prefix, name)
	_, err = manager.NewUploader(s.client).Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType(name)),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", name, s.bucket, key, err)
	}
	return nil
}

func (s *AmazonS3) Download(ctx context.Context, name string) (io.Reader, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(config.Prefix(s.prefix, name)),
	})
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()

	bs, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(bs), nil
}

type GCPCloudStorage struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCPCloudStorage uses the API key or credentials file of the referenced
// secret, or the default credentials chain (environment variables, gcloud
// application default login, GCE/GKE metadata server).
func NewGCPCloudStorage(ctx context.Context, cfg *config.GCPCloudStorage) (*GCPCloudStorage, error) {
	var opts []option.ClientOption

	if cfg.Credentials != nil {
		value, err := cfg.Credentials.Resolve(ctx)
		if err != nil {
			return nil, err
		}

		creds, ok := value.(*config.SecretGCP)
		if !ok {
			return nil, fmt.Errorf("unsupported secret type for gcp cloud storage: %T", value)
		}

		if creds.APIKey != "" {
			opts = append(opts, option.WithAPIKey(creds.APIKey))
		} else {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds.Credentials)))
		}
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcp storage client: %w", err)
	}

	return &GCPCloudStorage{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCPCloudStorage) Upload(ctx context.Context, name string, body io.ReadSeeker) error {
	meta, err := metadata(body)
	if err != nil {
		return err
	}

	key := config.Prefix(s.prefix, name)
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(name)
	w.Metadata = meta

	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload %s to gs://%s/%s: %w", name, s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to upload %s to gs://%s/%s: %w", name, s.bucket, key, err)
	}
	return nil
}

func (s *GCPCloudStorage) Download(ctx context.Context, name string) (io.Reader, error) {
	r, err := s.client.Bucket(s.bucket).Object(config.Prefix(s.prefix, name)).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	bs, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(bs), nil
}

type AzureBlobStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureBlobStorage uses the shared key of the referenced secret, or the
// default credentials chain (environment variables, managed identity, Azure
// CLI login).
func NewAzureBlobStorage(ctx context.Context, cfg *config.AzureBlobStorage) (*AzureBlobStorage, error) {
	var client *azblob.Client

	if cfg.Credentials != nil {
		value, err := cfg.Credentials.Resolve(ctx)
		if err != nil {
			return nil, err
		}

		creds, ok := value.(*config.SecretAzure)
		if !ok {
			return nil, fmt.Errorf("unsupported secret type for azure blob storage: %T", value)
		}

		cred, err := azblob.NewSharedKeyCredential(creds.AccountName, creds.AccountKey)
		if err != nil {
			return nil, err
		}

		client, err = azblob.NewClientWithSharedKeyCredential(cfg.AccountURL, cred, nil)
		if err != nil {
			return nil, err
		}
	} else {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain azure credentials: %w", err)
		}

		client, err = azblob.NewClient(cfg.AccountURL, cred, nil)
		if err != nil {
			return nil, err
		}
	}

	return &AzureBlobStorage{client: client, container: cfg.Container, prefix: cfg.Prefix}, nil
}

func (s *AzureBlobStorage) Upload(ctx context.Context, name string, body io.ReadSeeker) error {
	meta, err := metadata(body)
	if err != nil {
		return err
	}

	bs, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	m := make(map[string]*string, len(meta))
	for k, v := range meta {
		m[k] = &v
	}

	key := config.Prefix(s.prefix, name)
	if _, err := s.client.UploadBuffer(ctx, s.container, key, bs, &azblob.UploadBufferOptions{Metadata: m}); err != nil {
		return fmt.Errorf("failed to upload %s to azure container %s: %w", key, s.container, err)
	}
	return nil
}

func (s *AzureBlobStorage) Download(ctx context.Context, name string) (io.Reader, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, config.Prefix(s.prefix, name), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bs, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(bs), nil
}

// FileSystemStorage copies files into a local directory.
type FileSystemStorage struct {
	dir string
}

func (s *FileSystemStorage) Upload(_ context.Context, name string, body io.ReadSeeker) error {
	dst := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *FileSystemStorage) Download(_ context.Context, name string) (io.Reader, error) {
	bs, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(name)))
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(bs), nil
}
