// Package s3store implements remote.Store on an S3 compatible bucket. Folders
// are key prefixes made visible by zero byte "<name>/" marker objects; the
// folder id is the full prefix.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/openmined/syftbackup/internal/remote"
	"github.com/openmined/syftbackup/internal/utils"
)

var (
	ErrNoBucket    = errors.New("s3: bucket name missing")
	ErrInvalidName = errors.New("s3: folder name must not contain '/'")
)

// access errors S3 compatible servers return for bad or expired credentials
var unauthorizedCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"ExpiredToken":          true,
	"InvalidToken":          true,
}

type Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	// Endpoint points at a non-AWS server (MinIO, Garage, ...). Enables path-style addressing.
	Endpoint string
	// Prefix is the key prefix used as the store root.
	Prefix string
}

type Store struct {
	client *s3.Client
	bucket string
	root   remote.FolderID
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          64,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return NewWithClient(client, cfg), nil
}

func NewWithClient(client *s3.Client, cfg Config) *Store {
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		root:   remote.FolderID(normalizePrefix(cfg.Prefix)),
	}
}

func (s *Store) Root() remote.FolderID {
	return s.root
}

// ListFolders reports the folder as present when any key lives under its
// prefix. Prefixes are unique, so at most one folder is returned.
func (s *Store) ListFolders(ctx context.Context, name string, parent remote.FolderID) ([]remote.Folder, error) {
	if strings.Contains(name, "/") {
		return nil, ErrInvalidName
	}

	prefix := folderKey(parent, name)
	resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, wrapError("list folders", err)
	}

	if aws.ToInt32(resp.KeyCount) == 0 && len(resp.Contents) == 0 {
		return nil, nil
	}
	return []remote.Folder{{ID: remote.FolderID(prefix), Name: name}}, nil
}

func (s *Store) CreateFolder(ctx context.Context, name string, parent remote.FolderID) (remote.FolderID, error) {
	if strings.Contains(name, "/") {
		return "", ErrInvalidName
	}

	key := folderKey(parent, name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return "", wrapError("create folder", err)
	}

	return remote.FolderID(key), nil
}

func (s *Store) UploadFile(ctx context.Context, localPath string, parent remote.FolderID) (*remote.UploadedFile, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	key := string(parent) + filepath.Base(localPath)
	resp, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(utils.DetectContentType(key)),
	})
	if err != nil {
		return nil, wrapError("upload file", err)
	}

	return &remote.UploadedFile{
		ID:   strings.ReplaceAll(aws.ToString(resp.ETag), "\"", ""),
		Name: filepath.Base(localPath),
		Size: info.Size(),
		Link: fmt.Sprintf("s3://%s/%s", s.bucket, key),
	}, nil
}

func folderKey(parent remote.FolderID, name string) string {
	return string(parent) + name + "/"
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func wrapError(operation string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && unauthorizedCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%s: %w: %w", operation, remote.ErrUnauthorized, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

var _ remote.Store = (*Store)(nil)
