// Package blobstore stores encrypted attachment documents in an S3
// compatible bucket through presigned URLs.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/phrkeeper/internal/client/client"
	"github.com/dmitrijs2005/phrkeeper/internal/netx"
)

const defaultPresignExpiry = 15 * time.Minute

var ErrForeignDocument = errors.New("document does not belong to user")

var loadDefaultAWSConfig = config.LoadDefaultConfig

// Presigner is the subset of *s3.PresignClient the store uses.
type Presigner interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Config struct {
	Bucket        string
	Region        string
	BaseEndpoint  string
	AccessKey     string
	SecretKey     string
	PresignExpiry time.Duration
}

// S3Store implements the record engine's document store. Document ids are
// object keys of the form users/{userID}/documents/{uuid}.
type S3Store struct {
	bucket  string
	expiry  time.Duration
	presign Presigner
	http    *http.Client
}

// New builds a presign client with static credentials.
func New(ctx context.Context, cfg Config, httpClient *http.Client) (*S3Store, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithPresigner(cfg, s3.NewPresignClient(c), httpClient), nil
}

func NewWithPresigner(cfg Config, p Presigner, httpClient *http.Client) *S3Store {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	return &S3Store{bucket: cfg.Bucket, expiry: expiry, presign: p, http: httpClient}
}

func storageKey(userID string) string {
	return fmt.Sprintf("users/%s/documents/%s", userID, uuid.NewString())
}

func (s *S3Store) UploadDocument(ctx context.Context, userID string, data []byte) (string, error) {
	key := storageKey(userID)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	if err := netx.PutPresigned(ctx, s.http, req.URL, data); err != nil {
		return "", err
	}
	return key, nil
}

func (s *S3Store) DownloadDocument(ctx context.Context, userID, documentID string) ([]byte, error) {
	if !strings.HasPrefix(documentID, "users/"+userID+"/") {
		return nil, fmt.Errorf("%w: %s", ErrForeignDocument, documentID)
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(documentID),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return nil, fmt.Errorf("presign get: %w", err)
	}
	data, err := netx.GetPresigned(ctx, s.http, req.URL)
	if err != nil {
		var se *netx.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", client.ErrNotFound, documentID)
		}
		return nil, err
	}
	return data, nil
}
