package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	appConfig "github.com/kendall-kelly/cafe-orders-api/config"
	"github.com/kendall-kelly/cafe-orders-api/logger"
	"github.com/sirupsen/logrus"
)

// ReceiptStorage stores uploaded payment receipts and hands verifiers a
// time-limited link to them.
type ReceiptStorage interface {
	UploadReceipt(ctx context.Context, orderID string, fileHeader *multipart.FileHeader) (string, error)
	PresignedURL(ctx context.Context, key string) (string, error)
	DeleteReceipt(ctx context.Context, key string) error
}

// S3ReceiptStorage keeps receipts in a private S3 bucket
type S3ReceiptStorage struct {
	client    *s3.Client
	bucket    string
	urlExpiry time.Duration
}

// NewS3ReceiptStorage initializes the S3 client from the application config
func NewS3ReceiptStorage(ctx context.Context, cfg *appConfig.Config) (*S3ReceiptStorage, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.AWSRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWSAccessKeyID,
			cfg.AWSSecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3ReceiptStorage{
		client:    s3.NewFromConfig(awsConfig),
		bucket:    cfg.AWSS3Bucket,
		urlExpiry: time.Hour,
	}, nil
}

// UploadReceipt stores the file under receipts/{orderID}/ and returns its key
func (s *S3ReceiptStorage) UploadReceipt(ctx context.Context, orderID string, fileHeader *multipart.FileHeader) (string, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Get().WithError(closeErr).Warn("Failed to close receipt file")
		}
	}()

	content, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	key := ReceiptKey(orderID, fileHeader.Filename, time.Now())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(ReceiptContentType(fileHeader.Filename)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return key, nil
}

// PresignedURL returns a GET link to a private receipt, valid for one hour
func (s *S3ReceiptStorage) PresignedURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}

	presignClient := s3.NewPresignClient(s.client)
	request, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	logger.WithFields(logrus.Fields{"key": key}).Debug("Generated presigned receipt URL")
	return request.URL, nil
}

// DeleteReceipt removes a receipt from the bucket
func (s *S3ReceiptStorage) DeleteReceipt(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}
	return nil
}

// ReceiptKey builds the object key for an order's receipt.
// Format: receipts/{orderID}/{unix}_{filename}
func ReceiptKey(orderID, filename string, at time.Time) string {
	return fmt.Sprintf("receipts/%s/%d_%s", orderID, at.Unix(), filepath.Base(filename))
}

// ReceiptContentType maps an allowed receipt extension to its MIME type.
func ReceiptContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	return "application/octet-stream"
}
