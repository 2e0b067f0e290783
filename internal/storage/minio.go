package storage

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// ImageMirror copies event cover images into object storage so the
// calendar does not hotlink third-party CDNs. Objects are keyed by
// platform id, making re-mirroring on repeated ingestion runs cheap.
type ImageMirror struct {
	client         *minio.Client
	httpClient     *http.Client
	bucketName     string
	publicEndpoint string
}

// NewImageMirror creates an image mirror backed by a MinIO bucket.
func NewImageMirror(endpoint, publicEndpoint, accessKey, secretKey, bucketName string, useSSL bool) (*ImageMirror, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	if publicEndpoint == "" {
		publicEndpoint = endpoint
	}
	publicEndpoint = strings.TrimSuffix(strings.TrimSpace(publicEndpoint), "/")

	mirror := &ImageMirror{
		client:         minioClient,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		bucketName:     bucketName,
		publicEndpoint: publicEndpoint,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := minioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Warn().Err(err).Msgf("Failed to check bucket existence for %s (will continue)", bucketName)
	} else if !exists {
		if err := minioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Error().Err(err).Msgf("Failed to create bucket %s", bucketName)
		} else {
			log.Info().Msgf("Bucket %s created successfully", bucketName)

			policy := fmt.Sprintf(`{"Version": "2012-10-17","Statement": [{"Action": ["s3:GetObject"],"Effect": "Allow","Principal": {"AWS": ["*"]},"Resource": ["arn:aws:s3:::%s/*"],"Sid": ""}]}`, bucketName)
			if err := minioClient.SetBucketPolicy(ctx, bucketName, policy); err != nil {
				log.Error().Err(err).Msg("Failed to set bucket policy")
			}
		}
	}

	log.Info().
		Str("endpoint", endpoint).
		Str("public_endpoint", publicEndpoint).
		Str("bucket", bucketName).
		Msg("Image mirror initialized")

	return mirror, nil
}

// Mirror downloads srcURL and stores it under a key derived from the
// event's platform id, returning the public URL of the mirrored copy.
// Existing objects are reused without re-downloading.
func (m *ImageMirror) Mirror(ctx context.Context, key, srcURL string) (string, error) {
	objectKey := "events/" + key

	if _, err := m.client.StatObject(ctx, m.bucketName, objectKey, minio.StatObjectOptions{}); err == nil {
		return m.publicURL(objectKey), nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create image request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = m.client.PutObject(ctx, m.bucketName, objectKey, resp.Body, resp.ContentLength,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	publicURL := m.publicURL(objectKey)
	log.Debug().
		Str("key", objectKey).
		Str("src", srcURL).
		Str("url", publicURL).
		Msg("Image mirrored")

	return publicURL, nil
}

func (m *ImageMirror) publicURL(objectKey string) string {
	if strings.Contains(m.publicEndpoint, "://") {
		return fmt.Sprintf("%s/%s/%s", m.publicEndpoint, m.bucketName, objectKey)
	}
	return fmt.Sprintf("https://%s/%s/%s", m.publicEndpoint, m.bucketName, objectKey)
}

// HealthCheck verifies the object storage connection.
func (m *ImageMirror) HealthCheck(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucketName)
	if err != nil {
		return fmt.Errorf("image mirror health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket '%s' does not exist", m.bucketName)
	}
	return nil
}
