// Package assets issues short-lived access URLs for purchased audio and
// stem files. Objects live in S3-compatible storage keyed on the track
// record; tracks without an object key fall back to the Content Store's
// direct asset URL.
package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wavecrate/wavecrate/internal/pkg/contentstore"
	"github.com/wavecrate/wavecrate/internal/pkg/env"
)

// URLTTL is how long an issued download URL stays valid.
const URLTTL = 15 * time.Minute

// Signer issues presigned GET URLs for track assets.
type Signer struct {
	presigner *s3.PresignClient
	bucket    string
}

// NewSignerFromEnv builds a signer from ASSET_S3_* env keys.
func NewSignerFromEnv() (*Signer, error) {
	bucket := strings.TrimSpace(env.GetEnv("ASSET_S3_BUCKET", ""))
	if bucket == "" {
		return nil, errors.New("ASSET_S3_BUCKET is not configured")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(env.GetEnv("ASSET_S3_REGION", "us-east-1")),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			env.GetEnv("ASSET_S3_ACCESS_KEY_ID", ""),
			env.GetEnv("ASSET_S3_SECRET_ACCESS_KEY", ""),
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(env.GetEnv("ASSET_S3_ENDPOINT", "")); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Signer{
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
	}, nil
}

// DownloadURL returns an access URL for the track's audio or stems asset.
func (s *Signer) DownloadURL(ctx context.Context, track *contentstore.Track, withStems bool) (string, error) {
	if track == nil {
		return "", errors.New("track is required")
	}

	key := track.AudioKey
	fallback := track.AudioURL
	if withStems {
		key = track.StemsKey
		fallback = track.StemsURL
	}

	// A nil signer still serves the store's direct asset URL.
	if key == "" || s == nil || s.presigner == nil {
		if fallback == "" {
			return "", fmt.Errorf("track %s has no asset for the requested tier", track.ID)
		}
		return fallback, nil
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(URLTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign asset %s: %w", key, err)
	}
	return req.URL, nil
}
