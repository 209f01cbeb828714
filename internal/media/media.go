// Package media issues presigned upload URLs for the audio attached to
// content. Clients upload directly to object storage and then reference the
// returned media name in the content payload.
package media

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"stillpoint/internal/kinds"
)

var audioExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".aac": true, ".wav": true, ".ogg": true, ".flac": true,
}

// Config holds S3-compatible storage configuration.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PathStyle       bool
	Expiry          time.Duration
}

type Presigner struct {
	client *s3.PresignClient
	bucket string
	expiry time.Duration
	Now    func() time.Time
}

func New(cfg Config) *Presigner {
	client := s3.New(s3.Options{}, func(o *s3.Options) {
		o.Region = cfg.Region
		if cfg.AccessKeyID != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Presigner{client: s3.NewPresignClient(client), bucket: cfg.Bucket, expiry: expiry, Now: time.Now}
}

// Upload is a presigned PUT for one media object.
type Upload struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	MediaFolder string            `json:"media_folder"`
	MediaName   string            `json:"media_name"`
	ExpiresAt   string            `json:"expires_at" format:"date-time"`
}

// UploadURL presigns an upload into the media folder of kind under a fresh name.
func (p *Presigner) UploadURL(ctx context.Context, kind, fileName, contentType string) (Upload, error) {
	d, err := kinds.Lookup(kind)
	if err != nil {
		return Upload{}, err
	}
	if !d.HasMedia() {
		return Upload{}, kinds.ValidationError{Field: "kind", Reason: fmt.Sprintf("%s content has no media", d.Kind)}
	}
	ext := strings.ToLower(path.Ext(fileName))
	if !audioExtensions[ext] {
		return Upload{}, kinds.ValidationError{Field: "file_name", Reason: "unsupported audio file type"}
	}
	if !strings.HasPrefix(contentType, "audio/") {
		return Upload{}, kinds.ValidationError{Field: "content_type", Reason: "must be an audio content type"}
	}
	if p.bucket == "" {
		return Upload{}, fmt.Errorf("media bucket is not configured")
	}
	name := uuid.NewString() + ext
	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(path.Join(d.MediaFolder, name)),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return Upload{}, fmt.Errorf("presign upload: %w", err)
	}
	headers := map[string]string{}
	for k, v := range req.SignedHeader {
		if len(v) > 0 && !strings.EqualFold(k, "host") {
			headers[k] = v[0]
		}
	}
	return Upload{
		URL:         req.URL,
		Method:      req.Method,
		Headers:     headers,
		MediaFolder: d.MediaFolder,
		MediaName:   name,
		ExpiresAt:   p.Now().Add(p.expiry).UTC().Format(time.RFC3339),
	}, nil
}
