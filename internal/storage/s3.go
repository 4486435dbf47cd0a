package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Compile-time check that S3Provider implements Provider.
var _ Provider = (*S3Provider)(nil)

// S3Provider stores objects in an S3 bucket or an S3-compatible endpoint.
type S3Provider struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	region   string
	endpoint string
	cfg      Config
}

// NewS3Provider creates a new S3Provider.
func NewS3Provider(cfg Config) (*S3Provider, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			// Many S3-compatible stores reject the newer default checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Provider{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		cfg:      cfg,
	}, nil
}

// Name returns "s3".
func (p *S3Provider) Name() string {
	return ProviderS3
}

// Upload puts body into the bucket under obj.Key.
func (p *S3Provider) Upload(ctx context.Context, obj Object, body io.Reader) (Location, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(obj.Key),
		Body:   body,
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	if obj.Size >= 0 {
		input.ContentLength = aws.Int64(obj.Size)
	}

	out, err := p.client.PutObject(ctx, input)
	if err != nil {
		return Location{}, fmt.Errorf("upload to S3: %w", err)
	}

	url, err := p.objectURL(ctx, obj.Key)
	if err != nil {
		return Location{}, err
	}

	return Location{
		URL:      url,
		Key:      obj.Key,
		Bucket:   p.bucket,
		Provider: ProviderS3,
		Size:     obj.Size,
		ETag:     strings.Trim(aws.ToString(out.ETag), `"`),
	}, nil
}

// objectURL returns a presigned GET URL when a TTL is configured, otherwise
// the object's plain URL.
func (p *S3Provider) objectURL(ctx context.Context, key string) (string, error) {
	if p.cfg.PresignTTL > 0 {
		req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(p.cfg.PresignTTL))
		if err != nil {
			return "", fmt.Errorf("presign S3 object: %w", err)
		}
		return req.URL, nil
	}

	if p.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", p.endpoint, p.bucket, key), nil
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.bucket, p.region, key), nil
}

// CheckConnection issues a HeadBucket request.
func (p *S3Provider) CheckConnection(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(p.bucket),
	})
	if err != nil {
		return fmt.Errorf("check S3 bucket %s: %w", p.bucket, err)
	}
	return nil
}

// Delete removes the object stored under key.
func (p *S3Provider) Delete(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete S3 object %s: %w", key, err)
	}
	return nil
}
