package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"asset-pipeline/config"
	"asset-pipeline/internal/application/ports"
)

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// Client is both the object store and the URL signer. Retries are owned by the
// upload pipeline, so the SDK retryer is limited to a single attempt.
type Client struct {
	logger     *zap.Logger
	cfg        config.S3
	client     *s3.Client
	uploader   *manager.Uploader
	presigner  *s3.PresignClient
	publicBase string
}

func New(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.S3,
) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	c := &Client{
		logger:    logger,
		cfg:       cfg,
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
	}
	c.publicBase = c.resolvePublicBase()

	logger.Info("s3 client configured",
		zap.String("region", cfg.Region),
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.BucketPrivate),
	)

	return c, nil
}

func (c *Client) resolvePublicBase() string {
	switch {
	case c.cfg.PublicBaseURL != "":
		return strings.TrimRight(c.cfg.PublicBaseURL, "/")
	case c.cfg.Endpoint != "":
		return strings.TrimRight(c.cfg.Endpoint, "/")
	default:
		return ""
	}
}

func (c *Client) PrivateBucket() string { return c.cfg.BucketPrivate }

func (c *Client) Put(ctx context.Context, bucket, key, contentType string, body []byte) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return classify(fmt.Errorf("put %s/%s: %w", bucket, key, err))
	}

	return nil
}

// Delete is idempotent: a missing object is not an error.
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = classify(fmt.Errorf("delete %s/%s: %w", bucket, key, err))
		if errors.Is(err, ports.ErrObjectNotFound) {
			return nil
		}
		return err
	}

	return nil
}

// Stat returns ports.ErrObjectNotFound when the object is missing.
func (c *Client) Stat(ctx context.Context, bucket, key string) (ports.ObjectInfo, error) {
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ports.ObjectInfo{}, classify(fmt.Errorf("head %s/%s: %w", bucket, key, err))
	}

	return ports.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (c *Client) List(ctx context.Context, bucket, prefix string, fn func(ports.ObjectInfo) error) error {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}

	p := s3.NewListObjectsV2Paginator(c.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return classify(fmt.Errorf("list %s: %w", bucket, err))
		}
		for _, obj := range page.Contents {
			if err = fn(ports.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

// Presign checks the object exists before signing, so a missing object surfaces as
// ports.ErrObjectNotFound instead of a URL that answers 404.
func (c *Client) Presign(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if _, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return "", classify(fmt.Errorf("head %s/%s: %w", bucket, key, err))
	}

	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}

	return req.URL, nil
}

func (c *Client) PublicURL(bucket, key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if c.publicBase != "" {
		return fmt.Sprintf("%s/%s/%s", c.publicBase, bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, c.cfg.Region, escaped)
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return fmt.Errorf("%w: %w", ports.ErrObjectNotFound, err)
		}
	}

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		switch {
		case code == http.StatusNotFound:
			return fmt.Errorf("%w: %w", ports.ErrObjectNotFound, err)
		case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
			return err
		case code >= 400 && code < 500:
			return fmt.Errorf("%w: %w", ports.ErrStoragePermanent, err)
		}
	}

	return err
}
