package storage

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"streampirex-radio/internal/config"
)

// Client resolves stream URIs into listener-facing signed URLs.
// URIs are either bare keys ("media/track.mp3", media bucket implied) or
// fully qualified ("s3://bucket/key").
type Client struct {
	backend      Provider
	bucketMedia  string
	bucketRender string
	ttl          time.Duration
}

func New(cfg *config.Config) *Client {
	var backend Provider

	if cfg.Storage.Provider == "local" {
		backend = &LocalProvider{RootPath: cfg.Storage.LocalRoot}
	} else {
		// Defaulting to S3/B2
		s3Config := &aws.Config{
			Credentials:      credentials.NewStaticCredentials(cfg.Storage.KeyID, cfg.Storage.AppKey, ""),
			Endpoint:         aws.String(cfg.Storage.Endpoint),
			Region:           aws.String(cfg.Storage.Region),
			S3ForcePathStyle: aws.Bool(true),
		}
		sess := session.Must(session.NewSession(s3Config))
		backend = &S3Provider{api: s3.New(sess)}
	}

	ttl := time.Duration(cfg.Storage.SignedURLTTL) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	log.Printf("✅ Storage backend: %s", cfg.Storage.Provider)
	return &Client{
		backend:      backend,
		bucketMedia:  cfg.Storage.BucketMedia,
		bucketRender: cfg.Storage.BucketRender,
		ttl:          ttl,
	}
}

// SignStreamURL produces the URL a listener streams from.
func (c *Client) SignStreamURL(uri string) (string, error) {
	bucket, key := c.split(uri)
	return c.backend.SignURL(bucket, key, c.ttl)
}

// RenditionExists checks whether a worker-produced output is present.
func (c *Client) RenditionExists(uri string) (bool, error) {
	bucket, key := c.split(uri)
	return c.backend.Exists(bucket, key)
}

func (c *Client) split(uri string) (bucket, key string) {
	if rest, ok := strings.CutPrefix(uri, "s3://"); ok {
		if i := strings.IndexByte(rest, '/'); i > 0 {
			return rest[:i], rest[i+1:]
		}
		return rest, ""
	}
	return c.bucketMedia, uri
}

// S3Provider signs against any S3-compatible endpoint (AWS, B2, R2).
type S3Provider struct {
	api *s3.S3
}

func (p *S3Provider) SignURL(bucket, key string, ttl time.Duration) (string, error) {
	req, _ := p.api.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return req.Presign(ttl)
}

func (p *S3Provider) Exists(bucket, key string) (bool, error) {
	_, err := p.api.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// LocalProvider serves files straight off disk for development.
type LocalProvider struct {
	RootPath string
}

func (p *LocalProvider) SignURL(bucket, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("file://%s/%s/%s", strings.TrimSuffix(p.RootPath, "/"), bucket, key), nil
}

func (p *LocalProvider) Exists(bucket, key string) (bool, error) {
	return true, nil
}
