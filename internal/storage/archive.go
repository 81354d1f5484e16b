package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
	Prefix        string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive keeps a private copy of delivered transcripts in an S3 bucket.
type Archive struct {
	cfg    Config
	client objectPutter
	now    func() time.Time
}

func NewArchive(cfg Config) (*Archive, error) {
	var missing []string
	if cfg.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if cfg.Region == "" {
		missing = append(missing, "region")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		missing = append(missing, "credentials")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("archive: missing s3 %s", strings.Join(missing, ", "))
	}

	client := s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newArchive(cfg, client), nil
}

func newArchive(cfg Config, client objectPutter) *Archive {
	if cfg.Prefix == "" {
		cfg.Prefix = "transcripts"
	}
	return &Archive{cfg: cfg, client: client, now: time.Now}
}

// Store uploads text under <prefix>/<yyyy>/<mm>/<dd>/<chat>/<uuid>.txt and
// returns where it landed.
func (a *Archive) Store(ctx context.Context, chatID int64, label, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("archive: empty text")
	}

	key := a.objectKey(chatID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(text),
		ContentLength: aws.Int64(int64(len(text))),
		ContentType:   aws.String("text/plain; charset=utf-8"),
		ACL:           types.ObjectCannedACLPrivate,
		Metadata:      map[string]string{"label": label},
	})
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	if base := strings.TrimRight(a.cfg.PublicBaseURL, "/"); base != "" {
		return base + "/" + key, nil
	}
	return "s3://" + a.cfg.Bucket + "/" + key, nil
}

func (a *Archive) objectKey(chatID int64) string {
	day := a.now().UTC().Format("2006/01/02")
	return path.Join(strings.Trim(a.cfg.Prefix, "/"), day, strconv.FormatInt(chatID, 10), uuid.NewString()+".txt")
}
