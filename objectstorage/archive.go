package objectstorage

import (
	"bytes"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/valyala/gozstd"

	"github.com/aljonuschka/reservd/config"
)

// Archive keeps the zstd-compressed raw source of every imported
// reservation request in S3-compatible storage, keyed by receive time and
// mailbox UID. The mailbox purges old mail; the archive is the durable
// audit copy of what was parsed.
type Archive struct {
	s3Client *s3.S3
	bucket   string
}

func New(conf config.ObjectStorage) *Archive {
	s3session := session.Must(session.NewSession(&aws.Config{
		Region:   aws.String(conf.Region),
		Endpoint: aws.String(conf.Endpoint),
		Credentials: credentials.NewChainCredentials([]credentials.Provider{
			&credentials.StaticProvider{
				Value: credentials.Value{
					AccessKeyID:     conf.AccessKey,
					SecretAccessKey: conf.SecretKey,
				},
			},
		}),
	}))
	return &Archive{
		s3Client: s3.New(s3session),
		bucket:   conf.Bucket,
	}
}

// ObjectKey builds YYYY/MM/DD/uid-UUID for a message archived now.
func ObjectKey(uid uint32) string {
	now := time.Now()
	return fmt.Sprintf("%04d/%02d/%02d/%d-%s",
		now.Year(), now.Month(), now.Day(), uid, uuid.New().String())
}

func (a *Archive) Archive(uid uint32, raw []byte) error {
	key := ObjectKey(uid) + ".zstd"
	compressed := gozstd.Compress(nil, raw)

	_, err := a.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(compressed),
		ContentType: aws.String("application/zstd"),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}
