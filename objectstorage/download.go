package objectstorage

import (
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/valyala/gozstd"
)

// Download streams an archived message back, decompressing when the key
// carries the .zstd suffix.
func (a *Archive) Download(key string) (io.ReadCloser, error) {
	resp, err := a.s3Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", key, err)
	}

	if strings.HasSuffix(key, ".zstd") {
		zr := gozstd.NewReader(resp.Body)
		return struct {
			io.Reader
			io.Closer
		}{
			Reader: zr,
			Closer: resp.Body,
		}, nil
	}
	return resp.Body, nil
}
