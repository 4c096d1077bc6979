package store

import (
	"bytes"
	"context"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
)

// S3 stores blobs as objects in a bucket, below an optional key prefix.
type S3 struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// NewS3 creates an S3 store using the default credential chain.
func NewS3(region, bucket, prefix string) (*S3, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, errors.Wrap(err, "error creating aws session")
	}
	return NewS3From(s3.New(sess, aws.NewConfig().WithRegion(region)), bucket, prefix), nil
}

// NewS3From wraps an existing client.
func NewS3From(client s3iface.S3API, bucket, prefix string) *S3 {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// Get implements Store.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	objKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if isNotFound(err) {
		return nil, errors.Wrapf(ErrNotFound, "s3://%s/%s", s.bucket, objKey)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error getting s3://%s/%s", s.bucket, objKey)
	}
	defer out.Body.Close()

	data, err := ioutil.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading s3://%s/%s", s.bucket, objKey)
	}
	return data, nil
}

// Put implements Store.
func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	objKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return errors.Wrapf(err, "error putting s3://%s/%s", s.bucket, objKey)
	}
	return nil
}

// List implements Store.
func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.StringValue(obj.Key), s.prefix))
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error listing s3://%s/%s%s", s.bucket, s.prefix, prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements Store. S3 deletes are idempotent, so existence is checked
// first to report ErrNotFound consistently with FS.
func (s *S3) Delete(ctx context.Context, key string) error {
	objKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if isNotFound(err) {
		return errors.Wrapf(ErrNotFound, "s3://%s/%s", s.bucket, objKey)
	}
	if err != nil {
		return errors.Wrapf(err, "error checking s3://%s/%s", s.bucket, objKey)
	}

	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		return errors.Wrapf(err, "error deleting s3://%s/%s", s.bucket, objKey)
	}
	return nil
}

func (s *S3) objectKey(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return s.prefix + cleaned, nil
}

func isNotFound(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}
