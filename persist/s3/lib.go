package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	lru "github.com/hashicorp/golang-lru"
	"github.com/jrhy/aetree"
)

// DefaultCacheSize is how many row digests a Persist remembers in order to
// skip uploading unchanged values.
const DefaultCacheSize = 1000

type S3Interface interface {
	DeleteObjectWithContext(ctx aws.Context, input *s3.DeleteObjectInput, opts ...request.Option) (*s3.DeleteObjectOutput, error)
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
	ListObjectsV2PagesWithContext(ctx aws.Context, input *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error
}

// Persist implements the aetree.Persist interface for storing and loading
// rows as objects under a common prefix.
type Persist struct {
	s3         S3Interface
	BucketName string
	Prefix     string
	lru        *lru.Cache
}

// Load loads the bytes persisted in the named object.
func (p *Persist) Load(ctx context.Context, name string) ([]byte, error) {
	input := s3.GetObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
	}
	output, err := p.s3.GetObjectWithContext(ctx, &input)
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()
	b, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, err
	}
	p.lru.Add(name, digest(b))
	return b, nil
}

// Store persists the given bytes in an object of the given name, unless the
// object is already known to hold them.
func (p *Persist) Store(ctx context.Context, name string, b []byte) error {
	d := digest(b)
	if known, present := p.lru.Get(name); present && known.(aetree.Digest).Equal(d) {
		return nil
	}
	input := s3.PutObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
		Body:   bytes.NewReader(b),
	}
	_, err := p.s3.PutObjectWithContext(ctx, &input)
	if err != nil {
		return err
	}
	p.lru.Add(name, d)
	return nil
}

// Delete removes the named object.
func (p *Persist) Delete(ctx context.Context, name string) error {
	p.lru.Remove(name)
	_, err := p.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
	})
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
		return nil
	}
	return err
}

// List yields the names of all objects under the prefix, with the prefix
// removed.
func (p *Persist) List(ctx context.Context, f func(string) error) error {
	var cbErr error
	err := p.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: &p.BucketName,
		Prefix: aws.String(p.Prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.StringValue(obj.Key), p.Prefix)
			if name == "" {
				continue
			}
			if cbErr = f(name); cbErr != nil {
				return false
			}
		}
		return true
	})
	if cbErr != nil {
		return cbErr
	}
	return err
}

func digest(b []byte) aetree.Digest {
	return aetree.Blake2b256.Hash(b)
}

// NewPersist returns a Persist that loads and stores rows as
// objects with the given S3 client, bucket name and key prefix.
func NewPersist(client S3Interface, bucketName, prefix string) *Persist {
	cache, err := lru.New(DefaultCacheSize)
	if err != nil {
		panic(err)
	}
	return &Persist{client, bucketName, prefix, cache}
}
