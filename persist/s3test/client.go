// Package s3test provides S3 clients for tests: an in-process fake by
// default, or a real endpoint when AETREE_TEST_S3_ENDPOINT is set.
package s3test

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net/http/httptest"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// Client returns a client, a freshly created bucket, and a function that
// empties the bucket and releases the client.
func Client() (*s3.S3, string, func()) {
	var client *s3.S3
	closer := func() {}
	if os.Getenv("AETREE_TEST_S3_ENDPOINT") != "" {
		config := aws.Config{
			Credentials: credentials.NewStaticCredentials(
				getEnv("AWS_ACCESS_KEY_ID"),
				getEnv("AWS_SECRET_ACCESS_KEY"),
				getEnvOrDefault("AWS_SESSION_TOKEN", ""),
			),
			Endpoint:         aws.String(getEnv("AETREE_TEST_S3_ENDPOINT")),
			Region:           aws.String(getEnvOrDefault("AWS_REGION", "not-using-AWS")),
			S3ForcePathStyle: aws.Bool(true),
		}
		sess, err := session.NewSession(&config)
		if err != nil {
			panic(err)
		}
		client = s3.New(sess)
	} else {
		faker := gofakes3.New(s3mem.New())
		ts := httptest.NewServer(faker.Server())
		closer = ts.Close
		client = s3.New(session.Must(session.NewSession(&aws.Config{
			Credentials: credentials.NewStaticCredentials(
				"TEST-ACCESSKEYID",
				"TEST-SECRETACCESSKEY",
				"",
			),
			Endpoint:         aws.String(ts.URL),
			Region:           aws.String("ca-west-1"),
			DisableSSL:       aws.Bool(true),
			S3ForcePathStyle: aws.Bool(true),
		})))
	}

	bucketName := randBucketName()
	_, err := client.CreateBucket(&s3.CreateBucketInput{
		Bucket: &bucketName,
	})
	if err != nil {
		panic(err)
	}
	oldCloser := closer
	return client, bucketName, func() {
		defer oldCloser()
		if err := emptyBucket(client, bucketName); err != nil {
			panic(err)
		}
		if _, err := client.DeleteBucket(&s3.DeleteBucketInput{Bucket: &bucketName}); err != nil {
			panic(err)
		}
	}
}

func getEnv(key string) string {
	res := os.Getenv(key)
	if res == "" {
		panic(fmt.Sprintf("environment '%s' unset", key))
	}
	return res
}

func getEnvOrDefault(key, def string) string {
	res := os.Getenv(key)
	if res == "" {
		return def
	}
	return res
}

func randBucketName() string {
	i, err := rand.Int(rand.Reader, big.NewInt(math.MaxUint32))
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("bucket-%s", i)
}

func emptyBucket(s *s3.S3, bucket string) error {
	var deleteErr error
	err := s.ListObjectsV2Pages(&s3.ListObjectsV2Input{Bucket: &bucket},
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			if len(page.Contents) == 0 {
				return true
			}
			objects := make([]*s3.ObjectIdentifier, 0, len(page.Contents))
			for _, object := range page.Contents {
				objects = append(objects, &s3.ObjectIdentifier{Key: object.Key})
			}
			_, deleteErr = s.DeleteObjects(&s3.DeleteObjectsInput{
				Bucket: &bucket,
				Delete: &s3.Delete{Objects: objects},
			})
			return deleteErr == nil
		})
	if deleteErr != nil {
		return fmt.Errorf("delete objects: %w", deleteErr)
	}
	if err != nil {
		return fmt.Errorf("list objects: %w", err)
	}
	return nil
}
