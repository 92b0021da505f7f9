package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
)

// objectStore is the subset of the object API the connection needs.
type objectStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Copy(ctx context.Context, from, to string) error
	Remove(ctx context.Context, key string) error
}

// location is the parsed form of an s3 connection uri.
type location struct {
	endpoint string
	bucket   string
	prefix   string
	secure   bool
	region   string
}

func parseLocation(uri string) (location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return location{}, fmt.Errorf("parsing s3 uri: %w", err)
	}
	if u.Host == "" {
		return location{}, fmt.Errorf("the s3 uri (%s) has no endpoint: %w", uri, exitcodes.ErrInvalidURI)
	}
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if parts[0] == "" {
		return location{}, fmt.Errorf("the s3 uri (%s) has no bucket: %w", uri, exitcodes.ErrInvalidURI)
	}
	loc := location{endpoint: u.Host, bucket: parts[0], secure: true, region: u.Query().Get("region")}
	if len(parts) == 2 {
		loc.prefix = parts[1]
	}
	if s := u.Query().Get("secure"); s != "" {
		loc.secure, err = strconv.ParseBool(s)
		if err != nil {
			return location{}, fmt.Errorf("the secure parameter (%s) is not a boolean: %w", s, exitcodes.ErrInvalidURI)
		}
	}
	return loc, nil
}

type minioStore struct {
	client *minio.Client
	bucket string
}

func newMinioStore(loc location, attrs map[string]string) (*minioStore, error) {
	access, secret := attrs["user"], attrs["password"]
	if access == "" {
		access, secret = os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	client, err := minio.New(loc.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: loc.secure,
		Region: loc.region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client for %s: %w", loc.endpoint, err)
	}
	return &minioStore{client: client, bucket: loc.bucket}, nil
}

func (s *minioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classify(obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *minioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, classify(err)
}

func (s *minioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify(err)
	}
	return data, nil
}

func (s *minioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return classify(err)
}

func (s *minioStore) Copy(ctx context.Context, from, to string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: to},
		minio.CopySrcOptions{Bucket: s.bucket, Object: from})
	return classify(err)
}

func (s *minioStore) Remove(ctx context.Context, key string) error {
	return classify(s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}))
}

// classify maps the s3 error codes onto the error sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%v: %w", err, exitcodes.ErrNotFound)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return exitcodes.NewExitError(fmt.Errorf("s3 authentication: %w", err), exitcodes.ConnectionError)
	}
	return err
}
