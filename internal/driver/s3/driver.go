// Package s3 provides the object store driver for S3 compatible services
// (AWS S3, MinIO) using minio-go. Objects are addressed by key under the
// bucket of the connection; CSV objects are read and written as records,
// any other object as lines of text.
package s3

import (
	"github.com/tabulify/tabulify-sub009/internal/driver"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for s3:// uris.
type Driver struct{}

func (d *Driver) Name() string      { return "s3" }
func (d *Driver) Aliases() []string { return []string{"minio"} }

// Open connects to s3://endpoint/bucket[/prefix]. The user and password
// attributes are the access key and the secret key.
func (d *Driver) Open(name, uri string, attrs map[string]string) (resource.Connection, error) {
	return Open(name, uri, attrs)
}
