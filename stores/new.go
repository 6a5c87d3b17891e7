package stores

import (
	"github.com/sloonz/shelvery/lib"

	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Blob backend selected by the metadata_store setting. url is the endpoint
// URL (object-storage, ftp) or the base path (fs).
func New(typ string, url string, awsCfg aws.Config) (shelvery.BlobBackend, error) {
	switch typ {
	case "s3", "":
		return NewS3(s3.NewFromConfig(awsCfg), awsCfg.Region), nil
	case "object-storage":
		return newObjectStorageBackend(url)
	case "ftp":
		return newFTPBackend(url)
	case "fs":
		return newFSBackend(url)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("invalid metadata store type %v", typ)
	}
}
