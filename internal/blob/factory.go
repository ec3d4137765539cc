package blob

import (
	"fmt"
	"log"
	"strings"

	"github.com/fdg312/coach-hub/internal/config"
)

// NewBlobStore builds the archive store from config: "s3" mode needs a
// complete S3 config (an incomplete one is an error); any other mode uses
// local files.
func NewBlobStore(cfg *config.Config) (Store, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.BlobMode))

	if mode == config.BlobModeS3 {
		if missing := cfg.S3.MissingRequired(); len(missing) > 0 {
			return nil, "", fmt.Errorf("BLOB_MODE=s3 but S3 config is incomplete — missing: %s", strings.Join(missing, ", "))
		}
		store, err := NewS3Store(cfg.S3.Endpoint, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey)
		if err != nil {
			return nil, "", err
		}
		return store, config.BlobModeS3, nil
	}

	if mode != config.BlobModeLocal {
		log.Printf("WARNING: unknown blob mode %q, fallback to local", mode)
	}
	store, err := NewLocalStore(cfg.BlobLocalDir)
	if err != nil {
		return nil, "", err
	}
	return store, config.BlobModeLocal, nil
}
