package remote

import (
	"fmt"
	"path"
	"strings"

	"github.com/openmined/remotesync/internal/config"
)

// Endpoint is a location understood by rclone, e.g. "sftp:/data" or "gcs:bucket/data".
type Endpoint struct {
	Protocol string
	Bucket   string
	Path     string
}

// NewEndpoint resolves an endpoint configuration against the backend settings.
func NewEndpoint(cfg *config.Config, ep config.EndpointConfig) (Endpoint, error) {
	p := ep.Path
	if p == "" {
		p = cfg.SyncPath
	}
	switch ep.Type {
	case config.ProtocolSFTP, config.ProtocolLocal:
		return Endpoint{Protocol: ep.Type, Path: p}, nil
	case config.ProtocolGCS:
		return Endpoint{Protocol: ep.Type, Bucket: cfg.GCS.BucketName, Path: p}, nil
	case config.ProtocolS3:
		return Endpoint{Protocol: ep.Type, Bucket: cfg.S3.BucketName, Path: p}, nil
	default:
		return Endpoint{}, &config.ConfigError{Field: "type", Reason: fmt.Sprintf("unsupported protocol %q", ep.Type)}
	}
}

func (e Endpoint) String() string {
	switch e.Protocol {
	case config.ProtocolLocal:
		return e.Path
	case config.ProtocolGCS, config.ProtocolS3:
		return e.Protocol + ":" + e.Bucket + e.Path
	default:
		return e.Protocol + ":" + e.Path
	}
}

// Join returns the location of rel below the endpoint root.
func (e Endpoint) Join(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	root := e.String()
	if strings.HasSuffix(root, "/") || strings.HasSuffix(root, ":") {
		return root + rel
	}
	if e.Protocol == config.ProtocolLocal {
		return path.Join(root, rel)
	}
	return root + "/" + rel
}
