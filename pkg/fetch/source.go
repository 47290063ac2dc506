package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pysqlcipher/amalgam/pkg/types"
)

// Source opens the byte stream of an archive location
type Source interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// HTTPSource downloads archives over http(s)
type HTTPSource struct {
	Client *http.Client
}

// Open implements Source. Any status other than 200 is an error.
func (s *HTTPSource) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid archive URL: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed: server returned status %d for %s", resp.StatusCode, location)
	}
	return resp.Body, nil
}

// S3Source reads archives from an S3 bucket, for private mirrors of the
// upstream release tarballs. Locations look like s3://bucket/path/to/key.
type S3Source struct {
	Client s3iface.S3API
}

// NewS3Source creates an S3 client. A non-empty endpoint selects path-style
// addressing, as S3-compatible mirrors expect.
func NewS3Source(endpoint, region string) (*S3Source, error) {
	config := aws.Config{}
	if endpoint != "" {
		config.Endpoint = aws.String(endpoint)
		config.S3ForcePathStyle = aws.Bool(true)
	}
	if region != "" {
		config.Region = aws.String(region)
	}

	sess, err := session.NewSession(&config)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &S3Source{Client: s3.New(sess)}, nil
}

// Open implements Source
func (s *S3Source) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, key, err := parseS3Location(location)
	if err != nil {
		return nil, err
	}

	out, err := s.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", location, err)
	}
	return out.Body, nil
}

func parseS3Location(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 location: %w", err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || u.Host == "" || key == "" {
		return "", "", fmt.Errorf("%w: expected s3://bucket/key, got %q", types.ErrUnsupportedSource, location)
	}
	return u.Host, key, nil
}

// FileSource reads archives from the local filesystem, for offline builds
type FileSource struct{}

// Open implements Source
func (FileSource) Open(_ context.Context, location string) (io.ReadCloser, error) {
	path := location
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid file location: %w", err)
		}
		path = filepath.FromSlash(u.Path)
	}
	return os.Open(path)
}

// Scheme classifies a location for source dispatch
func Scheme(location string) string {
	if i := strings.Index(location, "://"); i > 0 {
		return strings.ToLower(location[:i])
	}
	return "file"
}
