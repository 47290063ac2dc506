package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/pysqlcipher/amalgam/pkg/logger"
	"github.com/pysqlcipher/amalgam/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher() *Fetcher {
	return NewFetcher(logger.CreateLoggerWithOutput("", "debug", io.Discard))
}

func serveArchive(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/archive/v3.3.1.tar.gz" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAndExtract_HTTP(t *testing.T) {
	srv := serveArchive(t, gzipBytes(t, buildTar(t, sourceTree())))
	work := t.TempDir()

	root, err := newTestFetcher().FetchAndExtract(context.Background(), types.AcquisitionTarget{
		Location:    srv.URL + "/archive/v3.3.1.tar.gz",
		RootPattern: "sqlcipher-*",
	}, work)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(work, "sqlcipher-3.3.1"), root)
	assert.FileExists(t, filepath.Join(root, "configure"))
	assert.FileExists(t, filepath.Join(work, "source.tar.gz"))
}

func TestFetchAndExtract_HTTPStatus(t *testing.T) {
	srv := serveArchive(t, nil)

	_, err := newTestFetcher().FetchAndExtract(context.Background(), types.AcquisitionTarget{
		Location: srv.URL + "/missing.tar.gz",
	}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetchAndExtract_MultipleRootsExtractsNothing(t *testing.T) {
	data := gzipBytes(t, buildTar(t, []entry{
		{name: "one/a.c", body: "a"},
		{name: "two/b.c", body: "b"},
	}))
	srv := serveArchive(t, data)
	work := t.TempDir()

	_, err := newTestFetcher().FetchAndExtract(context.Background(), types.AcquisitionTarget{
		Location: srv.URL + "/archive/v3.3.1.tar.gz",
	}, work)
	require.ErrorIs(t, err, types.ErrMalformedArchive)
	assert.NoDirExists(t, filepath.Join(work, "one"))
	assert.NoDirExists(t, filepath.Join(work, "two"))
}

func TestFetchAndExtract_RootPatternMismatch(t *testing.T) {
	srv := serveArchive(t, gzipBytes(t, buildTar(t, sourceTree())))
	work := t.TempDir()

	_, err := newTestFetcher().FetchAndExtract(context.Background(), types.AcquisitionTarget{
		Location:    srv.URL + "/archive/v3.3.1.tar.gz",
		RootPattern: "sqlite-*",
	}, work)
	require.ErrorIs(t, err, types.ErrMalformedArchive)
	assert.NoDirExists(t, filepath.Join(work, "sqlcipher-3.3.1"))
}

func TestFetchAndExtract_File(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "sqlcipher.tar.xz")
	require.NoError(t, os.WriteFile(archive, xzBytes(t, buildTar(t, sourceTree())), 0644))

	for _, location := range []string{archive, "file://" + filepath.ToSlash(archive)} {
		work := t.TempDir()
		root, err := newTestFetcher().FetchAndExtract(context.Background(), types.AcquisitionTarget{Location: location}, work)
		require.NoError(t, err, location)
		assert.FileExists(t, filepath.Join(root, "Makefile.in"))
		assert.FileExists(t, filepath.Join(work, "source.tar.xz"))
	}
}

func TestFetchAndExtract_S3(t *testing.T) {
	backend := s3mem.New()
	faker := gofakes3.New(backend)
	ts := httptest.NewServer(faker.Server())
	defer ts.Close()

	cfg := &aws.Config{
		Credentials: credentials.NewStaticCredentials(
			"TEST-ACCESSKEYID",
			"TEST-SECRETACCESSKEY",
			"",
		),
		Region:           aws.String("ca-west-1"),
		Endpoint:         aws.String(ts.URL),
		S3ForcePathStyle: aws.Bool(true),
	}
	client := s3.New(session.Must(session.NewSession(cfg)))

	_, err := client.CreateBucket(&s3.CreateBucketInput{Bucket: aws.String("mirror")})
	require.NoError(t, err)
	_, err = client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String("mirror"),
		Key:    aws.String("sqlcipher/v3.3.1.tar.gz"),
		Body:   bytes.NewReader(gzipBytes(t, buildTar(t, sourceTree()))),
	})
	require.NoError(t, err)

	f := newTestFetcher()
	f.S3 = &S3Source{Client: client}

	root, err := f.FetchAndExtract(context.Background(), types.AcquisitionTarget{
		Location: "s3://mirror/sqlcipher/v3.3.1.tar.gz",
	}, t.TempDir())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "configure"))

	_, err = f.FetchAndExtract(context.Background(), types.AcquisitionTarget{
		Location: "s3://mirror/missing.tar.gz",
	}, t.TempDir())
	assert.Error(t, err)
}

func TestSourceFor(t *testing.T) {
	f := newTestFetcher()

	src, err := f.SourceFor("https://example.com/a.tar.gz")
	require.NoError(t, err)
	assert.IsType(t, &HTTPSource{}, src)

	src, err = f.SourceFor("/tmp/a.tar.gz")
	require.NoError(t, err)
	assert.IsType(t, FileSource{}, src)

	_, err = f.SourceFor("ftp://example.com/a.tar.gz")
	assert.ErrorIs(t, err, types.ErrUnsupportedSource)
}

func TestParseS3Location(t *testing.T) {
	bucket, key, err := parseS3Location("s3://mirror/path/to/a.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "mirror", bucket)
	assert.Equal(t, "path/to/a.tar.gz", key)

	_, _, err = parseS3Location("s3://mirror/")
	assert.ErrorIs(t, err, types.ErrUnsupportedSource)
}
