package tracking

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/pkg/log"
)

// ArtifactRepository stores files under a run's artifact root.
type ArtifactRepository interface {
	// LogArtifact copies the local file into artifactPath, keeping its base name.
	LogArtifact(ctx context.Context, localPath, artifactPath string) error
}

// ListArtifacts lists the artifacts of a run directly under path ("" for the root).
func (c *Client) ListArtifacts(ctx context.Context, runID, artifactPath string) ([]Artifact, error) {
	if runID == "" {
		return nil, errors.NewValidationError("run_id", "must not be empty", runID)
	}
	var (
		files []Artifact
		token string
	)
	for {
		q := url.Values{"run_id": {runID}}
		if artifactPath != "" {
			q.Set("path", artifactPath)
		}
		if token != "" {
			q.Set("page_token", token)
		}
		var resp listArtifactsResponse
		if err := c.call(ctx, "ListArtifacts", "GET", "artifacts/list", q, nil, &resp); err != nil {
			return nil, err
		}
		files = append(files, resp.Files...)
		if resp.NextPageToken == "" {
			return files, nil
		}
		token = resp.NextPageToken
	}
}

// LogArtifact uploads a local file, or every file below a local directory,
// to the run's artifact store under artifactPath.
func (c *Client) LogArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	info, err := c.fs.Stat(localPath)
	if err != nil {
		return errors.Wrapf(err, "stat artifact %s", localPath)
	}
	run, err := c.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	repo, err := c.ArtifactRepository(run.Info.ArtifactURI)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return c.logOne(ctx, repo, runID, localPath, artifactPath)
	}

	// A failed file does not stop the rest of the directory.
	var failed *multierror.Error
	walkErr := afero.Walk(c.fs, localPath, func(p string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localPath, filepath.Dir(p))
		if err != nil {
			return err
		}
		dest := artifactPath
		if rel != "." {
			dest = path.Join(artifactPath, filepath.ToSlash(rel))
		}
		if err := c.logOne(ctx, repo, runID, p, dest); err != nil {
			failed = multierror.Append(failed, err)
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	return failed.ErrorOrNil()
}

func (c *Client) logOne(ctx context.Context, repo ArtifactRepository, runID, localPath, artifactPath string) error {
	if err := repo.LogArtifact(ctx, localPath, artifactPath); err != nil {
		return err
	}
	c.logger.Info("artifact logged",
		log.RunIDKey, runID,
		log.ArtifactPathKey, path.Join(artifactPath, filepath.Base(localPath)),
	)
	return nil
}

// ArtifactRepository resolves a run's artifact_uri to a store:
// mlflow-artifacts and http(s) URIs upload through the tracking server,
// s3 URIs go to S3 and anything else is a local directory.
func (c *Client) ArtifactRepository(artifactURI string) (ArtifactRepository, error) {
	if artifactURI == "" {
		return nil, errors.NewValueError("ArtifactRepository", "run has no artifact uri")
	}
	u, err := url.Parse(artifactURI)
	if err != nil {
		return nil, errors.Wrapf(err, "parse artifact uri %s", artifactURI)
	}
	switch u.Scheme {
	case "mlflow-artifacts":
		base := *c.baseURL
		if u.Host != "" {
			base.Host = u.Host
		}
		base.Path = strings.TrimRight(base.Path, "/") + artifactsPrefix + strings.TrimPrefix(u.Path, "/")
		return &httpArtifactRepository{client: c, root: &base}, nil
	case "http", "https":
		return &httpArtifactRepository{client: c, root: u}, nil
	case "s3":
		uploader, err := c.s3Uploader()
		if err != nil {
			return nil, err
		}
		return &s3ArtifactRepository{
			fs:       c.fs,
			uploader: uploader,
			bucket:   u.Host,
			prefix:   strings.Trim(u.Path, "/"),
		}, nil
	case "file", "":
		return &localArtifactRepository{fs: c.fs, root: filepath.FromSlash(u.Path)}, nil
	default:
		return nil, errors.NewValueError("ArtifactRepository", "unsupported artifact uri scheme "+u.Scheme)
	}
}

func (c *Client) s3Uploader() (s3manageriface.UploaderAPI, error) {
	c.s3Mu.Lock()
	defer c.s3Mu.Unlock()
	if c.s3 != nil {
		return c.s3, nil
	}
	cfg := &aws.Config{Region: aws.String(c.cfg.AWSRegion)}
	if c.cfg.S3EndpointURL != "" {
		cfg.Endpoint = aws.String(c.cfg.S3EndpointURL)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create aws session")
	}
	c.s3 = s3manager.NewUploader(sess)
	return c.s3, nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// httpArtifactRepository uploads through the tracking server's artifact proxy.
type httpArtifactRepository struct {
	client *Client
	root   *url.URL
}

func (r *httpArtifactRepository) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	data, err := afero.ReadFile(r.client.fs, localPath)
	if err != nil {
		return errors.Wrapf(err, "read artifact %s", localPath)
	}
	target := *r.root
	target.Path = path.Join(target.Path, artifactPath, filepath.Base(localPath))

	resp, err := r.client.do(ctx, "LogArtifact", "mlflow-artifacts/artifacts", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType(localPath))
		req.ContentLength = int64(len(data))
		return req, nil
	})
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// s3ArtifactRepository uploads to s3://bucket/prefix.
type s3ArtifactRepository struct {
	fs       afero.Fs
	uploader s3manageriface.UploaderAPI
	bucket   string
	prefix   string
}

func (r *s3ArtifactRepository) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	file, err := r.fs.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "open artifact %s", localPath)
	}
	defer file.Close()

	key := path.Join(r.prefix, artifactPath, filepath.Base(localPath))
	_, err = r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType(localPath)),
	})
	return errors.Wrapf(err, "upload s3://%s/%s", r.bucket, key)
}

// localArtifactRepository copies into a directory on the client filesystem.
type localArtifactRepository struct {
	fs   afero.Fs
	root string
}

func (r *localArtifactRepository) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	dir := filepath.Join(r.root, filepath.FromSlash(artifactPath))
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	src, err := r.fs.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "open artifact %s", localPath)
	}
	defer src.Close()
	dest := filepath.Join(dir, filepath.Base(localPath))
	dst, err := r.fs.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "create %s", dest)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return errors.Wrapf(err, "copy artifact to %s", dest)
	}
	return errors.Wrapf(dst.Close(), "close %s", dest)
}
