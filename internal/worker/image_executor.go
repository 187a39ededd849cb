package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"jobrelay/internal/config"
)

// ImageExecutor is a built-in tool executor for image resize jobs: it
// downloads the source, applies resize/grayscale, and uploads the output
// locally or to S3. The result payload reports where the output landed.
type ImageExecutor struct {
	cfg        config.Config
	httpClient *http.Client
	local      uploader
	s3         uploader
}

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type imageInput struct {
	SourceURL   string `json:"source_url"`
	OutputKey   string `json:"output_key"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Grayscale   bool   `json:"grayscale"`
	Destination string `json:"destination"`
}

// NewImageExecutor constructs the executor; S3 upload is enabled only when
// IMAGE_S3_BUCKET is configured.
func NewImageExecutor(ctx context.Context, cfg config.Config) (*ImageExecutor, error) {
	var s3Upload uploader
	if cfg.ImageS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s3Upload = &s3Uploader{client: client, bucket: cfg.ImageS3Bucket}
	}

	return &ImageExecutor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.ImageDownloadTimeout},
		local:      &localUploader{baseDir: cfg.ImageOutputDir},
		s3:         s3Upload,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ImageS3Region),
	}
	if cfg.ImageS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ImageS3Endpoint,
					HostnameImmutable: cfg.ImageS3PathStyle,
					SigningRegion:     cfg.ImageS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ImageS3PathStyle
	}), nil
}

// Execute downloads, transforms, and uploads a single image.
func (e *ImageExecutor) Execute(ctx context.Context, input map[string]any) (any, error) {
	in, err := e.decodeInput(input)
	if err != nil {
		return nil, err
	}

	data, contentType, err := e.download(ctx, in.SourceURL)
	if err != nil {
		return nil, err
	}

	img, srcFormat, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if in.Grayscale {
		img = imaging.Grayscale(img)
	}
	img = imaging.Resize(img, in.Width, in.Height, imaging.Lanczos)

	outFormat := chooseFormat(in.OutputKey, srcFormat, contentType)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, outFormat, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	key := in.OutputKey
	if key == "" {
		key = fmt.Sprintf("%s.%s", uuid.New().String(), formatExtension(outFormat))
	}
	key = sanitizeKey(key)

	up, destination, err := e.pickUploader(in.Destination)
	if err != nil {
		return nil, err
	}
	location, err := up.Upload(ctx, key, buf.Bytes(), mimeForFormat(outFormat))
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	return map[string]any{
		"output_key":  key,
		"location":    location,
		"destination": destination,
		"width":       img.Bounds().Dx(),
		"height":      img.Bounds().Dy(),
	}, nil
}

func (e *ImageExecutor) decodeInput(input map[string]any) (imageInput, error) {
	in := imageInput{
		Width:  e.cfg.ImageDefaultWidth,
		Height: e.cfg.ImageDefaultHeight,
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return in, fmt.Errorf("marshal input: %w", err)
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("decode input: %w", err)
	}
	if in.SourceURL == "" {
		return in, errors.New("source_url is required")
	}
	if in.Width == 0 && in.Height == 0 {
		in.Width = 320
	}
	return in, nil
}

func (e *ImageExecutor) download(ctx context.Context, srcURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}

	limit := e.cfg.ImageMaxBytes
	if limit <= 0 {
		limit = 25 * 1024 * 1024
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, "", fmt.Errorf("image too large (>%d bytes)", limit)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (e *ImageExecutor) pickUploader(destination string) (uploader, string, error) {
	switch strings.ToLower(destination) {
	case "s3":
		if e.s3 == nil {
			return nil, "", errors.New("destination s3 requested but IMAGE_S3_BUCKET is not configured")
		}
		return e.s3, "s3", nil
	case "local":
		return e.local, "local", nil
	case "":
		if e.s3 != nil {
			return e.s3, "s3", nil
		}
		return e.local, "local", nil
	default:
		return nil, "", fmt.Errorf("unknown destination %q", destination)
	}
}

func chooseFormat(outputKey, decodeFormat, contentType string) imaging.Format {
	switch strings.ToLower(filepath.Ext(outputKey)) {
	case ".png":
		return imaging.PNG
	case ".jpg", ".jpeg":
		return imaging.JPEG
	case ".gif":
		return imaging.GIF
	}
	switch strings.ToLower(decodeFormat) {
	case "png":
		return imaging.PNG
	case "gif":
		return imaging.GIF
	}
	if strings.Contains(strings.ToLower(contentType), "png") {
		return imaging.PNG
	}
	return imaging.JPEG
}

func formatExtension(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "png"
	case imaging.GIF:
		return "gif"
	default:
		return "jpg"
	}
}

func mimeForFormat(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
