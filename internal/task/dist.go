package task

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"
)

// Distribution artifacts: a zstd-compressed system image plus a blake3
// checksum manifest, optionally pushed to an S3-compatible mirror.

const checksumManifest = "CHECKSUMS.b3"

// fileChecksum streams path through blake3 and returns the hex digest.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// compressZstd writes a .zst copy of srcPath at destPath.
func compressZstd(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}

	zw, err := zstd.NewWriter(dst)
	if err != nil {
		dst.Close()
		return err
	}
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		return fmt.Errorf("failed to compress %s: %w", srcPath, err)
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// Dist packages the system image for distribution: run the full image
// pipeline, compress the result and write a checksum manifest covering
// every artifact in the output directory.
func (p *Pipeline) Dist() error {
	if err := p.MakeImage(); err != nil {
		return err
	}

	imgPath := filepath.Join(outputDir, imgFile)
	zstPath := imgPath + ".zst"
	colArrow.Print("-> ")
	colSuccess.Printf("Compressing %s\n", imgFile)
	if err := compressZstd(imgPath, zstPath); err != nil {
		return err
	}

	artifacts := []string{bootloaderFile, kernelFile, initramfsImgFile, imgFile, imgFile + ".zst"}
	sort.Strings(artifacts)

	var manifest strings.Builder
	for _, name := range artifacts {
		path := filepath.Join(outputDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		sum, err := fileChecksum(path)
		if err != nil {
			return fmt.Errorf("failed to checksum %s: %w", name, err)
		}
		fmt.Fprintf(&manifest, "%s  %s\n", sum, name)
	}

	manifestPath := filepath.Join(outputDir, checksumManifest)
	if err := os.WriteFile(manifestPath, []byte(manifest.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write checksum manifest: %w", err)
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Wrote %s\n", manifestPath)
	return nil
}

// MirrorClient wraps the S3 client for the artifact mirror.
type MirrorClient struct {
	Client     *s3.Client
	BucketName string
}

// NewMirrorClient initializes an S3-compatible client from configuration
// values (MYOS_MIRROR_ENDPOINT, MYOS_MIRROR_ACCESS_KEY_ID,
// MYOS_MIRROR_SECRET_ACCESS_KEY, MYOS_MIRROR_BUCKET).
func NewMirrorClient(cfg *Config) (*MirrorClient, error) {
	endpoint := cfg.Values["MYOS_MIRROR_ENDPOINT"]
	accessKey := cfg.Values["MYOS_MIRROR_ACCESS_KEY_ID"]
	secretKey := cfg.Values["MYOS_MIRROR_SECRET_ACCESS_KEY"]
	bucketName := cfg.Values["MYOS_MIRROR_BUCKET"]

	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("mirror credentials missing in configuration (MYOS_MIRROR_ENDPOINT, MYOS_MIRROR_ACCESS_KEY_ID, MYOS_MIRROR_SECRET_ACCESS_KEY, MYOS_MIRROR_BUCKET)")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithRegion(cfg.get("MYOS_MIRROR_REGION", "auto")),
	}
	if Debug {
		options = append(options, awsconfig.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &MirrorClient{Client: client, BucketName: bucketName}, nil
}

// contentTypeFor picks a Content-Type from the artifact name.
func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".b3"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// UploadLocalFile uploads a file from disk to the mirror under key.
func (m *MirrorClient) UploadLocalFile(ctx context.Context, key, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentTypeFor(key)),
	})
	return err
}

// Upload pushes the dist artifacts (compressed image + checksum manifest)
// to the configured mirror. Dist must have run first; a missing artifact is
// an error, not a trigger for a rebuild.
func (p *Pipeline) Upload() error {
	client, err := NewMirrorClient(p.cfg)
	if err != nil {
		return err
	}

	prefix := p.cfg.get("MYOS_MIRROR_PREFIX", "myos")
	for _, name := range []string{imgFile + ".zst", checksumManifest} {
		path := filepath.Join(outputDir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("dist artifact %s missing (run `dist` first): %w", name, err)
		}
		key := prefix + "/" + name
		colArrow.Print("-> ")
		colSuccess.Printf("Uploading %s\n", key)
		if err := client.UploadLocalFile(p.ctx, key, path); err != nil {
			return fmt.Errorf("upload of %s failed: %w", key, err)
		}
	}
	return nil
}
