package orchestrator

import (
    "context"
    "bytes"
    "fmt"
    "io"
    "net/url"
    "os"
    "path"
    "path/filepath"
    "strings"

    awscfg "github.com/aws/aws-sdk-go-v2/config"
    "github.com/aws/aws-sdk-go-v2/service/s3"
    "github.com/rs/zerolog/log"

    "github.com/local/pagegrab/internal/fetcher"
    "github.com/local/pagegrab/internal/storage"
)

// ResolveDocument returns a local path for the document referenced by ref.
// Supported forms:
// - file://path or plain filesystem paths, used in place
// - http(s):// URLs, downloaded into dir through client (retries and
//   per-attempt timeout as for pages; nil uses client defaults)
// - s3://bucket/key, downloaded into dir via AWS SDK v2
// Downloads keep the remote base name so derived outputs land next to them.
func ResolveDocument(ctx context.Context, client *fetcher.Client, ref, dir string) (string, error) {
    switch {
    case strings.HasPrefix(ref, "s3://"):
        return downloadS3(ctx, ref, dir)
    case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
        if client == nil {
            client = fetcher.NewClient(nil, fetcher.Options{})
        }
        return downloadHTTP(ctx, client, ref, dir)
    case strings.HasPrefix(ref, "file://"):
        return strings.TrimPrefix(ref, "file://"), nil
    default:
        return ref, nil
    }
}

func localName(dir, remote string) string {
    name := path.Base(remote)
    if i := strings.IndexAny(name, "?#"); i >= 0 {
        name = name[:i]
    }
    if name == "" || name == "/" || name == "." {
        name = "document"
    }
    if filepath.Ext(name) == "" {
        name += ".pdf"
    }
    return filepath.Join(dir, name)
}

func downloadHTTP(ctx context.Context, client *fetcher.Client, ref, dir string) (string, error) {
    u, err := url.Parse(ref)
    if err != nil {
        return "", fmt.Errorf("parse %s: %w", ref, err)
    }
    resp, err := client.Get(ctx, ref)
    if err != nil {
        return "", fmt.Errorf("download %s after %d attempts: %w", ref, resp.Attempts, err)
    }
    dst := localName(dir, u.Path)
    if err := writeFrom(dst, bytes.NewReader(resp.Body)); err != nil {
        return "", err
    }
    log.Ctx(ctx).Info().Str("url", ref).Str("file", dst).Int("attempts", resp.Attempts).Msg("Downloaded document")
    return dst, nil
}

func downloadS3(ctx context.Context, ref, dir string) (string, error) {
    bucket, key, err := storage.ParseURI(ref)
    if err != nil {
        return "", err
    }
    if key == "" {
        return "", fmt.Errorf("invalid s3 url: %s", ref)
    }

    cfg, err := awscfg.LoadDefaultConfig(ctx)
    if err != nil {
        return "", err
    }
    cli := s3.NewFromConfig(cfg)

    out, err := cli.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
    if err != nil {
        return "", err
    }
    defer out.Body.Close()

    dst := localName(dir, key)
    if err := writeFrom(dst, out.Body); err != nil {
        return "", err
    }
    log.Ctx(ctx).Info().Str("bucket", bucket).Str("key", key).Str("file", dst).Msg("Downloaded s3 document")
    return dst, nil
}

func writeFrom(dst string, r io.Reader) error {
    if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
        return err
    }
    tmp := dst + ".part"
    f, err := os.Create(tmp)
    if err != nil {
        return err
    }
    if _, err := io.Copy(f, r); err != nil {
        f.Close()
        os.Remove(tmp)
        return err
    }
    if err := f.Close(); err != nil {
        os.Remove(tmp)
        return err
    }
    return os.Rename(tmp, dst)
}
