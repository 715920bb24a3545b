package model

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Bundle is one downloadable model archive: a zip or tar.gz holding the unit
// manifest, the graph files and the tokenizer model.
type Bundle struct {
	ID      string `json:"id"`
	Variant string `json:"variant"`
	URL     string `json:"url"`
	SHA256  string `json:"sha256"`
}

// BundleLock pins the bundles a deployment is allowed to fetch.
type BundleLock struct {
	Version int      `json:"version"`
	Bundles []Bundle `json:"bundles"`
}

// DefaultVariant is the weight revision the export pipeline currently
// publishes bundles for.
const DefaultVariant = "b6369a24"

type DownloadOptions struct {
	// BundleURL overrides the lock file; http(s) or a local path
	// (optionally file:// prefixed).
	BundleURL string
	BundleID  string
	Variant   string
	SHA256    string
	LockFile  string
	OutDir    string
	Precision string
	Client    *http.Client
	Stdout    io.Writer
	Stderr    io.Writer
}

var sha256Hex = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// Download fetches a model bundle, verifies its checksum, extracts it into
// OutDir and verifies that the result can back an engine. The bundle is
// resolved from the lock file unless an explicit URL is given.
func Download(opts DownloadOptions) error {
	if opts.OutDir == "" {
		return errors.New("out dir is required")
	}

	if opts.Variant == "" {
		opts.Variant = DefaultVariant
	}

	if opts.LockFile == "" {
		opts.LockFile = filepath.Join("bundles", "model-bundles.lock.json")
	}

	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}

	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	if opts.Client == nil {
		opts.Client = &http.Client{}
	}

	url := strings.TrimSpace(opts.BundleURL)
	checksum := strings.ToLower(strings.TrimSpace(opts.SHA256))

	if url == "" {
		b, err := resolveBundle(opts.LockFile, opts.BundleID, opts.Variant)
		if err != nil {
			return err
		}

		url = b.URL
		if checksum == "" {
			checksum = strings.ToLower(strings.TrimSpace(b.SHA256))
		}

		_, _ = fmt.Fprintf(opts.Stdout, "resolved bundle %s (variant %s): %s\n", b.ID, b.Variant, b.URL)
	}

	if url == "" {
		return fmt.Errorf("bundle URL is required (pass one explicitly or configure %s)", opts.LockFile)
	}

	if checksum != "" && !sha256Hex.MatchString(checksum) {
		return fmt.Errorf("invalid sha256 checksum %q", checksum)
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}

	archive, actual, err := fetchArchive(opts.Client, url)
	if err != nil {
		return err
	}

	defer func() { _ = os.Remove(archive) }()

	if checksum != "" && actual != checksum {
		return fmt.Errorf("bundle checksum mismatch: want %s, got %s", checksum, actual)
	}

	_, _ = fmt.Fprintf(opts.Stdout, "downloaded bundle (sha256=%s)\n", actual)

	if err := extractArchive(archive, opts.OutDir); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(opts.Stdout, "extracted bundle into %s\n", opts.OutDir)

	return Verify(VerifyOptions{
		Dir:           opts.OutDir,
		Precision:     opts.Precision,
		TokenizerPath: "",
		Stdout:        opts.Stdout,
		Stderr:        opts.Stderr,
	})
}

// resolveBundle picks a bundle from the lock file, by ID when given,
// otherwise by variant.
func resolveBundle(lockFile, bundleID, variant string) (Bundle, error) {
	data, err := os.ReadFile(lockFile)
	if err != nil {
		return Bundle{}, fmt.Errorf("read bundle lock file %q: %w", lockFile, err)
	}

	var lock BundleLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return Bundle{}, fmt.Errorf("decode bundle lock file %q: %w", lockFile, err)
	}

	if len(lock.Bundles) == 0 {
		return Bundle{}, fmt.Errorf("bundle lock %q has no bundles", lockFile)
	}

	if bundleID != "" {
		for _, b := range lock.Bundles {
			if b.ID == bundleID {
				return b, nil
			}
		}

		return Bundle{}, fmt.Errorf("bundle id %q not found in %s", bundleID, lockFile)
	}

	for _, b := range lock.Bundles {
		if b.Variant == variant {
			return b, nil
		}
	}

	return Bundle{}, fmt.Errorf("no bundle found for variant %q in %s", variant, lockFile)
}

// fetchArchive copies the bundle into a temp file, hashing as it streams, and
// returns the temp path with the hex sha256.
func fetchArchive(client *http.Client, url string) (string, string, error) {
	src, err := openBundleSource(client, url)
	if err != nil {
		return "", "", err
	}

	defer func() { _ = src.Close() }()

	tmp, err := os.CreateTemp("", "pockettts-bundle-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp bundle file: %w", err)
	}

	h := sha256.New()

	_, err = io.Copy(io.MultiWriter(tmp, h), src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("write temp bundle file: %w", err)
	}

	return tmp.Name(), hex.EncodeToString(h.Sum(nil)), nil
}

func openBundleSource(client *http.Client, url string) (io.ReadCloser, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		resp, err := client.Get(url) //nolint:noctx
		if err != nil {
			return nil, fmt.Errorf("bundle download failed: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("bundle download failed: %s", resp.Status)
		}

		return resp.Body, nil
	}

	f, err := os.Open(strings.TrimPrefix(url, "file://"))
	if err != nil {
		return nil, fmt.Errorf("open local bundle: %w", err)
	}

	return f, nil
}

// extractArchive dispatches on the archive's magic bytes; the temp file
// carries no useful extension.
func extractArchive(path, outDir string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bundle archive: %w", err)
	}

	magic := make([]byte, 2)
	_, err = io.ReadFull(f, magic)
	_ = f.Close()

	if err != nil {
		return fmt.Errorf("read bundle archive: %w", err)
	}

	switch {
	case magic[0] == 'P' && magic[1] == 'K':
		return extractZip(path, outDir)
	case magic[0] == 0x1f && magic[1] == 0x8b:
		return extractTarGz(path, outDir)
	default:
		return errors.New("unsupported bundle format (expected zip or tar.gz)")
	}
}

func extractZip(path, outDir string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open zip bundle: %w", err)
	}

	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		target, err := entryPath(outDir, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}

			continue
		}

		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}

		err = writeEntry(target, src)
		_ = src.Close()

		if err != nil {
			return err
		}
	}

	return nil
}

func extractTarGz(path, outDir string) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open tar.gz bundle: %w", err)
	}

	defer func() { _ = fh.Close() }()

	gz, err := gzip.NewReader(fh)
	if err != nil {
		return fmt.Errorf("open gzip reader: %w", err)
	}

	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target, err := entryPath(outDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr); err != nil {
				return err
			}
		default:
			// Symlinks and devices have no place in a model bundle.
		}
	}

	return nil
}

func writeEntry(target string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", target, err)
	}

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create extracted file %s: %w", target, err)
	}

	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return fmt.Errorf("extract %s: %w", target, err)
	}

	return nil
}

// entryPath joins an archive entry name under baseDir, rejecting entries
// that would escape it.
func entryPath(baseDir, name string) (string, error) {
	cleaned := filepath.Clean(strings.TrimPrefix(name, "/"))
	target := filepath.Join(baseDir, cleaned)

	base := filepath.Clean(baseDir) + string(os.PathSeparator)
	if !strings.HasPrefix(target+string(os.PathSeparator), base) {
		return "", fmt.Errorf("bundle entry %q escapes the output directory", name)
	}

	return target, nil
}
