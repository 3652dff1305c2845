package uspto

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openregistry/tmbulk/internal/decode"
	types "github.com/openregistry/tmbulk/internal/domain"
	"github.com/openregistry/tmbulk/internal/platform/logger"
)

// Downloader materializes a ledger file on local disk: streaming download
// into <dir>/zips/<product>/, sha-256 over the archive, extraction into
// <dir>/extracted/<product>/<archive>/ and discovery of the decodable data
// file inside. Existing downloads and extractions are reused.
type Downloader struct {
	log        *logger.Logger
	dir        string
	httpClient *http.Client
}

func NewDownloader(log *logger.Logger, dir string, timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Downloader{
		log: log.With("service", "USPTODownloader"),
		dir: dir,
		// No overall timeout on the archive client; bulk files run to
		// gigabytes and the stream is context-bound instead.
		httpClient: &http.Client{Transport: http.DefaultTransport},
	}
}

// Fetch returns the local path of the decodable data file for the ledger
// entry plus the sha-256 of the downloaded archive.
func (d *Downloader) Fetch(ctx context.Context, file *types.SourceFile) (string, string, error) {
	archivePath, err := d.ensureDownloaded(ctx, file)
	if err != nil {
		return "", "", err
	}

	hash, err := hashFile(archivePath)
	if err != nil {
		return "", "", fmt.Errorf("hash %s: %w", archivePath, err)
	}

	dataPath := archivePath
	if strings.EqualFold(filepath.Ext(archivePath), ".zip") {
		dataPath, err = d.ensureExtracted(file.ProductID, archivePath)
		if err != nil {
			return "", "", err
		}
	}
	if !decode.Supported(dataPath) {
		return "", "", fmt.Errorf("no decodable data file for %s (got %s)", file.FileName, filepath.Base(dataPath))
	}
	return dataPath, hash, nil
}

func (d *Downloader) ensureDownloaded(ctx context.Context, file *types.SourceFile) (string, error) {
	productDir := filepath.Join(d.dir, "zips", strings.ToLower(file.ProductID))
	if err := os.MkdirAll(productDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(productDir, file.FileName)

	if st, err := os.Stat(path); err == nil {
		if file.FileSize <= 0 || st.Size() == file.FileSize {
			d.log.Info("Reusing downloaded file", "path", path, "size", st.Size())
			return path, nil
		}
		d.log.Warn("Existing download has wrong size, redownloading",
			"path", path, "have", st.Size(), "want", file.FileSize)
	}

	if file.FileURL == "" {
		return "", fmt.Errorf("file %s/%s has no download url", file.ProductID, file.FileName)
	}

	d.log.Info("Downloading", "url", file.FileURL, "file", file.FileName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.FileURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &usptoHTTPError{StatusCode: resp.StatusCode, Body: resp.Status}
	}

	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	written, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("download %s: %w", file.FileName, err)
	}
	if file.FileSize > 0 && written != file.FileSize {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("download %s: size mismatch, got %d want %d", file.FileName, written, file.FileSize)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	d.log.Info("Download completed", "file", file.FileName, "bytes", written)
	return path, nil
}

// ensureExtracted unpacks the archive once and returns the data file inside:
// the largest entry with a decodable extension.
func (d *Downloader) ensureExtracted(productID, archivePath string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath))
	destDir := filepath.Join(d.dir, "extracted", strings.ToLower(productID), base)

	if entries, err := os.ReadDir(destDir); err == nil && len(entries) > 0 {
		return findDataFile(destDir)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		name := filepath.Clean(zf.Name)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			continue
		}
		target := filepath.Join(destDir, name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", err
		}
		if err := extractEntry(zf, target); err != nil {
			return "", fmt.Errorf("extract %s from %s: %w", zf.Name, archivePath, err)
		}
	}
	d.log.Info("Archive extracted", "archive", filepath.Base(archivePath), "dest", destDir)
	return findDataFile(destDir)
}

func extractEntry(zf *zip.File, target string) error {
	in, err := zf.Open()
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	return err
}

// findDataFile walks the extraction and picks the largest decodable file;
// archives routinely carry readme and documentation alongside the data.
func findDataFile(dir string) (string, error) {
	var best string
	var bestSize int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if !decode.Supported(path) {
			return nil
		}
		if info.Size() > bestSize {
			best, bestSize = path, info.Size()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if best == "" {
		return "", fmt.Errorf("no decodable data file under %s", dir)
	}
	return best, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
