package transcription

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// ErrModelMissing reports that neither the language-specific nor the
// generic model artifact exists on disk.
type ErrModelMissing struct {
	ModelDir  string
	ModelSize string
}

func (e *ErrModelMissing) Error() string {
	return fmt.Sprintf("transcription: no model artifact for size %q in %s", e.ModelSize, e.ModelDir)
}

// ResolveModelPath prefers the English-only artifact when language is "en"
// and that file exists, else falls back to the multilingual artifact, else
// reports ErrModelMissing.
func ResolveModelPath(modelDir, modelSize, language string) (string, error) {
	if language == "en" {
		enPath := filepath.Join(modelDir, fmt.Sprintf("ggml-%s.en.bin", modelSize))
		if fileExists(enPath) {
			return enPath, nil
		}
	}
	genericPath := filepath.Join(modelDir, fmt.Sprintf("ggml-%s.bin", modelSize))
	if fileExists(genericPath) {
		return genericPath, nil
	}
	return "", &ErrModelMissing{ModelDir: modelDir, ModelSize: modelSize}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DownloadModel fetches url into destPath, resuming from a partial
// destPath+".tmp" file via HTTP Range when one exists, and atomically
// renaming to destPath on success. Cancelling ctx leaves the .tmp file on
// disk for a later resume.
func DownloadModel(ctx context.Context, client *http.Client, url, destPath string) error {
	tmpPath := destPath + ".tmp"
	if fileExists(destPath) {
		return nil
	}

	var startAt int64
	if info, err := os.Stat(tmpPath); err == nil {
		startAt = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build model download request: %w", err)
	}
	if startAt > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startAt))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("fetch model: unexpected status %s", resp.Status)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		startAt = 0
	}

	f, err := os.OpenFile(tmpPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open model tmp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("write model bytes: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close model tmp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("finalize model file: %w", err)
	}
	return nil
}
