package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func errorsAs(err error, target interface{}) bool { return errors.As(err, target) }

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestResolveModelPathPrefersEnglishArtifact(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ggml-base.en.bin"))
	writeFile(t, filepath.Join(dir, "ggml-base.bin"))

	got, err := ResolveModelPath(dir, "base", "en")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if filepath.Base(got) != "ggml-base.en.bin" {
		t.Fatalf("resolved %q, want the english artifact", got)
	}
}

func TestResolveModelPathFallsBackToMultilingual(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ggml-base.bin"))

	for _, language := range []string{"en", "de"} {
		got, err := ResolveModelPath(dir, "base", language)
		if err != nil {
			t.Fatalf("resolve(%s): %v", language, err)
		}
		if filepath.Base(got) != "ggml-base.bin" {
			t.Fatalf("resolved %q for language %s", got, language)
		}
	}
}

func TestResolveModelPathMissing(t *testing.T) {
	_, err := ResolveModelPath(t.TempDir(), "base", "en")
	var missing *ErrModelMissing
	if !errors.As(err, &missing) {
		t.Fatalf("expected ErrModelMissing, got %v", err)
	}
}

// rangeServer serves a fixed payload honoring Range requests, recording
// whether a resume happened.
func rangeServer(t *testing.T, payload []byte, sawRange *bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(payload)
			return
		}
		*sawRange = true
		var start int64
		if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-", &start); err != nil {
			t.Errorf("malformed range header %q", rangeHeader)
		}
		w.Header().Set("Content-Range",
			"bytes "+strconv.FormatInt(start, 10)+"-"+strconv.Itoa(len(payload)-1)+"/"+strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(payload[start:])
	}))
}

func TestDownloadModelFresh(t *testing.T) {
	payload := []byte(strings.Repeat("model-bytes-", 100))
	var sawRange bool
	srv := rangeServer(t, payload, &sawRange)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "ggml-base.bin")
	if err := DownloadModel(context.Background(), srv.Client(), srv.URL, dest); err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("downloaded bytes differ from payload")
	}
	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("tmp file must be renamed away on success")
	}
}

func TestDownloadModelResumesFromPartialTmp(t *testing.T) {
	payload := []byte(strings.Repeat("model-bytes-", 100))
	var sawRange bool
	srv := rangeServer(t, payload, &sawRange)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "ggml-base.bin")
	// a prior cancelled download left a non-empty .tmp behind
	if err := os.WriteFile(dest+".tmp", payload[:100], 0o644); err != nil {
		t.Fatalf("seed tmp: %v", err)
	}

	if err := DownloadModel(context.Background(), srv.Client(), srv.URL, dest); err != nil {
		t.Fatalf("resume download: %v", err)
	}
	if !sawRange {
		t.Fatal("resume must issue a Range request")
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("resumed download must be byte-identical to a fresh one")
	}
}

func TestDownloadModelSkipsExisting(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "ggml-base.bin")
	writeFile(t, dest)
	// no server needed: an existing artifact short-circuits
	if err := DownloadModel(context.Background(), http.DefaultClient, "http://127.0.0.1:0/unreachable", dest); err != nil {
		t.Fatalf("existing file must short-circuit, got %v", err)
	}
}
