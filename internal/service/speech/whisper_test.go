package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	speechmodel "github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

func newTestConfig(t *testing.T, baseURL string) *speechmodel.SpeechConfig {
	t.Helper()
	return &speechmodel.SpeechConfig{
		APIKey:      "sk-test",
		BaseURL:     baseURL,
		ASRModel:    "whisper-1",
		ASRLanguage: "id",
		TTSModel:    "gpt-4o-mini-tts",
		TTSVoice:    "nova",
		TTSSpeed:    1.0,
		TempDir:     t.TempDir(),
		Timeout:     5,
	}
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir err: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp dir to be empty, found %d entries", len(entries))
	}
}

func TestWhisperTranscribeRemovesTempFileOnSuccess(t *testing.T) {
	var gotModel, gotLanguage, gotFilename string
	var gotBytes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile err: %v", err)
			return
		}
		data, _ := io.ReadAll(file)
		gotBytes = len(data)
		gotFilename = header.Filename
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" halo "}`)
	}))
	defer srv.Close()

	cfg := newTestConfig(t, srv.URL)
	client := NewWhisperClient(cfg, srv.Client())
	var tempPath string
	client.onTempFile = func(path string) {
		tempPath = path
		if _, err := os.Stat(path); err != nil {
			t.Errorf("temp file should exist during upload: %v", err)
		}
	}

	wav := append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 2000)...)
	resp, err := client.Transcribe(context.Background(), &speechmodel.ASRRequest{
		SessionID: "abc/def",
		AudioData: wav,
	})
	if err != nil {
		t.Fatalf("Transcribe err: %v", err)
	}

	if resp.Text != "halo" {
		t.Fatalf("expected trimmed text halo, got %q", resp.Text)
	}
	if resp.Format != "wav" || !strings.HasSuffix(gotFilename, ".wav") {
		t.Fatalf("expected sniffed wav upload, got format=%s filename=%s", resp.Format, gotFilename)
	}
	if !strings.HasPrefix(gotFilename, "recording-abc_def-") {
		t.Fatalf("unexpected artifact name %s", gotFilename)
	}
	if gotBytes != len(wav) || gotModel != "whisper-1" || gotLanguage != "id" {
		t.Fatalf("unexpected upload: bytes=%d model=%s language=%s", gotBytes, gotModel, gotLanguage)
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Fatalf("temp file %s should be removed, stat err=%v", tempPath, err)
	}
	assertDirEmpty(t, cfg.TempDir)
}

func TestWhisperTranscribeClassifiesProviderErrors(t *testing.T) {
	cases := []struct {
		message string
		want    TranscriptionErrorKind
	}{
		{message: "Audio file is too short. Minimum audio length is 0.1 seconds.", want: TranscriptionTooShort},
		{message: "Invalid file format. Supported formats: ['flac', 'm4a']", want: TranscriptionInvalidFormat},
		{message: "upstream exploded", want: TranscriptionUnknown},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":{"message":"`+tc.message+`"}}`)
		}))

		cfg := newTestConfig(t, srv.URL)
		client := NewWhisperClient(cfg, srv.Client())
		_, err := client.Transcribe(context.Background(), &speechmodel.ASRRequest{
			SessionID: "s1",
			AudioData: make([]byte, 1500),
			Format:    "webm",
		})
		srv.Close()

		var terr *TranscriptionError
		if !errors.As(err, &terr) {
			t.Fatalf("expected TranscriptionError, got %v", err)
		}
		if terr.Kind != tc.want {
			t.Errorf("message %q classified as %s, want %s", tc.message, terr.Kind, tc.want)
		}
		if terr.StatusCode != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", terr.StatusCode)
		}
		assertDirEmpty(t, cfg.TempDir)
	}
}

func TestWhisperTranscribeRemovesTempFileWhenProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := newTestConfig(t, url)
	client := NewWhisperClient(cfg, nil)
	_, err := client.Transcribe(context.Background(), &speechmodel.ASRRequest{SessionID: "s1", AudioData: make([]byte, 1500)})

	var terr *TranscriptionError
	if !errors.As(err, &terr) || terr.Kind != TranscriptionUnknown {
		t.Fatalf("expected unknown transcription error, got %v", err)
	}
	assertDirEmpty(t, cfg.TempDir)
}

func TestWhisperTranscribeRequiresCredentials(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")
	cfg.APIKey = ""
	client := NewWhisperClient(cfg, nil)

	if _, err := client.Transcribe(context.Background(), &speechmodel.ASRRequest{AudioData: []byte("x")}); err == nil {
		t.Fatal("expected error without api key")
	}
	assertDirEmpty(t, cfg.TempDir)
}
