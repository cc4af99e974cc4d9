package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/rtscribe/pkg/audio"
	"github.com/MrWong99/rtscribe/pkg/provider/stt"
)

const verboseJSON = `{
	"task": "transcribe",
	"language": "german",
	"duration": 2.0,
	"text": "Hallo Welt. Wie geht's?",
	"segments": [
		{"id": 0, "start": 0.0, "end": 1.0, "text": " Hallo Welt.", "avg_logprob": -0.2},
		{"id": 1, "start": 1.0, "end": 2.0, "text": " Wie geht's?", "avg_logprob": -0.4}
	],
	"words": [
		{"word": "Hallo", "start": 0.0, "end": 0.4},
		{"word": "Welt", "start": 0.5, "end": 0.9},
		{"word": "Wie", "start": 1.1, "end": 1.3},
		{"word": "geht's", "start": 1.4, "end": 1.9}
	]
}`

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	f, err := New("key", "")
	if err != nil {
		t.Fatal(err)
	}
	if f.ModelID() != string(DefaultModel) {
		t.Errorf("ModelID = %q, want %q", f.ModelID(), DefaultModel)
	}
}

func TestSegments_AssignsWords(t *testing.T) {
	t.Parallel()
	var v verboseTranscription
	if err := json.Unmarshal([]byte(verboseJSON), &v); err != nil {
		t.Fatal(err)
	}
	segs := v.segments(stt.Options{TokenDetails: true, LanguageAutoDetect: true})
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Language != "de" {
		t.Errorf("language = %q, want de", segs[0].Language)
	}
	if len(segs[0].Tokens) != 2 || len(segs[1].Tokens) != 2 {
		t.Errorf("token split = %d/%d, want 2/2", len(segs[0].Tokens), len(segs[1].Tokens))
	}
	if segs[1].Start != time.Second || segs[1].Text != "Wie geht's?" {
		t.Errorf("second = %+v", segs[1])
	}
}

func TestSegments_TextOnlyFallback(t *testing.T) {
	t.Parallel()
	v := verboseTranscription{Text: " hi "}
	segs := v.segments(stt.Options{Language: "en"})
	if len(segs) != 1 || segs[0].Text != "hi" || segs[0].Language != "en" {
		t.Errorf("segments = %+v", segs)
	}
}

func TestTranscribe_AgainstFakeAPI(t *testing.T) {
	t.Parallel()

	var gotForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotForm = r.MultipartForm.Value
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(verboseJSON))
	}))
	defer srv.Close()

	f, err := New("key", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	tr, _ := f.Create(stt.Options{Language: "de", Prompt: "Guten Tag."})
	defer tr.Close()

	var segs []stt.Segment
	for seg, err := range tr.Transcribe(context.Background(), audio.NewSilence(2*time.Second, audio.Mono16k)) {
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		segs = append(segs, seg)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Tokens != nil {
		t.Error("tokens returned without TokenDetails")
	}
	if gotForm["language"][0] != "de" || gotForm["prompt"][0] != "Guten Tag." || gotForm["response_format"][0] != "verbose_json" {
		t.Errorf("form = %v", gotForm)
	}
}

func TestTranscribe_APIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	f, _ := New("key", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	tr, _ := f.Create(stt.Options{})
	for _, err := range tr.Transcribe(context.Background(), audio.NewSilence(time.Second, audio.Mono16k)) {
		if err == nil {
			t.Fatal("expected error for HTTP 401")
		}
	}
}
