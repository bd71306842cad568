package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ykvlv/digest-bot/internal/domain"
)

var base = time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)

func msg(id, views int, text string) domain.Message {
	return domain.Message{ID: id, Text: text, Date: base.Add(time.Duration(id) * time.Minute), Views: views}
}

func TestFormatMessages_Truncation(t *testing.T) {
	short := strings.Repeat("a", MaxMessageRunes)
	long := strings.Repeat("б", MaxMessageRunes+1)

	out := FormatMessages([]domain.Message{msg(2, 1, short), msg(1, 1, long)}, "News", "news")

	if !strings.Contains(out, short+"\n") {
		t.Fatal("body at the cap must be kept verbatim")
	}
	if strings.Contains(out, long) {
		t.Fatal("body over the cap must be truncated")
	}
	if !strings.Contains(out, strings.Repeat("б", MaxMessageRunes)+TruncationMarker) {
		t.Fatal("truncated body must end with the marker")
	}
	if !strings.Contains(out, "https://t.me/news/2") || !strings.Contains(out, "https://t.me/news/1") {
		t.Fatal("post links missing")
	}
}

func TestFormatMessages_Bounded(t *testing.T) {
	var msgs []domain.Message
	for i := 0; i < 100; i++ {
		msgs = append(msgs, msg(1000-i, 0, strings.Repeat("x", MaxMessageRunes)))
	}
	out := FormatMessages(msgs, "Big", "big")
	if n := utf8.RuneCountInString(out); n > MaxBlockRunes+100 {
		t.Fatalf("block too long: %d runes", n)
	}
	if !strings.Contains(out, "older messages omitted") {
		t.Fatal("want omission note")
	}
	if !strings.Contains(out, "https://t.me/big/1000") {
		t.Fatal("newest message must be kept")
	}
}

func TestTopLinks(t *testing.T) {
	msgs := []domain.Message{
		msg(6, 10, "six"),
		msg(5, 50, "five"),
		msg(4, 10, "four"),
		msg(3, 70, "three <b>"),
		msg(2, 10, "two"),
		msg(1, 0, "one"),
	}
	links := TopLinks(msgs, "news", 5)
	if len(links) != 5 {
		t.Fatalf("want 5 links, got %d", len(links))
	}
	want := []string{"/3", "/5", "/6", "/4", "/2"}
	for i, w := range want {
		if !strings.HasSuffix(links[i].URL, w) {
			t.Fatalf("link %d: want suffix %s, got %s", i, w, links[i].URL)
		}
	}

	if got := TopLinks(msgs[:2], "news", 5); len(got) != 2 {
		t.Fatalf("fewer messages than n: got %d", len(got))
	}
	if TopLinks(nil, "news", 5) != nil {
		t.Fatal("no messages, no links")
	}

	block := RenderLinks(links)
	if !strings.Contains(block, "three &lt;b&gt;") {
		t.Fatalf("preview must be escaped: %s", block)
	}
	if !strings.Contains(block, `<a href="https://t.me/news/3">`) {
		t.Fatalf("missing anchor: %s", block)
	}
}

func TestTopLinks_PreviewLength(t *testing.T) {
	links := TopLinks([]domain.Message{msg(1, 1, strings.Repeat("z", 300))}, "news", 5)
	if got := utf8.RuneCountInString(links[0].Preview); got != previewRunes+len(TruncationMarker) {
		t.Fatalf("preview length %d", got)
	}
}

func TestBuildPrompt_SeparatesChannels(t *testing.T) {
	p := BuildPrompt([]Block{
		{Handle: "a_chan", Title: "A", Messages: []domain.Message{msg(1, 0, "alpha")}},
		{Handle: "b_chan", Title: "B", Messages: []domain.Message{msg(2, 0, "beta")}},
	})
	if strings.Count(p, BlockSeparator) != 1 {
		t.Fatalf("want one separator: %s", p)
	}
	if strings.Index(p, "alpha") > strings.Index(p, "beta") {
		t.Fatal("blocks must keep their order")
	}
}

const completion = `{"id":"c1","object":"chat.completion","created":1,"model":"m",
"choices":[{"index":0,"message":{"role":"assistant","content":"  <b>A</b>\n1. alpha  "},"finish_reason":"stop"}],
"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`

func newEngine(url string, timeout time.Duration) *Engine {
	return New(Options{
		APIKey:      "key",
		BaseURL:     url,
		Model:       "test/model",
		MaxTokens:   2000,
		Temperature: 0.7,
		Timeout:     timeout,
	}, zap.NewNop())
}

func TestSummarize_Success(t *testing.T) {
	var got struct {
		Model     string  `json:"model"`
		MaxTokens int     `json:"max_tokens"`
		Temp      float32 `json:"temperature"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat/completions" {
			t.Errorf("path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("auth header %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Title") == "" {
			t.Error("missing attribution header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion))
	}))
	defer srv.Close()

	e := newEngine(srv.URL+"/api/v1/", time.Second)
	text, err := e.Summarize(context.Background(), []Block{
		{Handle: "a_chan", Title: "A", Messages: []domain.Message{msg(1, 3, "alpha")}},
	})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if text != "<b>A</b>\n1. alpha" {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Model != "test/model" || got.MaxTokens != 2000 || got.Temp != 0.7 {
		t.Fatalf("request params: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || !strings.Contains(got.Messages[1].Content, "alpha") {
		t.Fatalf("request messages: %+v", got.Messages)
	}
}

func TestSummarize_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		}},
		{"rate limited", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
		}},
		{"no choices", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"c","object":"chat.completion","choices":[]}`))
		}},
		{"empty content", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"c","choices":[{"index":0,"message":{"role":"assistant","content":"  "}}]}`))
		}},
		{"malformed", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`not json`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newEngine(srv.URL, time.Second).Summarize(context.Background(), []Block{
				{Handle: "a_chan", Title: "A", Messages: []domain.Message{msg(1, 0, "alpha")}},
			})
			if !errors.Is(err, ErrUnavailable) {
				t.Fatalf("want ErrUnavailable, got %v", err)
			}
		})
	}
}

func TestSummarize_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newEngine(srv.URL, 50*time.Millisecond).Summarize(context.Background(), []Block{
		{Handle: "a_chan", Title: "A", Messages: []domain.Message{msg(1, 0, "alpha")}},
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("request was not bounded by the timeout")
	}
}

func TestSummarize_NoBlocks(t *testing.T) {
	if _, err := newEngine("http://127.0.0.1:1", time.Second).Summarize(context.Background(), nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}
