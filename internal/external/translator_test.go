package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTranslate upper-cases every q value. Batches containing "FAIL" get
// the configured status; batches containing "SHORT" lose their last item.
type fakeTranslate struct {
	mu      sync.Mutex
	batches [][]string
	status  int
	delay   time.Duration
}

func (f *fakeTranslate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	q := r.Form["q"]
	f.mu.Lock()
	f.batches = append(f.batches, q)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(f.delay):
		}
	}
	w.Header().Set("Content-Type", "application/json")
	for _, s := range q {
		if strings.Contains(s, "FAIL") {
			w.WriteHeader(f.status)
			fmt.Fprintf(w, `{"error": {"code": %d, "message": "failed"}}`, f.status)
			return
		}
	}
	type item struct {
		TranslatedText string `json:"translatedText"`
	}
	items := make([]item, 0, len(q))
	for _, s := range q {
		items = append(items, item{TranslatedText: strings.ToUpper(s)})
	}
	for _, s := range q {
		if strings.Contains(s, "SHORT") {
			items = items[:len(items)-1]
			break
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"translations": items}})
}

func newTestTranslator(t *testing.T, fake *fakeTranslate, cfg TranslatorConfig) *GoogleTranslator {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	cfg.APIKey = "test-key"
	cfg.Endpoint = srv.URL + "/"
	tr, err := NewGoogleTranslator(context.Background(), cfg, nil)
	require.NoError(t, err)
	return tr
}

func TestGoogleTranslator_OrderAndChunking(t *testing.T) {
	fake := &fakeTranslate{}
	tr := newTestTranslator(t, fake, TranslatorConfig{MaxSegments: 2})

	in := []string{"երևան", "կենտրոն", "abovyan", "արինջ", "nork"}
	out := tr.TranslateBatch(context.Background(), in, "en")
	require.Len(t, out, len(in))
	for i, o := range out {
		require.NoError(t, o.Err)
		assert.Equal(t, strings.ToUpper(in[i]), o.Text)
	}
	assert.Equal(t, [][]string{{"երևան", "կենտրոն"}, {"abovyan", "արինջ"}, {"nork"}}, fake.batches)
}

func TestGoogleTranslator_FailedCallIsolated(t *testing.T) {
	fake := &fakeTranslate{status: http.StatusForbidden}
	tr := newTestTranslator(t, fake, TranslatorConfig{MaxSegments: 2})

	out := tr.TranslateBatch(context.Background(), []string{"a", "FAIL", "c", "d"}, "en")
	require.Len(t, out, 4)
	for _, i := range []int{0, 1} {
		require.Error(t, out[i].Err)
		var te *TranslationError
		require.ErrorAs(t, out[i].Err, &te)
		assert.Equal(t, KindQuotaExceeded, te.Kind)
	}
	assert.Equal(t, "C", out[2].Text)
	assert.Equal(t, "D", out[3].Text)
}

func TestGoogleTranslator_ShortResponse(t *testing.T) {
	fake := &fakeTranslate{}
	tr := newTestTranslator(t, fake, TranslatorConfig{})

	out := tr.TranslateBatch(context.Background(), []string{"one", "SHORT", "three"}, "en")
	require.Len(t, out, 3)
	assert.Equal(t, "ONE", out[0].Text)
	assert.Equal(t, "SHORT", out[1].Text)
	assert.Equal(t, KindDecode, KindOf(out[2].Err))
}

func TestGoogleTranslator_Timeout(t *testing.T) {
	fake := &fakeTranslate{delay: 2 * time.Second}
	tr := newTestTranslator(t, fake, TranslatorConfig{Timeout: 50 * time.Millisecond})

	out := tr.TranslateBatch(context.Background(), []string{"slow"}, "en")
	require.Len(t, out, 1)
	assert.True(t, IsTimeout(out[0].Err), "%v", out[0].Err)
}

func TestNewGoogleTranslator_RequiresKey(t *testing.T) {
	_, err := NewGoogleTranslator(context.Background(), TranslatorConfig{}, nil)
	assert.Error(t, err)
}

func TestChunkTexts(t *testing.T) {
	tests := []struct {
		name     string
		texts    []string
		maxChars int
		maxSegs  int
		want     [][]int
	}{
		{"empty", nil, 10, 2, nil},
		{"segment cap", []string{"a", "b", "c"}, 100, 2, [][]int{{0, 1}, {2}}},
		{"char budget", []string{"aaaa", "bbbb", "cc"}, 8, 10, [][]int{{0, 1}, {2}}},
		{"oversized alone", []string{"a", strings.Repeat("x", 20), "b"}, 10, 10, [][]int{{0}, {1}, {2}}},
		{"runes not bytes", []string{"երևան", "երևան"}, 10, 10, [][]int{{0, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChunkTexts(tt.texts, tt.maxChars, tt.maxSegs))
		})
	}
}

func TestFuncTranslator(t *testing.T) {
	tr := FuncTranslator(func(_ context.Context, text, _ string) (string, error) {
		if text == "" {
			return "", &TranslationError{Kind: KindInvalidRequest}
		}
		return "[" + text + "]", nil
	})
	out := tr.TranslateBatch(context.Background(), []string{"x", ""}, "en")
	assert.Equal(t, "[x]", out[0].Text)
	assert.Equal(t, KindInvalidRequest, KindOf(out[1].Err))
}
