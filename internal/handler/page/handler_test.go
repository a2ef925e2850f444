package page

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finetuning-llms/companion/internal/model/chat"
	"github.com/finetuning-llms/companion/internal/model/feedback"
	"github.com/finetuning-llms/companion/internal/model/page"
	"github.com/finetuning-llms/companion/internal/render"
	chatservice "github.com/finetuning-llms/companion/internal/service/chat"
)

type stubCompleter struct {
	reply string
	calls int
}

func (s *stubCompleter) Complete(context.Context, string, chat.Transcript) (string, error) {
	s.calls++
	return s.reply, nil
}

type countingSink struct {
	enabled bool
	calls   int
}

func (s *countingSink) Enabled() bool { return s.enabled }

func (s *countingSink) Collect(context.Context, feedback.Record) error {
	s.calls++
	return nil
}

type site struct {
	router    *chi.Mux
	chatSvc   *chatservice.Service
	completer *stubCompleter
	sink      *countingSink
	cookie    *http.Cookie
}

func newSite(t *testing.T, sinkEnabled bool) *site {
	t.Helper()
	store := page.NewMemoryStore(page.Seed())
	renderer, err := render.New(store)
	require.NoError(t, err)

	completer := &stubCompleter{reply: "Why don't sharks attack lawyers? Professional courtesy."}
	sink := &countingSink{enabled: sinkEnabled}
	chatSvc := chatservice.NewService(chatservice.NewMemoryRepository(), completer, sink, chatservice.Options{})

	r := chi.NewRouter()
	handler := New(store, chatSvc, renderer, nil)
	handler.RegisterRoutes(r)
	r.Route("/api", handler.RegisterAPIRoutes)

	return &site{router: r, chatSvc: chatSvc, completer: completer, sink: sink}
}

func (s *site) do(t *testing.T, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)

	for _, c := range resp.Result().Cookies() {
		if c.Name == SessionCookie {
			s.cookie = c
		}
	}
	return resp
}

func TestIndexRedirectsToIntroduction(t *testing.T) {
	s := newSite(t, false)

	resp := s.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, "/pages/introduction", resp.Header().Get("Location"))
}

func TestSelectorMapsLabelToPage(t *testing.T) {
	s := newSite(t, false)

	resp := s.do(t, http.MethodGet, "/pages?label="+url.QueryEscape("Chapter 2"), nil)
	assert.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, "/pages/chapter-2", resp.Header().Get("Location"))

	missing := s.do(t, http.MethodGet, "/pages?label=Appendix", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestUnknownPage(t *testing.T) {
	s := newSite(t, false)

	resp := s.do(t, http.MethodGet, "/pages/appendix", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestStaticPageDoesNotCreateSession(t *testing.T) {
	s := newSite(t, false)

	resp := s.do(t, http.MethodGet, "/pages/introduction", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "companion site to Fine-tuning Large Language Models")
	assert.Nil(t, s.cookie)
}

func TestChatPageCreatesSessionOnce(t *testing.T) {
	s := newSite(t, false)

	first := s.do(t, http.MethodGet, "/pages/chapter-2", nil)
	require.Equal(t, http.StatusOK, first.Code)
	require.NotNil(t, s.cookie)
	id := s.cookie.Value

	second := s.do(t, http.MethodGet, "/pages/chapter-2", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, id, s.cookie.Value)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestChatWithoutCredentialShowsNotice(t *testing.T) {
	s := newSite(t, false)
	s.do(t, http.MethodGet, "/pages/chapter-2", nil)

	resp := s.do(t, http.MethodPost, "/pages/chapter-2/chat", url.Values{"prompt": {"hello"}})
	require.Equal(t, http.StatusOK, resp.Code)

	body := resp.Body.String()
	assert.Contains(t, body, chatservice.NoticeMissingCredential)
	assert.Contains(t, body, `class="chat-message user">hello<`)
	assert.NotContains(t, body, "[Optional] Please provide an explanation")
	assert.Zero(t, s.completer.calls)
}

func TestChatTurnThenFeedback(t *testing.T) {
	s := newSite(t, true)
	s.do(t, http.MethodGet, "/pages/chapter-2", nil)

	resp := s.do(t, http.MethodPost, "/pages/chapter-2/chat", url.Values{
		"prompt":     {"Tell me a joke about sharks"},
		"credential": {"sk-test"},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Contains(t, body, "Professional courtesy.")
	assert.Contains(t, body, "[Optional] Please provide an explanation")
	assert.Contains(t, body, `value="sk-test"`)

	fb := s.do(t, http.MethodPost, "/pages/chapter-2/feedback", url.Values{"score": {"up"}, "text": {"funny"}})
	require.Equal(t, http.StatusOK, fb.Code)
	assert.Contains(t, fb.Body.String(), chatservice.NoticeFeedbackRecorded)
	assert.Equal(t, 1, s.sink.calls)
	assert.NotContains(t, fb.Body.String(), `value="sk-test"`)
}

func TestFeedbackWithoutCollectorIsSilent(t *testing.T) {
	s := newSite(t, false)
	s.do(t, http.MethodGet, "/pages/chapter-2", nil)
	s.do(t, http.MethodPost, "/pages/chapter-2/chat", url.Values{"prompt": {"hi"}, "credential": {"sk-test"}})

	fb := s.do(t, http.MethodPost, "/pages/chapter-2/feedback", url.Values{"score": {"down"}})
	require.Equal(t, http.StatusOK, fb.Code)
	assert.NotContains(t, fb.Body.String(), chatservice.NoticeFeedbackRecorded)
	assert.Zero(t, s.sink.calls)

	session, err := s.chatSvc.GetSession(context.Background(), s.cookie.Value)
	require.NoError(t, err)
	assert.Len(t, session.Transcript, 4)
}

func TestFeedbackBeforeReplyIsRejected(t *testing.T) {
	s := newSite(t, true)
	s.do(t, http.MethodGet, "/pages/chapter-2", nil)

	resp := s.do(t, http.MethodPost, "/pages/chapter-2/feedback", url.Values{"score": {"up"}})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Body.String(), "<html")
	assert.Zero(t, s.sink.calls)
}

func TestEmptyPromptIsNotDispatched(t *testing.T) {
	s := newSite(t, false)
	s.do(t, http.MethodGet, "/pages/chapter-2", nil)

	resp := s.do(t, http.MethodPost, "/pages/chapter-2/chat", url.Values{"prompt": {"  "}, "credential": {"sk-test"}})
	require.Equal(t, http.StatusOK, resp.Code)

	session, err := s.chatSvc.GetSession(context.Background(), s.cookie.Value)
	require.NoError(t, err)
	assert.Len(t, session.Transcript, 2)
	assert.Zero(t, s.completer.calls)
}

func TestChatOnStaticPageIsRejected(t *testing.T) {
	s := newSite(t, false)

	resp := s.do(t, http.MethodPost, "/pages/chapter-1/chat", url.Values{"prompt": {"hi"}})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListPagesAPI(t *testing.T) {
	s := newSite(t, false)

	resp := s.do(t, http.MethodGet, "/api/pages", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var pages []page.Page
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &pages))
	require.Len(t, pages, 3)
	assert.Equal(t, []string{"Introduction", "Chapter 1", "Chapter 2"}, []string{pages[0].Label, pages[1].Label, pages[2].Label})
	assert.True(t, pages[2].Chat)
}
