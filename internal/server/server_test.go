package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris/anchor/internal/agent"
	"github.com/chris/anchor/internal/metrics"
	"github.com/chris/anchor/internal/plan"
)

type fakeAgent struct {
	got   []agent.Inbound
	reply agent.Reply
	panic bool
}

func (f *fakeAgent) HandleMessage(_ context.Context, in agent.Inbound) agent.Reply {
	if f.panic {
		panic("boom")
	}
	f.got = append(f.got, in)
	return f.reply
}

type twimlDoc struct {
	Message string `xml:"Message"`
}

func postForm(t *testing.T, s *Server, form url.Values, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeTwiML(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/xml")
	var doc twimlDoc
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &doc))
	return doc.Message
}

func TestWebhookRepliesWithTwiML(t *testing.T) {
	fa := &fakeAgent{reply: agent.Reply{Text: "What's the one thing that matters most today?", MessageType: plan.MorningPlanning}}
	s := New(fa, Config{}, nil, nil)

	rec := postForm(t, s, url.Values{
		"From":     {"+15551234567"},
		"Body":     {"  Morning!  "},
		"DateSent": {"Thu, 15 Oct 2026 15:04:05 +0000"},
		"NumMedia": {"0"},
	}, nil)

	assert.Equal(t, "What's the one thing that matters most today?", decodeTwiML(t, rec))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	require.Len(t, fa.got, 1)
	assert.Equal(t, "+15551234567", fa.got[0].UserID)
	assert.Equal(t, "  Morning!  ", fa.got[0].Body)
	assert.Equal(t, time.Date(2026, 10, 15, 15, 4, 5, 0, time.UTC), fa.got[0].ReceivedAt.UTC())
}

func TestWebhookMedia(t *testing.T) {
	fa := &fakeAgent{}
	s := New(fa, Config{}, nil, nil)

	rec := postForm(t, s, url.Values{"From": {"+1555"}, "NumMedia": {"1"}, "MediaUrl0": {"https://api.twilio.com/media/1"}}, nil)
	assert.Equal(t, agent.MediaReply, decodeTwiML(t, rec))

	rec = postForm(t, s, url.Values{"From": {"+1555"}, "NumMedia": {"1"}}, nil)
	assert.Equal(t, agent.MediaNoURLReply, decodeTwiML(t, rec))
	assert.Empty(t, fa.got, "media never reaches the agent")
}

func TestWebhookMissingFrom(t *testing.T) {
	s := New(&fakeAgent{}, Config{}, nil, nil)
	rec := postForm(t, s, url.Values{"Body": {"hi"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookPanicStillReplies(t *testing.T) {
	s := New(&fakeAgent{panic: true}, Config{}, nil, nil)
	rec := postForm(t, s, url.Values{"From": {"+1555"}, "Body": {"hi"}}, nil)
	assert.Equal(t, agent.ErrorReply, decodeTwiML(t, rec))
}

func TestWebhookRateLimit(t *testing.T) {
	fa := &fakeAgent{reply: agent.Reply{Text: "ok"}}
	s := New(fa, Config{RatePerMinute: 2}, nil, nil)
	form := url.Values{"From": {"+1555"}, "Body": {"hi"}}

	assert.Equal(t, "ok", decodeTwiML(t, postForm(t, s, form, nil)))
	assert.Equal(t, "ok", decodeTwiML(t, postForm(t, s, form, nil)))
	assert.Equal(t, rateLimitedReply, decodeTwiML(t, postForm(t, s, form, nil)))
	assert.Len(t, fa.got, 2)

	other := url.Values{"From": {"+1666"}, "Body": {"hi"}}
	assert.Equal(t, "ok", decodeTwiML(t, postForm(t, s, other, nil)), "limits are per sender")
}

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhookSignature(t *testing.T) {
	fa := &fakeAgent{reply: agent.Reply{Text: "ok"}}
	cfg := Config{TwilioAuthToken: "secret", ValidateSignature: true, PublicURL: "https://anchor.example.com"}
	s := New(fa, cfg, nil, nil)
	form := url.Values{"From": {"+1555"}, "Body": {"hi"}}

	rec := postForm(t, s, form, map[string]string{"X-Twilio-Signature": sign("secret", "https://anchor.example.com/webhook", form)})
	assert.Equal(t, "ok", decodeTwiML(t, rec))

	rec = postForm(t, s, form, map[string]string{"X-Twilio-Signature": sign("wrong", "https://anchor.example.com/webhook", form)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postForm(t, s, form, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, fa.got, 1)
}

func TestHealth(t *testing.T) {
	healthy := New(&fakeAgent{}, Config{}, nil, func(context.Context) error { return nil })
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	down := New(&fakeAgent{}, Config{}, nil, func(context.Context) error { return errors.New("redis down") })
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis")
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Turn("ad_hoc")
	s := New(&fakeAgent{}, Config{}, m, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `anchor_turns_total{message_type="ad_hoc"} 1`)
}

func TestRequestIDPropagates(t *testing.T) {
	s := New(&fakeAgent{reply: agent.Reply{Text: "ok"}}, Config{}, nil, nil)
	rec := postForm(t, s, url.Values{"From": {"+1555"}}, map[string]string{requestIDHeader: "abc-123"})
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestParseDateSent(t *testing.T) {
	assert.True(t, parseDateSent("").IsZero())
	assert.True(t, parseDateSent("yesterday").IsZero())
	got := parseDateSent("Thu, 15 Oct 2026 15:04:05 +0000")
	assert.Equal(t, 2026, got.Year())
}

func TestSenderLimiter(t *testing.T) {
	var none *senderLimiter
	assert.True(t, none.allow("x", time.Now()))
	assert.Nil(t, newSenderLimiter(0))

	l := newSenderLimiter(1)
	now := time.Now()
	assert.True(t, l.allow("a", now))
	assert.False(t, l.allow("a", now))
	assert.True(t, l.allow("a", now.Add(61*time.Second)))

	l.allow("b", now)
	l.allow("c", now.Add(limiterIdle+2*time.Minute))
	_, kept := l.buckets["b"]
	assert.False(t, kept, "idle buckets are swept")
}
