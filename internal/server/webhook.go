package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	tw "github.com/twilio/twilio-go/twiml"

	"github.com/chris/anchor/internal/agent"
	"github.com/chris/anchor/internal/observability"
)

const rateLimitedReply = "You're sending messages faster than I can keep up. Give me a minute and try again."

// handleWebhook answers a Twilio inbound-SMS callback with TwiML.
func (s *Server) handleWebhook(c echo.Context) error {
	req := c.Request()
	log := observability.LoggerFromContext(req.Context())

	if s.validator != nil && !s.validSignature(c) {
		log.Warn("server: rejected webhook with bad signature")
		return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
	}

	from := strings.TrimSpace(c.FormValue("From"))
	if from == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing From")
	}
	log = log.With("user", from)

	if !s.limiter.allow(from, time.Now()) {
		log.Warn("server: rate limited")
		return twiml(c, rateLimitedReply)
	}

	if n := strings.TrimSpace(c.FormValue("NumMedia")); n != "" && n != "0" {
		log.Info("server: media message", "num_media", n)
		if c.FormValue("MediaUrl0") != "" {
			return twiml(c, agent.MediaReply)
		}
		return twiml(c, agent.MediaNoURLReply)
	}

	reply := s.agent.HandleMessage(req.Context(), agent.Inbound{
		UserID:     from,
		Body:       c.FormValue("Body"),
		ReceivedAt: parseDateSent(c.FormValue("DateSent")),
	})
	log.Info("server: replying", "message_type", reply.MessageType, "degraded", reply.Degraded)
	return twiml(c, reply.Text)
}

func (s *Server) validSignature(c echo.Context) bool {
	sig := c.Request().Header.Get("X-Twilio-Signature")
	if sig == "" {
		return false
	}
	form, err := c.FormParams()
	if err != nil {
		return false
	}
	params := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	url := strings.TrimRight(s.cfg.PublicURL, "/") + c.Request().URL.RequestURI()
	return s.validator.Validate(url, params, sig)
}

// parseDateSent reads Twilio's RFC 1123 timestamp. Unparseable values
// yield the zero time, which means "now".
func parseDateSent(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func twiml(c echo.Context, text string) error {
	doc, err := tw.Messages([]tw.Element{&tw.MessagingMessage{Body: text}})
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "text/xml; charset=utf-8", []byte(doc))
}
