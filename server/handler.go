package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/vultisig/vultisig-mediator/contexthelper"
	"github.com/vultisig/vultisig-mediator/model"
	"github.com/vultisig/vultisig-mediator/relay"
	"github.com/vultisig/vultisig-mediator/storage"
)

const (
	// MessageIDHeader carries the optional round discriminator.
	MessageIDHeader = "message_id"

	defaultBodyLimit = "100M"
	shutdownTimeout  = 10 * time.Second
)

type Server struct {
	port   int64
	stores *relay.Stores
	e      *echo.Echo
}

// NewServer returns a new server with every route registered. logger may be nil, in which case
// echo's default logger is used at DEBUG level.
func NewServer(port int64, bodyLimit string, stores *relay.Stores, logger *log.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if logger != nil {
		e.Logger = logger
	} else {
		e.Logger.SetLevel(log.DEBUG)
	}
	if bodyLimit == "" {
		bodyLimit = defaultBodyLimit
	}
	s := &Server{
		port:   port,
		stores: stores,
		e:      e,
	}
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	//enable cors
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(bodyLimit))
	e.GET("/ping", s.Ping)
	group := e.Group("")
	// RemoveTrailingSlash turns "/start/" into "/start", which must not fall through to
	// "/:sessionID".
	for _, prefix := range []string{"/start", "/complete", "/message", "/setup-message"} {
		group.Any(prefix, s.MissingSessionID)
	}
	group.Any("/payload", s.MissingPayloadHash)
	group.POST("/:sessionID", s.StartSession)
	group.GET("/:sessionID", s.GetSession)
	group.DELETE("/:sessionID", s.DeleteSession)
	group.POST("/message/:sessionID", s.PostMessage)
	group.POST("/message/:sessionID/:participantKey", s.PostMessage)
	group.GET("/message/:sessionID", s.MissingParticipant)
	group.DELETE("/message/:sessionID", s.MissingParticipant)
	group.GET("/message/:sessionID/:participantKey", s.GetMessage)
	group.DELETE("/message/:sessionID/:participantKey", s.DeleteMessages)
	group.DELETE("/message/:sessionID/:participantKey/:hash", s.DeleteMessage)
	group.POST("/start/:sessionID", s.StartTSSSession)
	group.GET("/start/:sessionID", s.GetStartTSSSession)
	group.POST("/complete/:sessionID", s.SetCompleteTSSSession)
	group.GET("/complete/:sessionID", s.GetCompleteTSSSession)
	group.POST("/complete/:sessionID/keysign", s.SetKeysignFinished)
	group.GET("/complete/:sessionID/keysign", s.GetKeysignFinished)
	group.POST("/payload/:hash", s.PostPayload)
	group.GET("/payload/:hash", s.GetPayload)
	group.POST("/setup-message/:sessionID", s.PostSetupMessage)
	group.GET("/setup-message/:sessionID", s.GetSetupMessage)
	return s
}

// StartServer listens on the configured port and blocks until the server stops.
func (s *Server) StartServer() error {
	return s.e.Start(fmt.Sprintf(":%d", s.port))
}

// Serve serves requests from an already bound listener and blocks until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	s.e.Listener = ln
	return s.e.Start("")
}

func (s *Server) StopServer() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.e.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "Vultisig mediator is running")
}

// StartSession is to join participants to a session, creating it when needed.
func (s *Server) StartSession(c echo.Context) error {
	sessionID, err := rootSessionIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	p, err := bindIDs(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.stores.Sessions.Join(c.Request().Context(), sessionID, p...); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) GetSession(c echo.Context) error {
	sessionID, err := rootSessionIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	p, err := s.stores.Sessions.Participants(c.Request().Context(), sessionID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// DeleteSession is to end a session, its started and completed sets go with it.
func (s *Server) DeleteSession(c echo.Context) error {
	sessionID, err := rootSessionIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.stores.Sessions.Delete(c.Request().Context(), sessionID); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) PostMessage(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	sessionID, err := sessionIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	messageID := c.Request().Header.Get(MessageIDHeader)
	var m model.Message
	if err := bind(c, &m); err != nil {
		return s.fail(c, err)
	}
	if m.From == "" && c.Param("participantKey") != "" {
		if m.From, err = participantParam(c); err != nil {
			return s.fail(c, err)
		}
	}
	c.Logger().Debug("session ID is ", sessionID, ", from ", m.From, ", message ID is ", messageID)
	if err := s.stores.Messages.Post(c.Request().Context(), sessionID, messageID, m); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) GetMessage(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	sessionID, err := sessionIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	participantID, err := participantParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	messageID := c.Request().Header.Get(MessageIDHeader)
	c.Logger().Debug("session ID is ", sessionID, ", participant ID is ", participantID, ", message ID is ", messageID)
	messages, err := s.stores.Messages.Pull(c.Request().Context(), sessionID, participantID, messageID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

// DeleteMessage is to delete a message once the recipient has processed it.
func (s *Server) DeleteMessage(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	sessionID, err := sessionIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	participantID, err := participantParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	msgHash := strings.TrimSpace(c.Param("hash"))
	if msgHash == "" {
		return c.String(http.StatusBadRequest, "message hash is required")
	}
	messageID := c.Request().Header.Get(MessageIDHeader)
	if err := s.stores.Messages.Delete(c.Request().Context(), sessionID, participantID, msgHash, messageID); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// DeleteMessages is to drop every message queued for a participant. It needs all=true, a
// bare "/message/:sessionID/:participantKey/" is a delete with a blank hash.
func (s *Server) DeleteMessages(c echo.Context) error {
	if c.QueryParam("all") != "true" {
		return c.String(http.StatusBadRequest, "message hash is required")
	}
	sessionID, err := sessionIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	participantID, err := participantParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	messageID := c.Request().Header.Get(MessageIDHeader)
	if err := s.stores.Messages.Drop(c.Request().Context(), sessionID, participantID, messageID); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) MissingParticipant(c echo.Context) error {
	return c.String(http.StatusBadRequest, "participant key is required")
}

func (s *Server) MissingSessionID(c echo.Context) error {
	return c.String(http.StatusBadRequest, "session ID is required")
}

func (s *Server) MissingPayloadHash(c echo.Context) error {
	return c.String(http.StatusBadRequest, "payload hash is required")
}

func (s *Server) StartTSSSession(c echo.Context) error {
	sessionID, err := sessionIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	p, err := bindIDs(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.stores.Sessions.Start(c.Request().Context(), sessionID, p); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) GetStartTSSSession(c echo.Context) error {
	return s.getParticipants(c, s.stores.Sessions.Started)
}

func (s *Server) SetCompleteTSSSession(c echo.Context) error {
	sessionID, err := sessionIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	p, err := bindIDs(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.stores.Sessions.Complete(c.Request().Context(), sessionID, p); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) GetCompleteTSSSession(c echo.Context) error {
	return s.getParticipants(c, s.stores.Sessions.Completed)
}

func (s *Server) getParticipants(c echo.Context, get func(context.Context, string) ([]string, error)) error {
	sessionID, err := sessionIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	participants, err := get(c.Request().Context(), sessionID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, participants)
}

func (s *Server) SetKeysignFinished(c echo.Context) error {
	return s.putRecord(c, s.stores.KeysignResults, http.StatusOK)
}

func (s *Server) GetKeysignFinished(c echo.Context) error {
	return s.getRecord(c, s.stores.KeysignResults)
}

func (s *Server) PostSetupMessage(c echo.Context) error {
	return s.putRecord(c, s.stores.SetupMessages, http.StatusCreated)
}

func (s *Server) GetSetupMessage(c echo.Context) error {
	return s.getRecord(c, s.stores.SetupMessages)
}

func (s *Server) putRecord(c echo.Context, records *relay.RecordStore, status int) error {
	sessionID, err := sessionIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	input, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	messageID := c.Request().Header.Get(MessageIDHeader)
	if err := records.Put(c.Request().Context(), sessionID, messageID, string(input)); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(status)
}

func (s *Server) getRecord(c echo.Context, records *relay.RecordStore) error {
	sessionID, err := sessionIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}
	messageID := c.Request().Header.Get(MessageIDHeader)
	value, err := records.Get(c.Request().Context(), sessionID, messageID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.String(http.StatusOK, value)
}

func (s *Server) PostPayload(c echo.Context) error {
	hash := strings.TrimSpace(c.Param("hash"))
	if hash == "" {
		return c.String(http.StatusBadRequest, "payload hash is required")
	}
	input, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if err := s.stores.Payloads.Put(c.Request().Context(), hash, string(input)); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) GetPayload(c echo.Context) error {
	hash := strings.TrimSpace(c.Param("hash"))
	if hash == "" {
		return c.String(http.StatusBadRequest, "payload hash is required")
	}
	content, err := s.stores.Payloads.Get(c.Request().Context(), hash)
	if err != nil {
		return s.fail(c, err)
	}
	return c.String(http.StatusOK, content)
}

// fail maps a store error onto a response.
func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, relay.ErrHashMismatch):
		return c.String(http.StatusBadRequest, relay.ErrHashMismatch.Error())
	case errors.Is(err, relay.ErrInvalidArgument):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return c.NoContent(http.StatusNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return c.NoContent(http.StatusRequestTimeout)
	default:
		c.Logger().Errorf("%s %s failed, err: %s", c.Request().Method, c.Path(), err)
		return c.NoContent(http.StatusInternalServerError)
	}
}

func sessionIDParam(c echo.Context) (string, error) {
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	if sessionID == "" {
		return "", fmt.Errorf("%w: session ID is required", relay.ErrInvalidArgument)
	}
	return sessionID, nil
}

// reservedSessionIDs are first path segments routed elsewhere, a session under one of them
// could be joined but never read back.
var reservedSessionIDs = map[string]bool{
	"ping":          true,
	"start":         true,
	"complete":      true,
	"message":       true,
	"setup-message": true,
	"payload":       true,
}

// rootSessionIDParam is sessionIDParam for the "/:sessionID" routes.
func rootSessionIDParam(c echo.Context) (string, error) {
	sessionID, err := sessionIDParam(c)
	if err != nil {
		return "", err
	}
	if reservedSessionIDs[sessionID] {
		return "", fmt.Errorf("%w: session ID %s is reserved", relay.ErrInvalidArgument, sessionID)
	}
	return sessionID, nil
}

func participantParam(c echo.Context) (string, error) {
	rawParticipantID, err := url.QueryUnescape(c.Param("participantKey"))
	if err != nil {
		c.Logger().Errorf("fail to unescape participant ID %s, err: %s", c.Param("participantKey"), err)
		return "", fmt.Errorf("%w: malformed participant key", relay.ErrInvalidArgument)
	}
	participantID := strings.TrimSpace(rawParticipantID)
	if participantID == "" {
		return "", fmt.Errorf("%w: participant key is required", relay.ErrInvalidArgument)
	}
	return participantID, nil
}

func bindIDs(c echo.Context) ([]string, error) {
	var p []string
	if err := bind(c, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		c.Logger().Debug("fail to bind request body, err: ", err)
		return fmt.Errorf("%w: malformed request body", relay.ErrInvalidArgument)
	}
	return nil
}
