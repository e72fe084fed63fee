package poll

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/CamRelay/internal/core"
)

const sessionKey = "poll_conn"

// Controller exposes a Hub over HTTP. It needs the gin-contrib sessions
// middleware; the connId query parameter is a fallback for cookieless clients.
type Controller struct {
	Hub *Hub
}

func (ctl *Controller) Mount(g gin.IRoutes) {
	g.POST("/poll", ctl.Open)
	g.POST("/poll/send", ctl.Send)
	g.GET("/poll/recv", ctl.Receive)
	g.DELETE("/poll", ctl.Close)
}

func (ctl *Controller) Open(c *gin.Context) {
	conn := ctl.Hub.Open()
	s := sessions.Default(c)
	s.Set(sessionKey, string(conn.ID()))
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "poll").Msg("save session")
	}
	c.JSON(http.StatusCreated, gin.H{"connId": conn.ID()})
}

func (ctl *Controller) Send(c *gin.Context) {
	id, ok := connID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connId required"})
		return
	}
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty message"})
		return
	}
	if err := ctl.Hub.Send(id, raw); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (ctl *Controller) Receive(c *gin.Context) {
	id, ok := connID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connId required"})
		return
	}
	frames, err := ctl.Hub.Receive(id)
	if err != nil {
		writeErr(c, err)
		return
	}
	out := make([]json.RawMessage, 0, len(frames))
	for _, f := range frames {
		out = append(out, json.RawMessage(f))
	}
	c.JSON(http.StatusOK, out)
}

func (ctl *Controller) Close(c *gin.Context) {
	id, ok := connID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connId required"})
		return
	}
	if err := ctl.Hub.Close(id); err != nil {
		writeErr(c, err)
		return
	}
	s := sessions.Default(c)
	s.Delete(sessionKey)
	_ = s.Save()
	c.Status(http.StatusNoContent)
}

// connID prefers the connection bound to the caller's cookie session. The
// connId query parameter only serves clients without cookies; connection
// ids are bearer tokens, so anyone holding one can use it.
func connID(c *gin.Context) (core.ConnID, bool) {
	if v, ok := sessions.Default(c).Get(sessionKey).(string); ok && v != "" {
		return core.ConnID(v), true
	}
	if q := c.Query("connId"); q != "" {
		return core.ConnID(q), true
	}
	return "", false
}

func writeErr(c *gin.Context, err error) {
	if errors.Is(err, ErrUnknownConn) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
