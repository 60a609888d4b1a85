package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rikseotools/vence-sub014/internal/auth"
	"github.com/rikseotools/vence-sub014/internal/conn"
	"github.com/rikseotools/vence-sub014/internal/monitor"
	"github.com/rikseotools/vence-sub014/internal/status"
	"github.com/rikseotools/vence-sub014/internal/tg"
	"go.uber.org/zap"
)

func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")

	api.POST("/auth/send-code", s.handleSendCode)
	api.POST("/auth/sign-in", s.handleSignIn)

	api.POST("/session/connect", s.handleSessionConnect)
	api.POST("/session/disconnect", s.handleSessionDisconnect)
	api.GET("/session/status", s.handleSessionStatus)

	api.GET("/groups", s.handleListGroups)
	api.GET("/groups/search", s.handleSearchGroups)
	api.GET("/groups/info", s.handleGroupInfo)
	api.POST("/groups/join", s.handleJoinGroup)
	api.POST("/groups/leave", s.handleLeaveGroup)
	api.GET("/groups/messages", s.handleGroupMessages)

	api.POST("/monitor/start", s.handleMonitorStart)
	api.POST("/monitor/stop", s.handleMonitorStop)
	api.GET("/monitor/status", s.handleMonitorStatus)

	api.GET("/alerts", s.handleListAlerts)
	api.POST("/alerts/read", s.handleMarkRead)
	api.POST("/alerts/reply", s.handleReply)

	api.POST("/messages/send", s.handleSendMessage)
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}

type userJSON struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	Name      string `json:"name"`
}

func toUserJSON(u tg.User) userJSON {
	return userJSON{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		Name:      u.DisplayName(),
	}
}

func (s *Server) handleSendCode(c *gin.Context) {
	var req struct {
		Phone string `json:"phone" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "phone is required")
		return
	}

	ctx, cancel := s.opCtx(c)
	defer cancel()

	hash, err := s.flow.SendCode(ctx, req.Phone)
	if err != nil {
		s.logger.Warn("send code failed", zap.String("phone", req.Phone), zap.Error(err))
		fail(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"code_hash": hash})
}

func (s *Server) handleSignIn(c *gin.Context) {
	var req struct {
		Phone    string `json:"phone" binding:"required"`
		Code     string `json:"code" binding:"required"`
		CodeHash string `json:"code_hash"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "phone and code are required")
		return
	}

	ctx, cancel := s.opCtx(c)
	defer cancel()

	res, err := s.flow.SignIn(ctx, req.Phone, req.Code, req.CodeHash, req.Password)
	switch {
	case errors.Is(err, auth.ErrTwoFactorRequired):
		c.JSON(http.StatusOK, gin.H{"two_factor_required": true})
		return
	case errors.Is(err, auth.ErrCodeExpired):
		fail(c, http.StatusConflict, err.Error())
		return
	case err != nil:
		fail(c, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.mon.Rebind(); err != nil {
		s.logger.Warn("rebinding monitor after sign-in", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{
		"signed_in": true,
		"user":      toUserJSON(res.Identity),
	})
}

// handleSessionConnect restores the most recently stored session.
func (s *Server) handleSessionConnect(c *gin.Context) {
	cred, err := s.db.LatestCredential()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if cred == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "needs_login": true})
		return
	}

	ctx, cancel := s.opCtx(c)
	defer cancel()

	res := s.flow.ConnectWithSession(ctx, cred.SessionCipher)
	if res.Connected {
		if err := s.mon.Rebind(); err != nil {
			s.logger.Warn("rebinding monitor after reconnect", zap.Error(err))
		}
	}
	out := gin.H{
		"connected":   res.Connected,
		"needs_login": res.NeedsLogin,
	}
	if res.Error != "" {
		out["error"] = res.Error
	}
	if res.Identity != nil {
		out["user"] = toUserJSON(*res.Identity)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSessionDisconnect(c *gin.Context) {
	s.mon.Stop()
	s.cm.Disconnect()
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	out := gin.H{
		"state":     string(s.machine.Current()),
		"connected": s.cm.IsConnected(),
	}
	if conn, err := s.cm.Current(); err == nil {
		ctx, cancel := s.opCtx(c)
		defer cancel()
		if me, err := conn.Me(ctx); err == nil {
			out["user"] = toUserJSON(*me)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListGroups(c *gin.Context) {
	ctx, cancel := s.opCtx(c)
	defer cancel()

	groups, err := s.dir.ListMyGroups(ctx, queryInt(c, "limit"))
	if err != nil {
		fail(c, connErrStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (s *Server) handleSearchGroups(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		fail(c, http.StatusBadRequest, "q is required")
		return
	}

	ctx, cancel := s.opCtx(c)
	defer cancel()

	groups, err := s.dir.SearchGroups(ctx, query, queryInt(c, "limit"))
	if err != nil {
		fail(c, connErrStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (s *Server) handleGroupInfo(c *gin.Context) {
	ref := c.Query("ref")
	if ref == "" {
		fail(c, http.StatusBadRequest, "ref is required")
		return
	}

	ctx, cancel := s.opCtx(c)
	defer cancel()

	g, err := s.dir.GetGroupInfo(ctx, ref)
	if err != nil {
		fail(c, connErrStatus(err), err.Error())
		return
	}
	if g == nil {
		fail(c, http.StatusNotFound, "group not found")
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) handleJoinGroup(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "username is required")
		return
	}

	ctx, cancel := s.opCtx(c)
	defer cancel()

	res := s.dir.JoinGroup(ctx, req.Username)
	out := gin.H{"success": res.Success}
	if res.Group != nil {
		out["group"] = res.Group
	}
	if res.Error != "" {
		out["error"] = res.Error
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleLeaveGroup(c *gin.Context) {
	var req struct {
		GroupID string `json:"group_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "group_id is required")
		return
	}
	id, err := strconv.ParseInt(req.GroupID, 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "group_id must be numeric")
		return
	}

	ctx, cancel := s.opCtx(c)
	defer cancel()

	c.JSON(http.StatusOK, gin.H{"success": s.dir.LeaveGroup(ctx, id)})
}

func (s *Server) handleGroupMessages(c *gin.Context) {
	gid, err := strconv.ParseInt(c.Query("group_id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "group_id must be numeric")
		return
	}

	ctx, cancel := s.opCtx(c)
	defer cancel()

	var msgs []tg.Message
	if q := c.Query("q"); q != "" {
		msgs, err = s.dir.SearchMessages(ctx, gid, q, queryInt(c, "limit"))
	} else {
		msgs, err = s.dir.GetRecentMessages(ctx, gid, queryInt(c, "limit"))
	}
	if err != nil {
		fail(c, connErrStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleMonitorStart(c *gin.Context) {
	var req struct {
		Groups []struct {
			ID        string   `json:"id" binding:"required"`
			Keywords  []string `json:"keywords"`
			AutoReply string   `json:"auto_reply"`
		} `json:"groups" binding:"required"`
		DefaultKeywords []string `json:"default_keywords"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "groups are required")
		return
	}

	groups := make([]monitor.GroupConfig, 0, len(req.Groups))
	for _, g := range req.Groups {
		groups = append(groups, monitor.GroupConfig{ID: g.ID, Keywords: g.Keywords, AutoReply: g.AutoReply})
	}
	defaults := req.DefaultKeywords
	if len(defaults) == 0 {
		defaults = s.cfg.DefaultKeywords
	}

	if err := s.mon.Start(groups, defaults); err != nil {
		fail(c, connErrStatus(err), err.Error())
		return
	}
	if err := s.machine.Transition(status.Monitoring); err != nil {
		s.logger.Debug("state transition", zap.Error(err))
	}
	c.JSON(http.StatusOK, s.mon.Status())
}

func (s *Server) handleMonitorStop(c *gin.Context) {
	s.mon.Stop()
	if err := s.machine.Transition(status.Authenticated); err != nil {
		s.logger.Debug("state transition", zap.Error(err))
	}
	c.JSON(http.StatusOK, s.mon.Status())
}

func (s *Server) handleMonitorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.mon.Status())
}

func (s *Server) handleListAlerts(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true" || c.Query("unread") == "1"

	alerts, err := s.db.ListAlerts(unreadOnly, queryInt(c, "limit"))
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	var req struct {
		GroupID   string `json:"group_id" binding:"required"`
		MessageID int    `json:"message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "group_id and message_id are required")
		return
	}

	ok, err := s.db.MarkRead(req.GroupID, req.MessageID)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		fail(c, http.StatusNotFound, "alert not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

func (s *Server) handleReply(c *gin.Context) {
	var req struct {
		GroupID   string `json:"group_id" binding:"required"`
		MessageID int    `json:"message_id" binding:"required"`
		Text      string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "group_id, message_id and text are required")
		return
	}

	ctx, cancel := s.opCtx(c)
	defer cancel()

	res := s.disp.ReplyToMessage(ctx, req.GroupID, req.MessageID, req.Text)
	out := gin.H{
		"success":       res.Success,
		"alert_updated": res.AlertUpdated,
	}
	if res.Success {
		out["message_id"] = res.MessageID
	}
	if res.Error != "" {
		out["error"] = res.Error
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req struct {
		GroupID string `json:"group_id" binding:"required"`
		Text    string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "group_id and text are required")
		return
	}

	ctx, cancel := s.opCtx(c)
	defer cancel()

	res := s.disp.SendMessage(ctx, req.GroupID, req.Text)
	out := gin.H{"success": res.Success}
	if res.Success {
		out["message_id"] = res.MessageID
	}
	if res.Error != "" {
		out["error"] = res.Error
	}
	c.JSON(http.StatusOK, out)
}

func queryInt(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return n
}

// connErrStatus maps a directory/transport error to an HTTP status:
// "not connected" is the caller's problem, everything else is upstream.
func connErrStatus(err error) int {
	if errors.Is(err, conn.ErrNoActiveConnection) {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}
