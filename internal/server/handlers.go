package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/cascade/internal/models"
	"github.com/ifuryst/cascade/internal/service"
	"github.com/ifuryst/cascade/internal/service/automation"
	"github.com/ifuryst/cascade/internal/service/ingest"
	"github.com/ifuryst/cascade/internal/service/store"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidTask), errors.Is(err, ingest.ErrMissingURL):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, automation.ErrNoAccount):
		return http.StatusNotFound
	case automation.IsDriverError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.Logger.Error(msg, zap.Error(err))
	} else {
		s.Logger.Warn(msg, zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (s *Server) handleWebhookArticle(c *gin.Context) {
	var item ingest.PushedItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload: " + err.Error()})
		return
	}

	result, err := s.Pipeline.Ingest(c.Request.Context(), item)
	if err != nil {
		s.fail(c, "Failed to ingest article", err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

func (s *Server) handleSync(c *gin.Context) {
	result, err := s.Pipeline.Sync(c.Request.Context())
	if err != nil {
		s.fail(c, "Failed to sync feed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type importHistoryRequest struct {
	AccountID string `json:"account_id"`
	Limit     int    `json:"limit"`
}

func (s *Server) handleImportHistory(c *gin.Context) {
	var req importHistoryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload: " + err.Error()})
			return
		}
	}

	result, err := s.Pipeline.ImportHistory(c.Request.Context(), req.AccountID, req.Limit)
	if err != nil {
		// Partial progress is still reported.
		s.Logger.Error("History import stopped early", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleRewriteVariants(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid article id"})
		return
	}
	count, err := strconv.Atoi(c.DefaultQuery("count", "1"))
	if err != nil || count < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a positive integer"})
		return
	}

	variants, err := s.Pipeline.RewriteVariants(c.Request.Context(), uint(id), count)
	if err != nil {
		s.fail(c, "Failed to rewrite article", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"article_id": id, "variants": variants})
}

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sync_interval_minutes": s.Scheduler.SyncInterval(),
		"sync_count":            s.Scheduler.SyncCount(),
		"sweep_running":         s.Scheduler.Sweeping(),
	})
}

type syncIntervalRequest struct {
	Minutes int `json:"minutes" binding:"required,min=1"`
}

func (s *Server) handleSetSyncInterval(c *gin.Context) {
	var req syncIntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be an integer >= 1"})
		return
	}

	if err := s.Scheduler.SetSyncInterval(c.Request.Context(), req.Minutes); err != nil {
		s.fail(c, "Failed to update sync interval", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sync_interval_minutes": s.Scheduler.SyncInterval(),
		"sync_count":            s.Scheduler.SyncCount(),
	})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var task models.PublishTask
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload: " + err.Error()})
		return
	}
	task.ID = 0
	task.Error = nil
	task.RemoteTaskID = nil

	if err := s.Publisher.CreateTask(c.Request.Context(), &task); err != nil {
		s.fail(c, "Failed to create task", err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleListTasks(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Query("user_id"), 10, 64)
	if err != nil || userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	tasks, total, err := s.Publisher.ListTasks(c.Request.Context(), uint(userID), page, pageSize)
	if err != nil {
		s.fail(c, "Failed to list tasks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": total, "page": page, "page_size": pageSize})
}

// handleChain validates the request and runs the chain in the background;
// the remote session takes far longer than a request should.
func (s *Server) handleChain(c *gin.Context) {
	var req service.ChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(c, "Invalid follow-chain", err)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.Publisher.PublishChain(ctx, req); err != nil {
			s.Logger.Error("Follow-chain aborted", zap.String("title", req.First.Title), zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "Follow-chain started", "follow_ups": len(req.FollowUps)})
}

type deleteRemoteRequest struct {
	UserID        uint   `json:"user_id" binding:"required"`
	AccountID     *uint  `json:"account_id"`
	Title         string `json:"title" binding:"required"`
	ContentPrefix string `json:"content_prefix"`
}

func (s *Server) handleDeleteRemoteTask(c *gin.Context) {
	var req deleteRemoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload: " + err.Error()})
		return
	}

	deleted, err := s.Publisher.DeleteRemote(c.Request.Context(), req.UserID, req.AccountID, req.Title, req.ContentPrefix)
	if err != nil {
		s.fail(c, "Failed to delete remote task", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) handleGetTask(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid task id"})
		return
	}

	task, err := s.Publisher.GetTask(c.Request.Context(), uint(id))
	if err != nil {
		s.fail(c, "Failed to get task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleDeleteArticles(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
		return
	}

	deleted, err := s.Articles.DeleteArticlesByAccount(c.Request.Context(), accountID)
	if err != nil {
		s.fail(c, "Failed to delete articles", err)
		return
	}
	s.Logger.Info("Deleted articles for source account", zap.String("account_id", accountID), zap.Int64("count", deleted))
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

type createAccountRequest struct {
	UserID     uint   `json:"user_id" binding:"required"`
	Name       string `json:"name"`
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	TOTPSecret string `json:"totp_secret"`
	IsDefault  bool   `json:"is_default"`
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload: " + err.Error()})
		return
	}

	account := &models.RemoteAccount{
		UserID:     req.UserID,
		Name:       req.Name,
		Username:   req.Username,
		Password:   req.Password,
		TOTPSecret: req.TOTPSecret,
		IsDefault:  req.IsDefault,
	}
	if err := s.Accounts.CreateAccount(c.Request.Context(), account); err != nil {
		s.fail(c, "Failed to create account", err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (s *Server) handleSetDefaultAccount(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
		return
	}
	userID, err := strconv.ParseUint(c.Query("user_id"), 10, 64)
	if err != nil || userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	if err := s.Accounts.SetDefault(c.Request.Context(), uint(userID), uint(id)); err != nil {
		s.fail(c, "Failed to set default account", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Default account updated"})
}
