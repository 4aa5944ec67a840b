package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/replydesk/internal/engine"
	"github.com/replydesk/internal/profiles"
	"github.com/replydesk/pkg/models"
)

type inboundRequest struct {
	UserID  int64                 `json:"user_id"`
	Message models.InboundMessage `json:"message"`
}

// handleInbound accepts one inbound email. With a job queue attached the
// message is enqueued and processed asynchronously; otherwise it runs
// through the pipeline inline.
func (s *Server) handleInbound(c echo.Context) error {
	var req inboundRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_payload", err.Error()))
	}

	ctx := c.Request().Context()

	if s.queue != nil {
		if err := s.queue.EnqueueInboundEmail(ctx, req.UserID, req.Message); err != nil {
			return c.JSON(http.StatusInternalServerError, errorBody("enqueue_failed", err.Error()))
		}
		return c.JSON(http.StatusAccepted, map[string]string{
			"status":     "queued",
			"message_id": req.Message.MessageID,
		})
	}

	out, err := s.engine.ProcessIncomingEmail(ctx, req.UserID, req.Message)
	if err != nil {
		return s.threadError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (s *Server) listPendingThreads(c echo.Context) error {
	userID, err := queryUserID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_user_id", err.Error()))
	}

	threads, err := s.engine.ListPending(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("list_failed", err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"threads": emptyIfNil(threads),
		"count":   len(threads),
	})
}

func (s *Server) listRecentThreads(c echo.Context) error {
	userID, err := queryUserID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_user_id", err.Error()))
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	threads, err := s.engine.ListRecent(c.Request().Context(), userID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("list_failed", err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"threads": emptyIfNil(threads),
		"count":   len(threads),
	})
}

func (s *Server) getThread(c echo.Context) error {
	thread, err := s.engine.GetThread(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.threadError(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

type approveRequest struct {
	Modifications string `json:"modifications"`
}

func (s *Server) approveThread(c echo.Context) error {
	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_payload", err.Error()))
	}

	thread, err := s.engine.Approve(c.Request().Context(), c.Param("id"), req.Modifications)
	if err != nil {
		return s.threadError(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

func (s *Server) rejectThread(c echo.Context) error {
	thread, err := s.engine.Reject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.threadError(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

func (s *Server) getPolicy(c echo.Context) error {
	userID, err := paramUserID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_user_id", err.Error()))
	}

	policy, err := s.engine.GetPolicy(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("policy_lookup_failed", err.Error()))
	}
	return c.JSON(http.StatusOK, policy)
}

func (s *Server) putPolicy(c echo.Context) error {
	userID, err := paramUserID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_user_id", err.Error()))
	}

	var policy models.UserReplyPolicy
	if err := c.Bind(&policy); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_payload", err.Error()))
	}
	policy.UserID = userID

	if err := s.engine.SetPolicy(c.Request().Context(), policy); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_policy", err.Error()))
	}
	return c.JSON(http.StatusOK, policy)
}

func (s *Server) listProfiles(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	list, err := s.profiles.List(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("list_failed", err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"profiles": list,
		"count":    len(list),
	})
}

func (s *Server) getProfile(c echo.Context) error {
	profile, err := s.profiles.GetByEmail(c.Request().Context(), c.Param("email"))
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("profile_not_found", err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, errorBody("lookup_failed", err.Error()))
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) upsertProfile(c echo.Context) error {
	var profile models.CounterpartProfile
	if err := c.Bind(&profile); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_payload", err.Error()))
	}
	profile.Email = c.Param("email")
	if !strings.Contains(profile.Email, "@") {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_email", "profile email is required"))
	}

	if err := s.profiles.Upsert(c.Request().Context(), &profile); err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("upsert_failed", err.Error()))
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) getStats(c echo.Context) error {
	if s.stats == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("stats_unavailable", "stats require a database connection"))
	}

	userID, err := paramUserID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_user_id", err.Error()))
	}

	days, _ := strconv.Atoi(c.QueryParam("days"))
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)

	summary, err := s.stats.Summarize(c.Request().Context(), userID, since)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("stats_failed", err.Error()))
	}
	return c.JSON(http.StatusOK, summary)
}

// threadError maps engine errors onto HTTP statuses
func (s *Server) threadError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return c.JSON(http.StatusBadRequest, errorBody("invalid_payload", err.Error()))
	case errors.Is(err, engine.ErrThreadNotFound):
		return c.JSON(http.StatusNotFound, errorBody("thread_not_found", err.Error()))
	case errors.Is(err, engine.ErrStateConflict):
		return c.JSON(http.StatusConflict, errorBody("already_resolved", err.Error()))
	case errors.Is(err, engine.ErrSendFailure):
		return c.JSON(http.StatusBadGateway, errorBody("send_failed", err.Error()))
	default:
		return c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
	}
}

func errorBody(code, message string) map[string]string {
	return map[string]string{"error": code, "message": message}
}

func paramUserID(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.Param("user_id"), 10, 64)
}

func queryUserID(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.QueryParam("user_id"), 10, 64)
}

func emptyIfNil(threads []*models.ReplyThread) []*models.ReplyThread {
	if threads == nil {
		return []*models.ReplyThread{}
	}
	return threads
}
