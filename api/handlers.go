package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/storage"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, watcher Listener, hub *Hub, logger *log.Logger) {
	e.GET("/healthz", healthz())

	e.GET("/listen/:boardId", listenBoard(watcher))
	e.GET("/api/boards/:boardId/events", streamBoardEvents(auth, hub))

	e.GET("/api/boards/paged", getBoardsPaged(store, auth, logger))
	e.POST("/api/boards", createBoard(store, auth))
	e.GET("/api/boards/:boardId", getBoard(store, auth))
	e.DELETE("/api/boards/:boardId", deleteBoard(store, auth))
	e.POST("/api/boards/:boardId/invite", inviteMembers(store, auth))
	e.DELETE("/api/boards/:boardId/members/:memberId", removeMember(store, auth))

	e.GET("/api/boards/:boardId/columns", getColumns(store, auth))
	e.POST("/api/boards/:boardId/columns/:colId", upsertColumn(store, auth))

	e.GET("/api/boards/:boardId/columns/:colId/tasks", getTasks(store, auth))
	e.POST("/api/boards/:boardId/columns/:colId/tasks", createTask(store, auth))
	e.PATCH("/api/boards/:boardId/columns/:colId/tasks/:taskId", updateTask(store, auth))
	e.DELETE("/api/boards/:boardId/columns/:colId/tasks/:taskId", deleteTask(store, auth))

	e.GET("/profile", getProfile(store, auth))
	e.POST("/api/profile/updateName", updateDisplayName(store, auth))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func callerIdentity(c echo.Context, auth Authenticator) (domain.Identity, error) {
	return auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// storeFail maps storage errors onto client responses: a missing document is
// the caller's problem, anything else is ours and gets logged.
func storeFail(c echo.Context, err error, notFoundMsg string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: notFoundMsg})
	}
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "storage failure"})
}

func listenBoard(watcher Listener) echo.HandlerFunc {
	return func(c echo.Context) error {
		boardID := c.Param("boardId")
		if err := watcher.Listen(c.Request().Context(), boardID); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to start listening"})
		}
		return c.String(http.StatusOK, "Listening to changes for boardId: "+boardID)
	}
}

type boardsPageResponse struct {
	Boards         []domain.Board `json:"boards"`
	NextPageCursor *int64         `json:"nextPageCursor"`
}

func getBoardsPaged(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardPageMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		ident, authErr := callerIdentity(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		limit := defaultBoardPageSize
		if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
			parsed, parseErr := strconv.Atoi(raw)
			if parseErr != nil || parsed <= 0 {
				metrics.SetErrorStage("invalid_limit")
				err = c.String(http.StatusBadRequest, "invalid limit")
				return err
			}
			limit = parsed
		}

		startAfter, provided := decodeBoardCursor(c.QueryParam("startAfter"))
		metrics.SetCursorProvided(provided)

		fetchStart := time.Now()
		boards, fetchErr := store.FetchBoardsPage(ctx, ident.Subject, startAfter, limit)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetBoardsReturned(len(boards))

		resp := boardsPageResponse{Boards: boards}
		// A short page is terminal even when more boards happen to exist;
		// only an exactly-full page advertises a next cursor.
		if len(boards) == limit {
			if cursor, ok := encodeBoardCursor(boards[len(boards)-1]); ok {
				metrics.SetHasNextPage(true)
				resp.NextPageCursor = &cursor
			}
		}

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

type createBoardRequest struct {
	Name         string   `json:"name"`
	InvitedUsers []string `json:"invitedUsers"`
}

func createBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ident, err := callerIdentity(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.Name == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "Board name is required."})
		}

		members := make([]string, 0, len(req.InvitedUsers))
		invalidEmails := []string{}
		for _, email := range req.InvitedUsers {
			u, err := store.LookupUserByEmail(ctx, email)
			if errors.Is(err, storage.ErrNotFound) {
				invalidEmails = append(invalidEmails, email)
				continue
			}
			if err != nil {
				return storeFail(c, err, "Board not found.")
			}
			members = append(members, u.ID)
		}
		if len(invalidEmails) > 0 {
			return c.JSON(http.StatusBadRequest, map[string]any{
				"error":         "Some emails are invalid.",
				"invalidEmails": invalidEmails,
			})
		}

		b, err := store.CreateBoard(ctx, req.Name, ident.Subject, members)
		if err != nil {
			return storeFail(c, err, "Board not found.")
		}
		return c.JSON(http.StatusCreated, b)
	}
}

type boardDetails struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	OwnerID   string        `json:"ownerId"`
	CreatedAt int64         `json:"createdAt"`
	Members   []domain.User `json:"members"`
}

func getBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := callerIdentity(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		b, err := store.FetchBoard(ctx, c.Param("boardId"))
		if err != nil {
			return storeFail(c, err, "Board not found.")
		}

		details := boardDetails{
			ID:        b.ID,
			Name:      b.Name,
			OwnerID:   b.OwnerID,
			CreatedAt: b.CreatedAt,
			Members:   []domain.User{},
		}
		for _, subject := range b.Members {
			u, err := store.FetchUser(ctx, subject)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return storeFail(c, err, "Board not found.")
			}
			details.Members = append(details.Members, u)
		}
		return c.JSON(http.StatusOK, details)
	}
}

func deleteBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ident, err := callerIdentity(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		b, err := store.FetchBoard(ctx, boardID)
		if err != nil {
			return storeFail(c, err, "Board not found.")
		}
		if b.OwnerID != ident.Subject {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "You are not the owner of this board."})
		}
		if err := store.DeleteBoard(ctx, b); err != nil {
			return storeFail(c, err, "Board not found.")
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "Board " + boardID + " deleted."})
	}
}

type inviteRequest struct {
	Emails []string `json:"emails"`
}

type inviteResponse struct {
	Message        string   `json:"message"`
	ValidEmails    []string `json:"validEmails"`
	AlreadyMembers []string `json:"alreadyMembers"`
	InvalidEmails  []string `json:"invalidEmails"`
}

func inviteMembers(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := callerIdentity(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req inviteRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if len(req.Emails) == 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "No emails provided."})
		}

		b, err := store.FetchBoard(ctx, c.Param("boardId"))
		if err != nil {
			return storeFail(c, err, "Board not found.")
		}

		resp := inviteResponse{
			Message:        "Invite processed.",
			ValidEmails:    []string{},
			AlreadyMembers: []string{},
			InvalidEmails:  []string{},
		}
		subjects := []string{}
		for _, email := range req.Emails {
			u, err := store.LookupUserByEmail(ctx, email)
			if errors.Is(err, storage.ErrNotFound) {
				c.Logger().Warnf("user not found for email: %s", email)
				resp.InvalidEmails = append(resp.InvalidEmails, email)
				continue
			}
			if err != nil {
				return storeFail(c, err, "Board not found.")
			}
			if b.HasMember(u.ID) {
				resp.AlreadyMembers = append(resp.AlreadyMembers, email)
				continue
			}
			resp.ValidEmails = append(resp.ValidEmails, email)
			subjects = append(subjects, u.ID)
		}

		if len(subjects) > 0 {
			if _, err := store.AddMembers(ctx, b.ID, subjects); err != nil {
				return storeFail(c, err, "Board not found.")
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func removeMember(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := callerIdentity(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		memberID := c.Param("memberId")
		if _, err := store.RemoveMember(ctx, boardID, memberID); err != nil {
			return storeFail(c, err, "Board not found.")
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "Member " + memberID + " removed successfully."})
	}
}

func getColumns(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := callerIdentity(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		columns, err := store.FetchColumns(ctx, c.Param("boardId"))
		if err != nil {
			return storeFail(c, err, "Board not found.")
		}
		return c.JSON(http.StatusOK, columns)
	}
}

func upsertColumn(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := callerIdentity(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var patch domain.ColumnPatch
		if err := decodeBody(c, &patch); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		col, created, err := store.UpsertColumn(ctx, c.Param("boardId"), c.Param("colId"), patch)
		if err != nil {
			return storeFail(c, err, "Board not found.")
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return c.JSON(status, col)
	}
}

func getTasks(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := callerIdentity(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		tasks, err := store.FetchTasks(ctx, c.Param("boardId"), c.Param("colId"))
		if err != nil {
			return storeFail(c, err, "Column not found.")
		}
		return c.JSON(http.StatusOK, tasks)
	}
}

type createTaskRequest struct {
	Title string `json:"title"`
	Order *int   `json:"order"`
}

func createTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := callerIdentity(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.Title == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "Task title is required."})
		}
		order := 0
		if req.Order != nil {
			order = *req.Order
		}
		t, err := store.CreateTask(ctx, c.Param("boardId"), c.Param("colId"), req.Title, order)
		if err != nil {
			return storeFail(c, err, "Column not found.")
		}
		return c.JSON(http.StatusCreated, t)
	}
}

func updateTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := callerIdentity(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if patch.IsEmpty() {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "No fields to update."})
		}
		t, err := store.UpdateTask(ctx, c.Param("boardId"), c.Param("colId"), c.Param("taskId"), patch)
		if err != nil {
			return storeFail(c, err, "Task not found.")
		}
		return c.JSON(http.StatusOK, t)
	}
}

func deleteTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := callerIdentity(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		taskID := c.Param("taskId")
		if err := store.DeleteTask(ctx, c.Param("boardId"), c.Param("colId"), taskID); err != nil {
			return storeFail(c, err, "Task not found.")
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "Task " + taskID + " deleted."})
	}
}

func getProfile(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ident, err := callerIdentity(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		u, err := store.FetchUser(ctx, ident.Subject)
		if errors.Is(err, storage.ErrNotFound) {
			if err := store.EnsureUser(ctx, ident); err != nil {
				return storeFail(c, err, "Profile not found.")
			}
			u = domain.User{ID: ident.Subject, Email: ident.Email}
		} else if err != nil {
			return storeFail(c, err, "Profile not found.")
		}
		return c.JSON(http.StatusOK, u)
	}
}

type updateNameRequest struct {
	DisplayName string `json:"displayName"`
}

func updateDisplayName(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ident, err := callerIdentity(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req updateNameRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.DisplayName == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "Display name is required."})
		}
		if err := store.EnsureUser(ctx, ident); err != nil {
			return storeFail(c, err, "Profile not found.")
		}
		u, err := store.UpdateDisplayName(ctx, ident.Subject, req.DisplayName)
		if err != nil {
			return storeFail(c, err, "Profile not found.")
		}
		return c.JSON(http.StatusOK, u)
	}
}
