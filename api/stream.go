package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// streamBoardEvents serves a board's real-time channel over SSE. Browsers
// cannot set headers on EventSource requests, so a token query parameter is
// accepted in place of the Authorization header.
func streamBoardEvents(auth Authenticator, hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		if _, err := auth.IdentityFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := c.Request().Context()
		ch := hub.Subscribe(boardID)
		defer hub.Unsubscribe(boardID, ch)
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-ch:
				if _, err := c.Response().Write([]byte("event: " + ev.Name + "\ndata: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(ev.Data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
