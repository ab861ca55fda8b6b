package api

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// UpdateBroker fans board change signals out to connected SSE subscribers,
// keyed by site. Notify is typically driven by the redis push channel.
type UpdateBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewUpdateBroker() *UpdateBroker {
	return &UpdateBroker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *UpdateBroker) subscribe(site string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs[site] == nil {
		b.subs[site] = make(map[chan struct{}]struct{})
	}
	b.subs[site][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *UpdateBroker) unsubscribe(site string, ch chan struct{}) {
	b.mu.Lock()
	if subs := b.subs[site]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subs, site)
		}
	}
	b.mu.Unlock()
}

// Notify wakes every subscriber watching the site. Signals coalesce: a
// subscriber that has not yet drained its pending signal receives one.
func (b *UpdateBroker) Notify(site string) {
	b.mu.Lock()
	for ch := range b.subs[site] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// RegisterStream wires up the SSE endpoint on the given Echo instance.
func RegisterStream(e *echo.Echo, sessions Sessions, auth Authenticator, broker *UpdateBroker) {
	e.GET("/api/stream", streamBoard(sessions, auth, broker))
}

func streamBoard(sessions Sessions, auth Authenticator, broker *UpdateBroker) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		if _, err := auth.UserIDFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		site, ok := siteFromQuery(c)
		if !ok {
			return c.String(http.StatusBadRequest, "missing site")
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		board, err := sessions.Board(ctx, site)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		ch := broker.subscribe(site)
		defer broker.unsubscribe(site, ch)
		for {
			data, err := sonic.ConfigStd.Marshal(board.Snapshot())
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write([]byte("id: " + strconv.FormatInt(nextTimestamp(), 10) + "\n")); err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write(data); err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				c.Logger().Error(err)
				return err
			}
			flusher.Flush()
			select {
			case <-ctx.Done():
				return nil
			case <-ch:
				continue
			}
		}
	}
}
