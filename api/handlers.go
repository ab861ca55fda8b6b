package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"dispatch-board/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, sessions Sessions, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.Use(DecompressRequests())
	e.GET("/api/board", getBoard(sessions, auth, logger))
	e.GET("/api/unscheduled", getUnscheduled(sessions, auth))
	e.POST("/api/moves", postMoves(sessions, auth, deduper))
	e.POST("/api/runs", postRuns(sessions, auth))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func siteFromQuery(c echo.Context) (string, bool) {
	site := c.QueryParam("site")
	return site, site != ""
}

func getBoard(sessions Sessions, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger)
		if spanCtx != nil {
			req := c.Request().WithContext(spanCtx)
			c.SetRequest(req)
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		site, ok := siteFromQuery(c)
		if !ok {
			metrics.SetErrorStage("missing_site")
			err = c.String(http.StatusBadRequest, "missing site")
			return err
		}
		metrics.SetSite(site)

		fetchStart := time.Now()
		board, sessionErr := sessions.Board(ctx, site)
		if sessionErr != nil {
			metrics.ObserveFetch(time.Since(fetchStart))
			metrics.SetErrorStage("session")
			c.Logger().Error(sessionErr)
			err = c.String(http.StatusInternalServerError, sessionErr.Error())
			return err
		}
		snap := board.Snapshot()
		metrics.ObserveFetch(time.Since(fetchStart))
		metrics.SetOrdersReturned(len(snap.Orders))
		metrics.SetRunsReturned(len(snap.Runs))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, snap)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getUnscheduled(sessions Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		site, ok := siteFromQuery(c)
		if !ok {
			return c.String(http.StatusBadRequest, "missing site")
		}
		board, err := sessions.Board(ctx, site)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, board.UnscheduledOrders())
	}
}

func postMoves(sessions Sessions, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		site, ok := siteFromQuery(c)
		if !ok {
			return c.String(http.StatusBadRequest, "missing site")
		}

		lr := io.LimitReader(c.Request().Body, postMovesMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		cmds := make([]moveCommand, 0, 4)
		if err := dec.Decode(&cmds); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		board, err := sessions.Board(ctx, site)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		keys := make([]string, 0, len(cmds))
		for i := range cmds {
			key := cmds[i].IdempotencyKey
			if key == "" {
				key = uuid.NewString()
			}
			keys = append(keys, key)

			fresh, dedupeErr := deduper.Add(ctx, site, key)
			if dedupeErr != nil {
				c.Logger().Errorf("dedupe check failed: %v", dedupeErr)
				return c.JSON(http.StatusInternalServerError, postMovesResponse{Error: "dedupe unavailable"})
			}
			if !fresh {
				continue
			}

			applyErr := applyMove(board, cmds[i])
			if applyErr != nil {
				if rerr := deduper.Remove(ctx, site, key); rerr != nil {
					c.Logger().Errorf("dedupe rollback failed: %v, key: %s", rerr, key)
				}
				if errors.Is(applyErr, domain.ErrUnknownOrder) || errors.Is(applyErr, domain.ErrUnknownRun) {
					// Stale client view; it must discard its state and re-hydrate.
					return c.JSON(http.StatusConflict, postMovesResponse{Error: applyErr.Error()})
				}
				return c.JSON(http.StatusBadRequest, postMovesResponse{Error: applyErr.Error()})
			}
		}

		return c.JSON(http.StatusAccepted, postMovesResponse{IdempotencyKeys: keys})
	}
}

var errInvalidTarget = errors.New("invalid move target")

// applyMove translates one move command into a board mutation. Assignment
// policy violations are dropped without effect, matching the controller's
// behavior for disallowed drops.
func applyMove(board Board, cmd moveCommand) error {
	switch cmd.Target.Kind {
	case targetCell:
		date, err := domain.ParseDate(cmd.Target.Date)
		if err != nil || cmd.Target.Resource == "" {
			return errInvalidTarget
		}
		if order, ok := board.Order(cmd.OrderID); ok && !domain.AllowedResource(order.Type, cmd.Target.Resource) {
			return nil
		}
		return board.MoveOrderToCell(cmd.OrderID, cmd.Target.Resource, date)
	case targetRun:
		if cmd.Target.RunID == "" {
			return errInvalidTarget
		}
		return board.MoveOrderToRun(cmd.OrderID, cmd.Target.RunID, cmd.Target.Index)
	case targetUnscheduled:
		return board.MoveOrderToUnscheduled(cmd.OrderID)
	default:
		return errInvalidTarget
	}
}

func postRuns(sessions Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		site, ok := siteFromQuery(c)
		if !ok {
			return c.String(http.StatusBadRequest, "missing site")
		}

		var req createRunRequest
		dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, postMovesMaxSize))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		date, err := domain.ParseDate(req.Date)
		if err != nil || req.Resource == "" {
			return c.String(http.StatusBadRequest, "invalid run cell")
		}

		board, err := sessions.Board(ctx, site)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		runID, err := board.CreateRun(req.Resource, date, req.Name)
		if err != nil {
			return c.String(http.StatusConflict, err.Error())
		}
		return c.JSON(http.StatusCreated, createRunResponse{RunID: runID})
	}
}
