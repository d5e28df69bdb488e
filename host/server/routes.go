package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gocraft/web"
	"github.com/google/uuid"

	"millstep/standalone"
)

// Context is a group of resources used for handling requests
type Context struct {
	App *App
}

type gcodeRequest struct {
	GCode string `json:"gcode"`
}

type jobResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter returns the HTTP handler for app
func NewRouter(app *App) *web.Router {
	router := web.New(Context{}).
		Middleware(injectApp(app)).
		Middleware(logRequests)
	return AttachRoutes(router)
}

// AttachRoutes attaches the machine routes to a provided router
func AttachRoutes(router *web.Router) *web.Router {
	return router.
		Post("/gcode", handleGCode).
		Post("/simulate", handleSimulate).
		Post("/initialize", handleInitialize).
		Post("/abort", handleAbort).
		Post("/get_logs", handleGetLogs).
		Get("/get_logs", handleGetLogs)
}

func injectApp(app *App) func(*Context, web.ResponseWriter, *web.Request, web.NextMiddlewareFunc) {
	return func(ctx *Context, rw web.ResponseWriter, req *web.Request, next web.NextMiddlewareFunc) {
		ctx.App = app
		next(rw, req)
	}
}

func logRequests(ctx *Context, rw web.ResponseWriter, req *web.Request, next web.NextMiddlewareFunc) {
	start := time.Now()
	next(rw, req)
	ctx.App.logger.Debug("request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", rw.StatusCode(),
		"elapsed", time.Since(start))
}

func writeJSON(rw web.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw web.ResponseWriter, status int, err error) {
	writeJSON(rw, status, errorResponse{Error: err.Error()})
}

func decodeGCode(req *web.Request) (string, error) {
	var body gcodeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return "", errors.New("expected a JSON body with a gcode field")
	}
	return body.GCode, nil
}

// submitStatus maps worker lifecycle errors to HTTP statuses
func submitStatus(err error) int {
	if errors.Is(err, standalone.ErrWorkerKilled) || errors.Is(err, standalone.ErrNotStarted) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func handleGCode(ctx *Context, rw web.ResponseWriter, req *web.Request) {
	text, err := decodeGCode(req)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	id, err := ctx.App.Worker().SendGCode(text)
	if err != nil {
		writeError(rw, submitStatus(err), err)
		return
	}
	writeJSON(rw, http.StatusOK, jobResponse{JobID: id})
}

func handleInitialize(ctx *Context, rw web.ResponseWriter, req *web.Request) {
	id, err := ctx.App.Worker().SendInitialize()
	if err != nil {
		writeError(rw, submitStatus(err), err)
		return
	}
	writeJSON(rw, http.StatusOK, jobResponse{JobID: id})
}

func handleAbort(ctx *Context, rw web.ResponseWriter, req *web.Request) {
	if err := ctx.App.Abort(); err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "aborted"})
}

func handleGetLogs(ctx *Context, rw web.ResponseWriter, req *web.Request) {
	writeJSON(rw, http.StatusOK, ctx.App.GetLogs())
}

func handleSimulate(ctx *Context, rw web.ResponseWriter, req *web.Request) {
	text, err := decodeGCode(req)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	moves, err := standalone.Simulate(req.Context(), text, ctx.App.defaultFeed, ctx.App.rapidFeed)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	writeJSON(rw, http.StatusOK, moves)
}
