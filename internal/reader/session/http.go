// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package session

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/yomira-reader/internal/platform/ctxutil"
	requestutil "github.com/taibuivan/yomira-reader/internal/platform/request"
	"github.com/taibuivan/yomira-reader/internal/platform/respond"
	"github.com/taibuivan/yomira-reader/internal/platform/validate"
	"github.com/taibuivan/yomira-reader/internal/reader/pagecache"
	"github.com/taibuivan/yomira-reader/internal/reader/prefetch"
)

const (
	paramSessionID = "sessionID"
	paramPage      = "page"
	fieldDropped   = "dropped"
	fieldScheduled = "scheduled"
)

// # Handler Implementation

// Handler exposes reading sessions over HTTP.
type Handler struct {
	manager *Manager
}

// NewHandler constructs a session [Handler].
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes attaches the session endpoints to the API router.
func (handler *Handler) RegisterRoutes(api chi.Router) {
	api.Route("/sessions", func(router chi.Router) {
		router.Post("/", handler.Open)

		router.Route("/{sessionID}", func(session chi.Router) {
			session.Use(scope)
			session.Get("/", handler.Describe)
			session.Delete("/", handler.CloseSession)
			session.Post("/navigate", handler.Navigate)
			session.Get("/pages/{page}", handler.PageURL)
			session.Post("/pages/{page}/reload", handler.Reload)
			session.Post("/prefetch", handler.Prefetch)
			session.Post("/invalidate", handler.Invalidate)
			session.Put("/options", handler.UpdateOptions)
		})
	})
}

// # Session Lifecycle

type openRequest struct {
	BookID  string            `json:"book_id"`
	Options *prefetch.Options `json:"options,omitempty"`
}

type sessionResponse struct {
	ID          string           `json:"id"`
	BookID      string           `json:"book_id"`
	CurrentPage int              `json:"current_page"`
	CachedPages []int            `json:"cached_pages"`
	Options     prefetch.Options `json:"options"`
}

/*
POST /api/v1/sessions.

Description: Opens a reading session for a book.

Request:
  - body: openRequest

Response:
  - 201: sessionResponse
  - 400: ErrInvalidJSON/Validation
*/
func (handler *Handler) Open(writer http.ResponseWriter, request *http.Request) {
	var input openRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	session, err := handler.manager.Create(request.Context(), input.BookID, input.Options)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, describe(session))
}

/*
GET /api/v1/sessions/{sessionID}.

Response:
  - 200: sessionResponse
  - 404: Session not found
*/
func (handler *Handler) Describe(writer http.ResponseWriter, request *http.Request) {
	session, err := handler.session(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, describe(session))
}

/*
DELETE /api/v1/sessions/{sessionID}.

Description: Flushes reading progress and releases every page URL.

Response:
  - 204: Closed
  - 404: Session not found
*/
func (handler *Handler) CloseSession(writer http.ResponseWriter, request *http.Request) {
	if err := handler.manager.Close(request.Context(), requestutil.Param(request, paramSessionID)); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// # Reading Operations

type navigateRequest struct {
	Page int `json:"page"`
}

/*
POST /api/v1/sessions/{sessionID}/navigate.

Request:
  - body: {"page": int}

Response:
  - 200: View
  - 400: Page out of range
  - 503: Book metadata not ready
*/
func (handler *Handler) Navigate(writer http.ResponseWriter, request *http.Request) {
	session, err := handler.session(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input navigateRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	view, err := session.Navigate(request.Context(), input.Page)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, view)
}

/*
GET /api/v1/sessions/{sessionID}/pages/{page}.

Description: Returns a renderable URL: a Blob URL when the page could be
fetched, the direct library URL otherwise.

Response:
  - 200: {"page": int, "url": string}
*/
func (handler *Handler) PageURL(writer http.ResponseWriter, request *http.Request) {
	session, page, err := handler.sessionPage(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	url, err := session.PageURL(request.Context(), page)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, PageView{Page: page, URL: url})
}

/*
POST /api/v1/sessions/{sessionID}/pages/{page}/reload.

Description: Refetches a stuck page around every cache and swaps its URL.

Response:
  - 200: {"page": int, "url": string}
  - 502: Library failure; the previous URL stays valid
*/
func (handler *Handler) Reload(writer http.ResponseWriter, request *http.Request) {
	session, page, err := handler.sessionPage(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	url, err := session.Reload(request.Context(), page)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, PageView{Page: page, URL: url})
}

type prefetchRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

/*
POST /api/v1/sessions/{sessionID}/prefetch.

Request:
  - body: {"from": int, "to": int}

Response:
  - 202: {"scheduled": int}
*/
func (handler *Handler) Prefetch(writer http.ResponseWriter, request *http.Request) {
	session, err := handler.session(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input prefetchRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	scheduled, err := session.Prefetch(request.Context(), input.From, input.To)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Accepted(writer, map[string]int{fieldScheduled: scheduled})
}

type invalidateRequest struct {
	Scope string `json:"scope"`
	Page  int    `json:"page,omitempty"`
}

/*
POST /api/v1/sessions/{sessionID}/invalidate.

Request:
  - body: {"scope": "page"|"book"|"all", "page": int}

Response:
  - 200: {"dropped": int}
*/
func (handler *Handler) Invalidate(writer http.ResponseWriter, request *http.Request) {
	session, err := handler.session(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input invalidateRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	validator.OneOf("scope", input.Scope, string(pagecache.ScopeKindPage), string(pagecache.ScopeKindBook), string(pagecache.ScopeKindAll))
	if input.Scope == string(pagecache.ScopeKindPage) {
		validator.Positive(paramPage, input.Page)
	}
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	dropped := session.Invalidate(pagecache.Scope{Kind: pagecache.ScopeKind(input.Scope), Page: input.Page})
	respond.OK(writer, map[string]int{fieldDropped: dropped})
}

/*
PUT /api/v1/sessions/{sessionID}/options.

Request:
  - body: prefetch.Options

Response:
  - 200: prefetch.Options
*/
func (handler *Handler) UpdateOptions(writer http.ResponseWriter, request *http.Request) {
	session, err := handler.session(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input prefetch.Options
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	validator.Range("ahead", input.Ahead, 0, 32)
	validator.Range("behind", input.Behind, 0, 32)
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := session.SetOptions(request.Context(), input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, input)
}

// # Internal Helpers

// scope tags the request context and logger with the session id.
func scope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		id := requestutil.Param(request, paramSessionID)

		ctx := ctxutil.WithSessionID(request.Context(), id)
		ctx = ctxutil.WithLogger(ctx, ctxutil.GetLogger(ctx).With(slog.String("session_id", id)))

		next.ServeHTTP(writer, request.WithContext(ctx))
	})
}

func (handler *Handler) session(request *http.Request) (*Session, error) {
	return handler.manager.Get(ctxutil.GetSessionID(request.Context()))
}

func (handler *Handler) sessionPage(request *http.Request) (*Session, int, error) {
	session, err := handler.session(request)
	if err != nil {
		return nil, 0, err
	}
	page, err := requestutil.IntParam(request, paramPage)
	if err != nil {
		return nil, 0, err
	}
	return session, page, nil
}

func describe(session *Session) sessionResponse {
	cached := session.CachedPages()
	if cached == nil {
		cached = []int{}
	}
	return sessionResponse{
		ID:          session.ID,
		BookID:      session.BookID,
		CurrentPage: session.Current(),
		CachedPages: cached,
		Options:     session.Options(),
	}
}
