// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package offline

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/yomira-reader/internal/library"
	requestutil "github.com/taibuivan/yomira-reader/internal/platform/request"
	"github.com/taibuivan/yomira-reader/internal/platform/respond"
	"github.com/taibuivan/yomira-reader/internal/platform/validate"
)

const paramBookID = "bookID"

// # Handler Implementation

// Handler exposes offline downloads over HTTP.
type Handler struct {
	manager *Manager
	catalog library.Catalog
}

// NewHandler constructs an offline [Handler]. The catalog supplies page counts.
func NewHandler(manager *Manager, catalog library.Catalog) *Handler {
	return &Handler{manager: manager, catalog: catalog}
}

// RegisterRoutes attaches the offline endpoints to the API router.
func (handler *Handler) RegisterRoutes(api chi.Router) {
	api.Route("/offline/books", func(router chi.Router) {
		router.Get("/", handler.List)

		router.Route("/{bookID}", func(book chi.Router) {
			book.Get("/", handler.Status)
			book.Post("/", handler.Start)
			book.Delete("/", handler.Remove)
			book.Post("/cancel", handler.Cancel)
		})
	})
}

/*
GET /api/v1/offline/books.

Response:
  - 200: []Status
  - 503: Offline mode unsupported
*/
func (handler *Handler) List(writer http.ResponseWriter, request *http.Request) {
	statuses, err := handler.manager.List(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, statuses)
}

/*
GET /api/v1/offline/books/{bookID}.

Response:
  - 200: Status ("idle" for a book never downloaded)
*/
func (handler *Handler) Status(writer http.ResponseWriter, request *http.Request) {
	bookID, err := bookParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	status, err := handler.manager.Status(request.Context(), bookID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, status)
}

/*
POST /api/v1/offline/books/{bookID}.

Description: Starts or resumes a download. Progress is polled with GET.

Response:
  - 202: Status
  - 404: Book not found
  - 409: Download already running
*/
func (handler *Handler) Start(writer http.ResponseWriter, request *http.Request) {
	bookID, err := bookParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	book, err := handler.catalog.FindBook(request.Context(), bookID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	status, err := handler.manager.Start(request.Context(), book.ID, book.PagesCount)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Accepted(writer, status)
}

/*
POST /api/v1/offline/books/{bookID}/cancel.

Response:
  - 200: Status ("idle")
  - 409: Not downloading
*/
func (handler *Handler) Cancel(writer http.ResponseWriter, request *http.Request) {
	bookID, err := bookParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	status, err := handler.manager.Cancel(request.Context(), bookID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, status)
}

/*
DELETE /api/v1/offline/books/{bookID}.

Response:
  - 204: Removed
*/
func (handler *Handler) Remove(writer http.ResponseWriter, request *http.Request) {
	bookID, err := bookParam(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.manager.Remove(request.Context(), bookID); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

func bookParam(request *http.Request) (string, error) {
	bookID := requestutil.Param(request, paramBookID)

	validator := &validate.Validator{}
	validator.Required("book_id", bookID)
	if err := validator.Err(); err != nil {
		return "", err
	}
	return bookID, nil
}
