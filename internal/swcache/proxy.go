// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package swcache

import (
	"log/slog"
	"net/http"
	"net/http/httputil"

	"github.com/taibuivan/yomira-reader/internal/platform/apperr"
	"github.com/taibuivan/yomira-reader/internal/platform/respond"
)

// # Client Proxy

/*
Proxy returns a handler that forwards client requests to the library through
the worker.

Description: Reading clients point their image and shell requests at the
gateway; the worker strategies apply exactly as they do for page fetches made
by reading sessions.
*/
func (worker *Worker) Proxy() http.Handler {
	upstream := worker.Upstream()

	return &httputil.ReverseProxy{
		Rewrite: func(proxy *httputil.ProxyRequest) {
			proxy.SetURL(upstream)
			proxy.SetXForwarded()
		},
		Transport: worker,
		ErrorHandler: func(writer http.ResponseWriter, request *http.Request, err error) {
			worker.logger.WarnContext(request.Context(), "proxy_forward_failed",
				slog.String("path", request.URL.Path),
				slog.Any("error", err),
			)
			respond.Error(writer, request, apperr.BadGateway(err))
		},
	}
}
