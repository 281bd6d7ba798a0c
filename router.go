//----------------------------------------------------------------------
// This file is part of fundebazi.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// fundebazi is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// fundebazi is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package fundebazi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// number of requests the transport may queue before it blocks.
const maxPending = 8

// exchange is a request waiting to be serviced by the loop.
type exchange struct {
	w    http.ResponseWriter
	r    *http.Request
	done chan struct{}
}

// Router dispatches HTTP requests to handlers. The transport (an
// http.Server) hands requests over with ServeHTTP; they are executed
// one by one on the loop by ServeOne.
type Router struct {
	routes  *mux.Router
	pending chan *exchange
	waker   Waker
	buf     []byte // chunk buffer for uploads
	log     *slog.Logger
}

// NewRouter creates a router whose unknown routes redirect to "/".
// The waker (if not nil) is notified for every queued request.
func NewRouter(waker Waker, log *slog.Logger) *Router {
	rt := &Router{
		routes:  mux.NewRouter().SkipClean(true),
		pending: make(chan *exchange, maxPending),
		waker:   waker,
		buf:     make([]byte, uploadChunkSize),
		log:     log,
	}
	rt.NotFound(redirectHome)
	return rt
}

// Handle registers a handler for method and path. An empty method
// matches any method.
func (rt *Router) Handle(method, path string, h http.HandlerFunc) {
	route := rt.routes.HandleFunc(path, h)
	if method != "" {
		route.Methods(method)
	}
}

// HandleUpload registers a streaming upload on path (POST). The file in
// the multipart field is delivered chunk by chunk to body; when the body
// is consumed, done produces the response.
func (rt *Router) HandleUpload(path, field string, body UploadFunc, done http.HandlerFunc) {
	rt.Handle(http.MethodPost, path, func(w http.ResponseWriter, r *http.Request) {
		rt.stream(r, field, body)
		done(w, r)
	})
}

// NotFound sets the fallback for unknown paths and for known paths
// requested with an unsupported method.
func (rt *Router) NotFound(h http.HandlerFunc) {
	rt.routes.NotFoundHandler = h
	rt.routes.MethodNotAllowedHandler = h
}

// ServeHTTP queues the request for the loop and waits until it has
// been handled.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ex := &exchange{w: w, r: r, done: make(chan struct{})}
	select {
	case rt.pending <- ex:
	case <-r.Context().Done():
		return
	}
	if rt.waker != nil {
		rt.waker.Wake()
	}
	// the response writer belongs to the loop until done is closed
	<-ex.done
}

// ServeOne handles the next queued request (if any).
func (rt *Router) ServeOne() bool {
	select {
	case ex := <-rt.pending:
		rt.Dispatch(ex.w, ex.r)
		close(ex.done)
		return true
	default:
		return false
	}
}

// Dispatch runs the handler for the request on the calling goroutine.
func (rt *Router) Dispatch(w http.ResponseWriter, r *http.Request) {
	rt.log.Debug("request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote", r.RemoteAddr),
	)
	rt.routes.ServeHTTP(w, r)
}

// redirectHome sends the client to the control page.
func redirectHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Location", "/")
	w.WriteHeader(http.StatusFound)
}
