package handler

import (
	"github.com/julienschmidt/httprouter"
)

// StreamPathPrefix exempts the SSE endpoint from the request timeout.
const StreamPathPrefix = "/api/v1/instant-requests/stream"

// Router bundles the instant-service handlers behind one
// contracts.Handler.
type Router struct {
	requests *RequestHandler
	stream   *StreamHandler
}

func NewRouter(requests *RequestHandler, stream *StreamHandler) *Router {
	return &Router{
		requests: requests,
		stream:   stream,
	}
}

func (rt *Router) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/instant-requests", rt.requests.Create)
	router.GET("/api/v1/instant-requests/pending", rt.requests.ListPending)
	router.POST("/api/v1/instant-requests/id/:id/cancel", rt.requests.Cancel)
	router.POST("/api/v1/instant-requests/id/:id/accept", rt.requests.Accept)

	router.GET(StreamPathPrefix, rt.stream.Stream)
}
