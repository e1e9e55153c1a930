package handler

import (
	"github.com/julienschmidt/httprouter"
)

// Router bundles the classes-service handlers behind one
// contracts.Handler.
type Router struct {
	bookings *BookingHandler
	sessions *SessionHandler
}

func NewRouter(bookings *BookingHandler, sessions *SessionHandler) *Router {
	return &Router{
		bookings: bookings,
		sessions: sessions,
	}
}

func (rt *Router) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/bookings", rt.bookings.Create)
	router.GET("/api/v1/bookings", rt.bookings.GetAll)
	router.GET("/api/v1/bookings/id/:id", rt.bookings.GetByID)
	router.POST("/api/v1/bookings/id/:id/cancel", rt.bookings.Cancel)

	router.POST("/api/v1/sessions", rt.sessions.Create)
	router.GET("/api/v1/sessions/id/:id", rt.sessions.GetByID)
}
