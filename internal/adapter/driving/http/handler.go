package http

import (
	"net/http"

	"github.com/Wyydra/pulse/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/pulse/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handler struct {
	Session   *service.Session
	Hub       *ws.Hub
	StaticDir string
}

func NewHandler(session *service.Session, hub *ws.Hub, staticDir string) *Handler {
	return &Handler{
		Session:   session,
		Hub:       hub,
		StaticDir: staticDir,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoCache)

		r.Get("/state", h.getState)

		r.Post("/signaling/register", h.register)
		r.Post("/signaling/reconnect", h.reconnect)

		r.Post("/calls", h.callPeers)
		r.Delete("/calls", h.endAllCalls)
		r.Delete("/calls/{peerID}", h.hangUp)
		r.Post("/incoming/accept", h.acceptIncoming)
		r.Post("/incoming/reject", h.rejectIncoming)

		r.Post("/media/acquire", h.acquireMedia)
		r.Post("/media/mute", h.toggleMute)
		r.Post("/media/camera", h.toggleCamera)
		r.Post("/media/screen", h.toggleScreen)
		r.Get("/devices", h.listDevices)
		r.Post("/devices", h.selectDevice)

		r.Get("/chat", h.chatHistory)
		r.Post("/chat", h.sendChat)
		r.Post("/advice", h.advice)

		r.Post("/room", h.createRoom)
		r.Get("/room/invite", h.invite)
		r.Post("/room/join", h.joinRoom)
		r.Post("/room/leave", h.leaveRoom)

		r.Post("/mic", h.startMic)
		r.Delete("/mic", h.stopMic)
		r.Post("/mic/calibrate", h.calibrate)
		r.Post("/mic/test", h.startMicTest)
		r.Delete("/mic/test", h.stopMic)
		r.Put("/mic/settings", h.updateMicSettings)
	})

	r.Get("/ws", h.ServeWS)

	fs := http.FileServer(http.Dir(h.StaticDir))
	r.Handle("/*", fs)

	return r
}
