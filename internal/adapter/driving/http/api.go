package http

import (
	"net/http"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type micDTO struct {
	Running  bool                 `json:"running"`
	Live     bool                 `json:"live"`
	Quality  domain.AudioQuality  `json:"quality"`
	Settings domain.AudioSettings `json:"settings"`
}

type stateDTO struct {
	domain.SessionSnapshot
	ScreenSharing bool          `json:"screen_sharing"`
	RoomID        domain.PeerID `json:"room_id,omitempty"`
	RoomHost      bool          `json:"room_host"`
	Mic           micDTO        `json:"mic"`
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	s := h.Session
	room, host := s.Rooms.Room()
	writeJSON(w, http.StatusOK, stateDTO{
		SessionSnapshot: s.Snapshot(),
		ScreenSharing:   s.Screen.Sharing(),
		RoomID:          room,
		RoomHost:        host,
		Mic: micDTO{
			Running:  s.Mic.Running(),
			Live:     s.Mic.Live(),
			Quality:  s.Mic.Quality(),
			Settings: s.Mic.Settings(),
		},
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Signaling.Register(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.Session.Signaling.Status())
}

func (h *Handler) reconnect(w http.ResponseWriter, r *http.Request) {
	h.Session.Signaling.Reconnect()
	writeJSON(w, http.StatusAccepted, h.Session.Signaling.Status())
}

type callRequest struct {
	Peers []domain.PeerID `json:"peers"`
}

func (h *Handler) callPeers(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Peers) == 0 {
		writeError(w, errBadRequest)
		return
	}
	if err := h.Session.Calls.CallPeers(r.Context(), req.Peers); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.Session.Calls.Peers())
}

func (h *Handler) endAllCalls(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Calls.EndAllCalls(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) hangUp(w http.ResponseWriter, r *http.Request) {
	peerID := domain.PeerID(chi.URLParam(r, "peerID"))
	if err := h.Session.Calls.HangUp(peerID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type incomingRequest struct {
	Caller domain.PeerID `json:"caller"`
}

// caller defaults to the pending call when the body names none.
func (h *Handler) caller(r *http.Request) (domain.PeerID, error) {
	var req incomingRequest
	if err := decode(r, &req); err != nil {
		return "", err
	}
	if req.Caller == "" {
		req.Caller = h.Session.Calls.PendingIncomingCall()
	}
	if req.Caller == "" {
		return "", domain.ErrNoPendingCall
	}
	return req.Caller, nil
}

func (h *Handler) acceptIncoming(w http.ResponseWriter, r *http.Request) {
	caller, err := h.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Session.Calls.AcceptIncomingCall(r.Context(), caller); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Session.Calls.Peers())
}

func (h *Handler) rejectIncoming(w http.ResponseWriter, r *http.Request) {
	caller, err := h.caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Session.Calls.RejectIncomingCall(caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) acquireMedia(w http.ResponseWriter, r *http.Request) {
	var sel domain.DeviceSelection
	if err := decode(r, &sel); err != nil {
		writeError(w, err)
		return
	}
	state, err := h.Session.Media.Acquire(r.Context(), sel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) toggleMute(w http.ResponseWriter, r *http.Request) {
	muted, err := h.Session.Media.ToggleMute()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

func (h *Handler) toggleCamera(w http.ResponseWriter, r *http.Request) {
	off, err := h.Session.Media.ToggleCamera()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"camera_off": off})
}

func (h *Handler) toggleScreen(w http.ResponseWriter, r *http.Request) {
	sharing, err := h.Session.Screen.Toggle(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sharing": sharing})
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.Session.Media.EnumerateDevices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":   devices,
		"selection": h.Session.Media.State().Selection,
	})
}

type selectRequest struct {
	Kind domain.DeviceKind `json:"kind"`
	ID   string            `json:"id"`
}

func (h *Handler) selectDevice(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ID == "" || (req.Kind != domain.DeviceAudioInput && req.Kind != domain.DeviceVideoInput) {
		writeError(w, errBadRequest)
		return
	}
	if err := h.Session.Media.SelectDevice(r.Context(), req.Kind, req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Session.Media.State())
}

func (h *Handler) chatHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Session.Chat.History(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type chatRequest struct {
	Content string `json:"content"`
}

func (h *Handler) sendChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := h.Session.Chat.SendMessage(r.Context(), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type adviceRequest struct {
	Context string `json:"context"`
}

func (h *Handler) advice(w http.ResponseWriter, r *http.Request) {
	var req adviceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var text string
	if req.Context == "" {
		text = h.Session.Suggest(r.Context())
	} else {
		text = h.Session.Advice.Advice(r.Context(), req.Context)
	}
	writeJSON(w, http.StatusOK, map[string]string{"advice": text})
}

type roomDTO struct {
	RoomID domain.PeerID `json:"room_id"`
	Invite string        `json:"invite"`
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	id, err := h.Session.Rooms.CreateRoom(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	invite, err := h.Session.Rooms.InviteURL()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomDTO{RoomID: id, Invite: invite})
}

func (h *Handler) invite(w http.ResponseWriter, r *http.Request) {
	invite, err := h.Session.Rooms.InviteURL()
	if err != nil {
		writeError(w, err)
		return
	}
	room, _ := h.Session.Rooms.Room()
	writeJSON(w, http.StatusOK, roomDTO{RoomID: room, Invite: invite})
}

type joinRequest struct {
	RoomID domain.PeerID `json:"room_id"`
	Invite string        `json:"invite"`
}

func (h *Handler) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	room := req.RoomID
	if room == "" {
		id, err := service.ParseInvite(req.Invite)
		if err != nil {
			writeError(w, err)
			return
		}
		room = id
	}
	if err := h.Session.Rooms.JoinRoom(r.Context(), room); err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("room_id", room.String()).Msg("Join requested")
	writeJSON(w, http.StatusAccepted, roomDTO{RoomID: room})
}

func (h *Handler) leaveRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Rooms.LeaveRoom(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) calibrate(w http.ResponseWriter, r *http.Request) {
	st, err := h.Session.Mic.Calibrate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) startMic(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Mic.Start(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startMicTest(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Mic.StartTest(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stopMic(w http.ResponseWriter, r *http.Request) {
	h.Session.Mic.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateMicSettings(w http.ResponseWriter, r *http.Request) {
	st := h.Session.Mic.Settings()
	if err := decode(r, &st); err != nil {
		writeError(w, err)
		return
	}
	h.Session.Mic.UpdateSettings(st)
	writeJSON(w, http.StatusOK, st)
}
