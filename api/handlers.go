package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"smsrelay/discovery"
	"smsrelay/models"
	"smsrelay/syncer"
	"smsrelay/transport"
)

type connectRequest struct {
	IP         string                `json:"ip"`
	Serial     string                `json:"serial"`
	Identifier string                `json:"identifier"`
	Mode       models.ConnectionMode `json:"mode"`
}

// target maps the accepted request shapes onto one connection target.
func (c connectRequest) target() (transport.Target, error) {
	switch {
	case strings.TrimSpace(c.IP) != "":
		return transport.Target{Mode: models.ModeNetwork, Identifier: strings.TrimSpace(c.IP)}, nil
	case strings.TrimSpace(c.Serial) != "":
		return transport.Target{Mode: models.ModeBridge, Identifier: strings.TrimSpace(c.Serial)}, nil
	case strings.TrimSpace(c.Identifier) != "":
		if !c.Mode.Valid() {
			return transport.Target{}, errors.New("mode must be network or bridge")
		}
		return transport.Target{Mode: c.Mode, Identifier: strings.TrimSpace(c.Identifier)}, nil
	default:
		return transport.Target{}, errors.New("ip, serial or identifier is required")
	}
}

type readRequest struct {
	Read *bool `json:"read"`
}

type senderRequest struct {
	Sender string `json:"sender"`
}

func (r *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) listDevices(w http.ResponseWriter, req *http.Request) {
	devices, err := r.service.ListDevices(req.Context())
	if err != nil {
		r.log.Warn().Err(err).Msg("list devices")
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	respondJSON(w, http.StatusOK, devices)
}

func (r *Router) discover(w http.ResponseWriter, req *http.Request) {
	agents := []discovery.DiscoveredAgent{}
	if r.discoverer != nil {
		found, err := r.discoverer.Discover(req.Context())
		if err != nil {
			r.log.Warn().Err(err).Msg("discover agents")
			respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		if found != nil {
			agents = found
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (r *Router) connect(w http.ResponseWriter, req *http.Request) {
	var body connectRequest
	if err := decodeBody(w, req, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := body.target()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := r.service.Connect(req.Context(), target)
	if err != nil {
		if errors.Is(err, syncer.ErrInvalidTarget) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		// An unreachable agent is reported through the failed state, not an HTTP error.
		respondJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"device":  target.Identifier,
			"error":   err.Error(),
			"status":  status,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"device":  status.Device,
		"status":  status,
	})
}

func (r *Router) disconnect(w http.ResponseWriter, req *http.Request) {
	status, err := r.service.Disconnect(req.Context())
	if err != nil {
		r.log.Warn().Err(err).Msg("disconnect")
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  status,
	})
}

func (r *Router) getStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, r.service.Status())
}

func (r *Router) getLogs(w http.ResponseWriter, _ *http.Request) {
	logs, err := r.service.Logs()
	if err != nil {
		r.internalError(w, "list logs", err)
		return
	}
	if logs == nil {
		logs = []models.ConnectionLogEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (r *Router) listSMS(w http.ResponseWriter, _ *http.Request) {
	messages, err := r.service.Messages()
	if err != nil {
		r.internalError(w, "list messages", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sms_list": nonNilMessages(messages)})
}

func (r *Router) listUnread(w http.ResponseWriter, _ *http.Request) {
	messages, err := r.service.Unread()
	if err != nil {
		r.internalError(w, "list unread messages", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sms_list": nonNilMessages(messages)})
}

func (r *Router) markRead(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	var body readRequest
	if err := decodeBody(w, req, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	read := true
	if body.Read != nil {
		read = *body.Read
	}

	if err := r.service.MarkRead(id, read); err != nil {
		if errors.Is(err, syncer.ErrMessageNotFound) {
			respondError(w, http.StatusNotFound, "message not found")
			return
		}
		r.internalError(w, "mark read", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) listConversations(w http.ResponseWriter, _ *http.Request) {
	conversations, err := r.service.Conversations()
	if err != nil {
		r.internalError(w, "list conversations", err)
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (r *Router) getStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := r.service.Stats()
	if err != nil {
		r.internalError(w, "message stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (r *Router) block(w http.ResponseWriter, req *http.Request) {
	var body senderRequest
	if err := decodeBody(w, req, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := r.service.Block(body.Sender); err != nil {
		if errors.Is(err, syncer.ErrInvalidSender) {
			respondError(w, http.StatusBadRequest, "sender is required")
			return
		}
		r.internalError(w, "block sender", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) unblock(w http.ResponseWriter, req *http.Request) {
	var body senderRequest
	if err := decodeBody(w, req, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := r.service.Unblock(body.Sender)
	if err != nil {
		if errors.Is(err, syncer.ErrInvalidSender) {
			respondError(w, http.StatusBadRequest, "sender is required")
			return
		}
		r.internalError(w, "unblock sender", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true, "removed": removed})
}

func (r *Router) getConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, r.service.Preferences())
}

func (r *Router) saveConfig(w http.ResponseWriter, req *http.Request) {
	// Fields left out of the request keep their current value.
	body := r.service.Preferences()
	if err := decodeBody(w, req, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := r.service.SavePreferences(body)
	if err != nil {
		r.log.Error().Err(err).Msg("save config")
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
			"config":  saved,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config":  saved,
	})
}

func (r *Router) testNotification(w http.ResponseWriter, _ *http.Request) {
	prefs := r.service.TestNotification()
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config":  prefs,
	})
}

func (r *Router) internalError(w http.ResponseWriter, op string, err error) {
	r.log.Error().Err(err).Str("op", op).Msg("request failed")
	respondError(w, http.StatusInternalServerError, err.Error())
}

func nonNilMessages(messages []models.Message) []models.Message {
	if messages == nil {
		return []models.Message{}
	}
	return messages
}
