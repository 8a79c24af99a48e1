package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/auth"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/gateway"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/models"
	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/storage"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshtastic"
)

// ========== Auth handlers ==========

// HandleLogin exchanges the admin credentials for an access token
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, expires, err := s.auth.Login(req.Username, req.Password, s.config.Server.Name)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Warn().Str("username", req.Username).Msg("Rejected API login")
			s.respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"expires_at":   expires,
		"expires_in":   int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":   "Bearer",
	})
}

// ========== Gateway handlers ==========

// HandleStatus returns the latest gateway snapshot
func (s *RESTServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.relay.Status())
}

// HandleQueue returns the queued entries
func (s *RESTServer) HandleQueue(w http.ResponseWriter, r *http.Request) {
	st := s.relay.Status()
	entries := st.Entries
	if entries == nil {
		entries = []gateway.EntryStatus{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"depth":       st.QueueDepth,
		"capacity":    st.QueueCapacity,
		"by_priority": st.QueueByPriority,
		"entries":     entries,
	})
}

// injectRequest is a locally originated message to relay
type injectRequest struct {
	Source  string `json:"source" validate:"required"`
	Dest    string `json:"dest"`
	Channel uint8  `json:"channel"`
	Port    string `json:"port" validate:"oneof=text|private"`
	Text    string `json:"text" validate:"max=237"`
	Payload []byte `json:"payload" validate:"max=237"`
}

// HandleInjectMessage queues a message as if it had been heard on the mesh
func (s *RESTServer) HandleInjectMessage(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := req.packet()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.relay.Inject(p); err != nil {
		if errors.Is(err, gateway.ErrInjectBusy) {
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("source", p.Source.String()).
		Str("port", p.Port.String()).
		Int("size", len(p.Payload)).
		Msg("Message injected via API")

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
		"source":   p.Source.String(),
		"dest":     p.Dest.String(),
		"size":     len(p.Payload),
	})
}

func (req *injectRequest) packet() (*meshtastic.Packet, error) {
	source, err := meshtastic.ParseNodeID(req.Source)
	if err != nil {
		return nil, err
	}

	dest := meshtastic.Broadcast
	if req.Dest != "" {
		if dest, err = meshtastic.ParseNodeID(req.Dest); err != nil {
			return nil, err
		}
	}

	p := &meshtastic.Packet{
		Dest:    dest,
		Source:  source,
		Channel: req.Channel,
		Port:    meshtastic.PortTextMessage,
		Payload: req.Payload,
	}
	if req.Port == "private" {
		p.Port = meshtastic.PortPrivateApp
	}
	if req.Text != "" {
		if len(req.Payload) > 0 {
			return nil, errors.New("text and payload are mutually exclusive")
		}
		p.Payload = []byte(req.Text)
	}
	if len(p.Payload) == 0 {
		return nil, errors.New("text or payload is required")
	}
	return p, nil
}

// HandleListEvents lists relay events
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "event log disabled")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, _ := strconv.Atoi(q.Get("offset"))

	gw := s.config.Server.Name
	filters := storage.EventLogFilters{Gateway: &gw}

	if eventType := q.Get("type"); eventType != "" {
		t := models.EventType(eventType)
		filters.Type = &t
	}

	if level := q.Get("level"); level != "" {
		l := models.EventLevel(level)
		filters.Level = &l
	}

	if entry := q.Get("entry_id"); entry != "" {
		id, err := strconv.ParseUint(entry, 10, 32)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid entry_id")
			return
		}
		id32 := uint32(id)
		filters.EntryID = &id32
	}

	for param, dst := range map[string]**time.Time{"start": &filters.StartTime, "end": &filters.EndTime} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid "+param+" time")
			return
		}
		*dst = &t
	}

	events, total, err := s.store.ListEventLogs(r.Context(), filters, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list events")
		s.respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*models.EventLog{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ========== System handlers ==========

// HandleHealth health check handler
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.relay.Status()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"started": st.Started,
		"joined":  st.Joined,
		"time":    time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "MeshXT Satellite Gateway",
		"gateway": s.config.Server.Name,
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
