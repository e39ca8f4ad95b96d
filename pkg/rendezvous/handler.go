package rendezvous

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/saintparish4/dim/pkg/contact"
)

// Upgrader abstracts upgrading an HTTP connection to a WebSocket Conn.
// Satisfied by GorillaUpgrader in production and MockUpgrader in tests.
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (Conn, error)
}

// Handler serves the rendezvous WebSocket endpoint: one session per
// connection, dispatching REGISTER/QUERY/CLEAR/KEEP_ALIVE messages
// against a RealmManager-partitioned contact directory.
type Handler struct {
	Upgrader Upgrader

	sessions *Registry
	realms   *RealmManager
}

// NewHandler builds a Handler over the given session registry and realm
// manager.
func NewHandler(sessions *Registry, realms *RealmManager) *Handler {
	return &Handler{sessions: sessions, realms: realms}
}

// ServeHTTP upgrades the connection and runs its read loop until the
// peer disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Upgrader == nil {
		http.Error(w, "rendezvous: no upgrader configured", http.StatusInternalServerError)
		return
	}

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("rendezvous: upgrade failed: %v", err), http.StatusBadRequest)
		return
	}

	session := NewSession(generateSessionID(), conn)
	h.sessions.Register(session)
	defer func() {
		h.realms.LeaveRealm(session)
		h.sessions.Unregister(session.ID)
		session.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		session.UpdateLastSeen()

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			session.SendError(ErrorCodeInvalidMessage, "malformed message")
			continue
		}
		if err := h.handleMessage(session, &msg); err != nil {
			session.SendError(ErrorCodeInvalidMessage, err.Error())
		}
	}
}

func (h *Handler) handleMessage(session *Session, msg *Message) error {
	switch msg.Type {
	case MessageTypeRegister:
		return h.handleRegister(session, msg)
	case MessageTypeQuery:
		return h.handleQuery(session, msg)
	case MessageTypeClear:
		return h.handleClear(session, msg)
	case MessageTypeKeepAlive:
		return nil
	default:
		session.SendError(ErrorCodeInvalidMessage, fmt.Sprintf("unknown message type %q", msg.Type))
		return nil
	}
}

func (h *Handler) handleRegister(session *Session, msg *Message) error {
	if msg.RealmID == "" {
		session.SendError(ErrorCodeInvalidMessage, "REGISTER requires realm_id")
		return nil
	}
	var payload RegisterPayload
	if err := msg.ParsePayload(&payload); err != nil {
		session.SendError(ErrorCodeInvalidMessage, "REGISTER requires a location payload")
		return nil
	}

	realm := h.realms.JoinRealm(session, msg.RealmID)
	loc, err := locationFromView(payload.Location)
	if err != nil {
		session.SendError(ErrorCodeInvalidMessage, err.Error())
		return nil
	}

	if !realm.Directory.StoreLocation(loc) {
		session.SendError(ErrorCodeBadSignature, "location rejected: bad signature, stale timestamp, or missing fields")
		return nil
	}
	return session.Send(NewMessage(MessageTypeKeepAlive).WithRequestID(msg.RequestID))
}

func (h *Handler) handleQuery(session *Session, msg *Message) error {
	if msg.RealmID == "" || msg.Identifier == "" {
		session.SendError(ErrorCodeInvalidMessage, "QUERY requires realm_id and identifier")
		return nil
	}
	realm := h.realms.Get(msg.RealmID)
	if realm == nil {
		return session.Send(NewMessage(MessageTypeLocations).
			WithRequestID(msg.RequestID).
			WithPayload(LocationsPayload{}))
	}

	locs := realm.Directory.GetLocations(msg.Identifier)
	views := make([]LocationView, len(locs))
	for i, l := range locs {
		views[i] = locationToView(l)
	}
	return session.Send(NewMessage(MessageTypeLocations).
		WithRequestID(msg.RequestID).
		WithPayload(LocationsPayload{Locations: views}))
}

func (h *Handler) handleClear(session *Session, msg *Message) error {
	if msg.RealmID == "" {
		session.SendError(ErrorCodeInvalidMessage, "CLEAR requires realm_id")
		return nil
	}
	var payload ClearPayload
	if err := msg.ParsePayload(&payload); err != nil {
		session.SendError(ErrorCodeInvalidMessage, "CLEAR requires a location payload")
		return nil
	}

	realm := h.realms.Get(msg.RealmID)
	if realm == nil {
		session.SendError(ErrorCodeNotFound, "unknown realm")
		return nil
	}
	loc, err := locationFromView(payload.Location)
	if err != nil {
		session.SendError(ErrorCodeInvalidMessage, err.Error())
		return nil
	}
	if !realm.Directory.ClearLocation(loc) {
		session.SendError(ErrorCodeBadSignature, "clear rejected: bad signature")
		return nil
	}
	return session.Send(NewMessage(MessageTypeKeepAlive).WithRequestID(msg.RequestID))
}

func locationFromView(v LocationView) (*contact.Location, error) {
	loc := &contact.Location{
		Identifier: v.Identifier,
		Timestamp:  v.Timestamp,
		Signature:  v.Signature,
		NATType:    v.NATType,
	}
	var err error
	if loc.Source, err = addrFromView(v.Source); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if loc.Mapped, err = addrFromView(v.Mapped); err != nil {
		return nil, fmt.Errorf("mapped: %w", err)
	}
	if loc.Relayed, err = addrFromView(v.Relayed); err != nil {
		return nil, fmt.Errorf("relayed: %w", err)
	}
	return loc, nil
}

func locationToView(l *contact.Location) LocationView {
	return LocationView{
		Identifier: l.Identifier,
		Source:     addrToView(l.Source),
		Mapped:     addrToView(l.Mapped),
		Relayed:    addrToView(l.Relayed),
		Timestamp:  l.Timestamp,
		Signature:  l.Signature,
		NATType:    l.NATType,
	}
}

func addrFromView(v *AddressView) (*net.UDPAddr, error) {
	if v == nil {
		return nil, nil
	}
	ip := net.ParseIP(v.IP)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP %q", v.IP)
	}
	return &net.UDPAddr{IP: ip, Port: v.Port}, nil
}

func addrToView(a *net.UDPAddr) *AddressView {
	if a == nil {
		return nil
	}
	return &AddressView{IP: a.IP.String(), Port: a.Port}
}
