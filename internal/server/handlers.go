package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/dgnsrekt/rtr-relay/internal/manager"
	"github.com/dgnsrekt/rtr-relay/internal/payload"
	"github.com/dgnsrekt/rtr-relay/internal/store"
)

// Units is the unit control the API exposes.
type Units interface {
	Status() []manager.UnitInfo
	Terminate(name string) error
}

// Snapshots provides the latest published set of a unit.
type Snapshots interface {
	Snapshot(unit string) (store.Snapshot, bool)
}

type Server struct {
	units     Units
	snapshots Snapshots
	logger    *zap.Logger
}

func NewServer(units Units, snapshots Snapshots, logger *zap.Logger) *Server {
	return &Server{
		units:     units,
		snapshots: snapshots,
		logger:    logger,
	}
}

type StatusResponse struct {
	Units []manager.UnitInfo `json:"units"`
}

type VrpsResponse struct {
	Unit    string            `json:"unit"`
	Serial  uint32            `json:"serial"`
	Updated time.Time         `json:"updated"`
	Count   int               `json:"count"`
	Vrps    []payload.Payload `json:"vrps"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// GetStatus handles GET /status
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StatusResponse{Units: s.units.Status()})
}

// GetUnitVrps handles GET /units/{name}/vrps
func (s *Server) GetUnitVrps(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var asn *int64
	if err := runtime.BindQueryParameter("form", true, false, "asn", r.URL.Query(), &asn); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, ok := s.snapshots.Snapshot(name)
	if !ok {
		writeError(w, http.StatusNotFound, "no payloads published for unit "+name)
		return
	}

	vrps := make([]payload.Payload, 0, snap.Set.Len())
	for p := range snap.Set.All() {
		if asn != nil && int64(p.ASN) != *asn {
			continue
		}
		vrps = append(vrps, p)
	}

	s.logger.Debug("returning vrps",
		zap.String("unit", name),
		zap.Uint32("serial", uint32(snap.Serial)),
		zap.Int("count", len(vrps)),
	)

	s.writeJSON(w, http.StatusOK, VrpsResponse{
		Unit:    snap.Unit,
		Serial:  uint32(snap.Serial),
		Updated: snap.Updated,
		Count:   len(vrps),
		Vrps:    vrps,
	})
}

// TerminateUnit handles POST /units/{name}/terminate
func (s *Server) TerminateUnit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.units.Terminate(name); err != nil {
		if errors.Is(err, manager.ErrUnknownUnit) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("unit termination requested", zap.String("unit", name))

	for _, info := range s.units.Status() {
		if info.Name == name {
			s.writeJSON(w, http.StatusAccepted, info)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
