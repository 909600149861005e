package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/synchdb-go/synchdb/src/domain"
)

// Server exposes the Manager's eleven verbs over HTTP, mirroring the
// teacher's adapters/http/server.go ServeMux wiring.
type Server struct {
	logger  *slog.Logger
	server  *http.Server
	mux     *http.ServeMux
	port    int
	manager *Manager
}

func NewServer(logger *slog.Logger, port int, manager *Manager) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		port:    port,
		logger:  logger,
		manager: manager,
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.withRequestID(s.mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.mux.HandleFunc("POST /v1/admin/connectors/{name}/start", s.start)
	s.mux.HandleFunc("POST /v1/admin/connectors/{name}/stop", s.stop)
	s.mux.HandleFunc("POST /v1/admin/connectors/{name}/pause", s.pause)
	s.mux.HandleFunc("POST /v1/admin/connectors/{name}/resume", s.resume)
	s.mux.HandleFunc("POST /v1/admin/connectors/{name}/set_offset", s.setOffset)
	s.mux.HandleFunc("POST /v1/admin/connectors/{name}/conninfo", s.addConninfo)
	s.mux.HandleFunc("DELETE /v1/admin/connectors/{name}/conninfo", s.deleteConninfo)
	s.mux.HandleFunc("POST /v1/admin/connectors/{name}/objmap", s.addObjmap)
	s.mux.HandleFunc("DELETE /v1/admin/connectors/{name}/objmap", s.deleteObjmap)
	s.mux.HandleFunc("POST /v1/admin/connectors/{name}/extra_conninfo", s.addExtraConninfo)
	s.mux.HandleFunc("DELETE /v1/admin/connectors/{name}/extra_conninfo", s.deleteExtraConninfo)
	s.mux.HandleFunc("GET /v1/admin/status", s.listStatus)
	s.mux.HandleFunc("GET /v1/admin/readyz", s.ready)

	return s
}

// withRequestID tags every admin request with a correlation id, logged
// alongside the verb and path, so a multi-connector operator session can
// line up a request with the supervisor log lines it triggered.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()
		w.Header().Set("X-Request-Id", reqID)
		s.logger.Info("admin request", "request_id", reqID, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.logger.Info("admin server started", "port", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down admin server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func writeResult(w http.ResponseWriter, res domain.AdminResult) {
	w.Header().Set("Content-Type", "application/json")
	status := http.StatusOK
	if res.Code != domain.AdminOK {
		status = http.StatusConflict
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.manager.Start(r.Context(), r.PathValue("name")))
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.manager.Stop(r.PathValue("name")))
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.manager.Pause(r.PathValue("name")))
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.manager.Resume(r.PathValue("name")))
}

func (s *Server) setOffset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Offset string `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeResult(w, domain.InternalErr("bad request body: "+err.Error()))
		return
	}
	writeResult(w, s.manager.SetOffset(r.PathValue("name"), body.Offset))
}

func (s *Server) addConninfo(w http.ResponseWriter, r *http.Request) {
	var cfg domain.ConnectorConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeResult(w, domain.InternalErr("bad request body: "+err.Error()))
		return
	}
	cfg.Name = r.PathValue("name")
	writeResult(w, s.manager.AddConninfo(cfg))
}

func (s *Server) deleteConninfo(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.manager.DeleteConninfo(r.PathValue("name")))
}

func (s *Server) addObjmap(w http.ResponseWriter, r *http.Request) {
	var rule domain.ObjectnameRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeResult(w, domain.InternalErr("bad request body: "+err.Error()))
		return
	}
	writeResult(w, s.manager.AddObjmap(r.PathValue("name"), rule))
}

func (s *Server) deleteObjmap(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ObjectType   string `json:"object_type"`
		SourceObject string `json:"source_object"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeResult(w, domain.InternalErr("bad request body: "+err.Error()))
		return
	}
	writeResult(w, s.manager.DeleteObjmap(r.PathValue("name"), body.ObjectType, body.SourceObject))
}

func (s *Server) addExtraConninfo(w http.ResponseWriter, r *http.Request) {
	var info domain.ExtraConnInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeResult(w, domain.InternalErr("bad request body: "+err.Error()))
		return
	}
	writeResult(w, s.manager.AddExtraConninfo(r.PathValue("name"), info))
}

func (s *Server) deleteExtraConninfo(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.manager.DeleteExtraConninfo(r.PathValue("name")))
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.manager.Ready(r.Context()))
}

func (s *Server) listStatus(w http.ResponseWriter, r *http.Request) {
	snapshots := s.manager.statusTbl.List()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshots)
}
