package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/luvjson/blockspace/block"
	"github.com/luvjson/blockspace/storage"
	"github.com/luvjson/blockspace/workspace"
	"github.com/luvjson/blockspace/workspace/werr"

	"go.uber.org/zap"
)

// Server is the thin REST host spec.md §6 calls conventional plumbing: it
// exposes the workspace's block CRUD and the storage collaborator's
// load/persist over HTTP. Grounded on the teacher's crdtserver.Server +
// internal/delivery/http.Router shape.
type Server struct {
	ws      *workspace.Workspace
	store   storage.Provider
	log     *zap.Logger
	httpSrv *http.Server
}

// NewServer wires a workspace, a storage provider and an HTTP address into
// a runnable server. It does not start listening; call ListenAndServe.
func NewServer(addr string, ws *workspace.Workspace, store storage.Provider, log *zap.Logger) *Server {
	s := &Server{ws: ws, store: store, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/blocks", s.handleBlocks)
	mux.HandleFunc("/api/blocks/", s.handleBlock)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)

	handler := ApplyMiddleware(mux, RecoveryMiddleware(log), LoggingMiddleware(log))
	s.httpSrv = &http.Server{Addr: addr, Handler: handler}
	return s
}

func (s *Server) ListenAndServe() error {
	return s.httpSrv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "workspace": s.ws.ID()})
}

// handleBlocks lists block ids (GET) or creates a block (POST).
func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var ids []string
		err := s.ws.View(func(trx *workspace.Transaction) error {
			for id := range trx.BlocksMap().NodeFields {
				ids = append(ids, id)
			}
			return nil
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"blocks": ids})

	case http.MethodPost:
		var req struct {
			ID     string `json:"id"`
			Flavor string `json:"flavor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		err := s.ws.WithTrx(func(trx *workspace.Transaction) error {
			_, err := block.Create(trx, req.ID, req.Flavor, s.ws.ClientID())
			return err
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleBlock reads (GET), patches attributes (PUT) or removes (DELETE) one
// block identified by the path tail.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/blocks/")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "block id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		b, err := s.ws.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		attrs := make(map[string]any)
		for _, key := range b.Keys() {
			v, _ := b.Get(key)
			attrs[key] = v
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         b.ID(),
			"flavor":     b.Flavor(),
			"attributes": attrs,
		})

	case http.MethodPut:
		var attrs map[string]any
		if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		err := s.ws.WithTrx(func(trx *workspace.Transaction) error {
			b, err := block.Open(trx, id)
			if err != nil {
				return err
			}
			for key, value := range attrs {
				if err := b.Set(trx, key, value); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id})

	case http.MethodDelete:
		var removed bool
		err := s.ws.WithTrx(func(trx *workspace.Transaction) error {
			b, err := block.Open(trx, id)
			if err != nil {
				return err
			}
			removed, err = b.Remove(trx)
			return err
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSnapshot persists the workspace's current state to the storage
// collaborator (POST) or reloads the last persisted snapshot's state vector
// (GET), exercising spec.md §6's load/persist contract over HTTP.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		sv := s.ws.StateVector()
		nodes := s.ws.NodesSince(map[string]uint64{})
		bytes, err := json.Marshal(nodes)
		if err != nil {
			writeError(w, err)
			return
		}
		update := storage.Update{Bytes: bytes, StateVector: sv}
		if err := s.store.Persist(ctx, s.ws.ID(), update); err != nil {
			writeError(w, werr.WrapStorageFailure(err, "persist snapshot"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state_vector": sv})

	case http.MethodGet:
		u, err := s.store.Load(ctx, s.ws.ID())
		if err != nil {
			writeError(w, werr.WrapStorageFailure(err, "load snapshot"))
			return
		}
		if u == nil {
			writeJSONError(w, http.StatusNotFound, "no snapshot persisted yet")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state_vector": u.StateVector})

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps the workspace error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var notFound werr.NotFound
	var alreadyExists werr.AlreadyExists
	var immutable werr.Immutable
	var busy werr.TransactionBusy

	switch {
	case errors.As(err, &notFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &alreadyExists):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.As(err, &immutable):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.As(err, &busy):
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
