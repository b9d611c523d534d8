package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"grimm.is/discoverd/internal/brand"
	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/introspect"
)

// StatusResponse is the introspection status of one node.
type StatusResponse struct {
	Finished bool    `json:"finished"`
	Error    *string `json:"error"`
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := introspect.Request{
		NewIPMIUsername: q.Get("new_ipmi_username"),
		NewIPMIPassword: q.Get("new_ipmi_password"),
	}

	if err := s.introspector.Introspect(r.Context(), r.PathValue("uuid"), req); err != nil {
		WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status.Status(r.Context(), r.PathValue("uuid"))
	if err != nil {
		WriteErr(w, err)
		return
	}

	resp := StatusResponse{Finished: st.Finished()}
	if st.Error != "" {
		resp.Error = &st.Error
	}
	WriteJSON(w, http.StatusOK, resp)
}

// handleDiscover starts introspection of every UUID in a JSON list.
//
// Deprecated: use POST /v1/introspection/{uuid}.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var uuids []string
	if err := json.NewDecoder(r.Body).Decode(&uuids); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid UUID list: %v", err))
		return
	}
	s.logger.Warn("POST /v1/discover is deprecated, use POST /v1/introspection/{uuid}")

	for _, id := range uuids {
		if err := s.introspector.Introspect(r.Context(), id, introspect.Request{}); err != nil {
			WriteErr(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}
	f, err := facts.Parse(body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	s.logger.Debug("ramdisk report received", "bmc", f.BMCAddress(), "interfaces", len(f.Interfaces))

	res, err := s.processor.Process(r.Context(), f)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": brand.Version,
	})
}
