package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/mapping"
)

// maxMappingBody bounds mapping request bodies.
const maxMappingBody = 1 << 20

// findOrCreateRequest accepts sourceType as an alias of entityType.
type findOrCreateRequest struct {
	EntityType          mapping.EntityType `json:"entityType"`
	SourceType          mapping.EntityType `json:"sourceType"`
	Headers             []string           `json:"headers"`
	HeaderNormalized    []string           `json:"headerNormalized"`
	HeaderHash          string             `json:"headerHash"`
	HeaderHashAlgorithm string             `json:"headerHashAlgorithm"`
}

type rulesRequest struct {
	Rules *mapping.Rules `json:"rules"`
}

// handleFindOrCreateMapping responds with the pair [mapping, created], 201
// when the layout was new.
func (s *Server) handleFindOrCreateMapping(w http.ResponseWriter, r *http.Request) {
	var req findOrCreateRequest
	if err := decodeJSON(w, r, maxMappingBody, &req); err != nil {
		respondError(w, r, err)
		return
	}

	entityType := req.EntityType
	if entityType == "" {
		entityType = req.SourceType
	}
	m, created, err := s.svc.Mappings.FindOrCreate(r.Context(), mapping.FindOrCreateInput{
		EntityType:          entityType,
		Headers:             req.Headers,
		HeaderNormalized:    req.HeaderNormalized,
		HeaderHash:          req.HeaderHash,
		HeaderHashAlgorithm: req.HeaderHashAlgorithm,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, []any{m, created})
}

func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.Mappings.FindByHash(r.Context(), chi.URLParam(r, "headerHash"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	var p mapping.Patch
	if err := decodeJSON(w, r, maxMappingBody, &p); err != nil {
		respondError(w, r, err)
		return
	}

	m, err := s.svc.Mappings.Update(r.Context(), chi.URLParam(r, "headerHash"), p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleGetMappingRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.svc.Mappings.GetMappingRulesByHash(r.Context(), chi.URLParam(r, "headerHash"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rules == nil {
		rules = mapping.Rules{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleUpdateMappingRules(w http.ResponseWriter, r *http.Request) {
	var req rulesRequest
	if err := decodeJSON(w, r, maxMappingBody, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Rules == nil {
		respondError(w, r, apperror.Validation("rules is required"))
		return
	}

	m, err := s.svc.Mappings.UpdateMappingRules(r.Context(), chi.URLParam(r, "headerHash"), *req.Rules)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
