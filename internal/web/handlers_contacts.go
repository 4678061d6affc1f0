package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/contact"
)

// maxContactBody bounds single-contact request bodies.
const maxContactBody = 1 << 20

// defaultPageSize applies when a list request names no limit.
const defaultPageSize = 50

type listResponse struct {
	Data    []*contact.Contact `json:"data"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
	Trashed bool               `json:"trashed"`
}

type emptyTrashResponse struct {
	Purged int `json:"purged"`
}

// contactRoute is a /contacts/{id} request resolved against its caller.
type contactRoute struct {
	tenantID  uuid.UUID
	ownerID   uuid.UUID
	contactID uuid.UUID
}

func resolveContactRoute(r *http.Request) (contactRoute, error) {
	id, err := caller(r)
	if err != nil {
		return contactRoute{}, err
	}
	contactID, err := pathUUID(chi.URLParam(r, "id"), "contact id")
	if err != nil {
		return contactRoute{}, err
	}
	return contactRoute{tenantID: id.TenantID, ownerID: id.UserID, contactID: contactID}, nil
}

// serveContact resolves the route, runs fn and writes the contact it returns.
func serveContact(w http.ResponseWriter, r *http.Request, fn func(contactRoute) (*contact.Contact, error)) {
	route, err := resolveContactRoute(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	c, err := fn(route)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var p contact.Payload
	if err := decodeJSON(w, r, maxContactBody, &p); err != nil {
		respondError(w, r, err)
		return
	}

	c, err := s.svc.Contacts.Create(r.Context(), id.TenantID, id.UserID, p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleListContacts serves ?trashed=true&limit=&offset=.
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	q := r.URL.Query()
	var opts contact.ListOptions
	if v := q.Get("trashed"); v != "" {
		if opts.Trashed, err = strconv.ParseBool(v); err != nil {
			respondError(w, r, apperror.Validation("invalid trashed %q", v))
			return
		}
	}
	if opts.Limit, err = intParam(q.Get("limit"), "limit", defaultPageSize); err != nil {
		respondError(w, r, err)
		return
	}
	if opts.Offset, err = intParam(q.Get("offset"), "offset", 0); err != nil {
		respondError(w, r, err)
		return
	}

	contacts, err := s.svc.Contacts.List(r.Context(), id.TenantID, opts)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if contacts == nil {
		contacts = []*contact.Contact{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:    contacts,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		Trashed: opts.Trashed,
	})
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	serveContact(w, r, func(cr contactRoute) (*contact.Contact, error) {
		return s.svc.Contacts.Get(r.Context(), cr.tenantID, cr.contactID)
	})
}

func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	s.applyPayload(w, r, s.svc.Contacts.Update)
}

func (s *Server) handlePatchContact(w http.ResponseWriter, r *http.Request) {
	s.applyPayload(w, r, s.svc.Contacts.Patch)
}

type payloadFunc func(ctx context.Context, tenantID, ownerID, id uuid.UUID, p contact.Payload) (*contact.Contact, error)

// applyPayload decodes a contact body and hands it to apply (PUT or PATCH).
func (s *Server) applyPayload(w http.ResponseWriter, r *http.Request, apply payloadFunc) {
	serveContact(w, r, func(cr contactRoute) (*contact.Contact, error) {
		var p contact.Payload
		if err := decodeJSON(w, r, maxContactBody, &p); err != nil {
			return nil, err
		}
		return apply(r.Context(), cr.tenantID, cr.ownerID, cr.contactID, p)
	})
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	serveContact(w, r, func(cr contactRoute) (*contact.Contact, error) {
		return s.svc.Contacts.SoftDelete(r.Context(), cr.tenantID, cr.contactID)
	})
}

func (s *Server) handleRestoreContact(w http.ResponseWriter, r *http.Request) {
	serveContact(w, r, func(cr contactRoute) (*contact.Contact, error) {
		return s.svc.Contacts.Restore(r.Context(), cr.tenantID, cr.contactID)
	})
}

// handleEmptyTrash hard-deletes trashed contacts. ?olderThan takes a Go
// duration such as 720h; absent, the whole trash is emptied.
func (s *Server) handleEmptyTrash(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var olderThan time.Duration
	if v := r.URL.Query().Get("olderThan"); v != "" {
		if olderThan, err = time.ParseDuration(v); err != nil {
			respondError(w, r, apperror.Validation("invalid olderThan %q", v))
			return
		}
	}

	n, err := s.svc.Contacts.EmptyTrash(r.Context(), id.TenantID, olderThan)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyTrashResponse{Purged: n})
}

// intParam parses a non-negative integer query parameter.
func intParam(raw, name string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.Validation("invalid %s %q", name, raw)
	}
	return n, nil
}
