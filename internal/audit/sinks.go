package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/JonMunkholm/contacthub/internal/database"
)

// PostgresSink writes entries to the audit_log table.
type PostgresSink struct {
	db database.DBTX
}

func NewPostgresSink(db database.DBTX) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Write(ctx context.Context, e Entry) error {
	var details []byte
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err == nil {
			details = b
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (id, action, severity, tenant_id, user_id, entity_type, entity_id, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, string(e.Action), string(e.Severity),
		nullUUID(e.TenantID), nullUUID(e.UserID),
		e.EntityType, e.EntityID,
		parseIP(e.IPAddress), nullText(e.UserAgent),
		details, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// NATSSink publishes entries as JSON on "<subject>.<action>".
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSink connects to url. The connection reconnects on its own; Close
// drains it.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("contacthub-audit"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSSink{nc: nc, subject: subject}, nil
}

func (s *NATSSink) Write(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	return s.nc.Publish(s.subject+"."+string(e.Action), b)
}

// Close flushes pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	return s.nc.Drain()
}

// MemorySink keeps entries in memory. Used by tests and the CLI.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	Err     error
}

func (s *MemorySink) Write(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of the recorded entries.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// parseIP strips a port if present and returns nil for unparseable input.
func parseIP(raw string) *netip.Addr {
	if raw == "" {
		return nil
	}
	host := raw
	if h, _, err := net.SplitHostPort(raw); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	return &addr
}
