package importer

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/contacthub/internal/audit"
	"github.com/JonMunkholm/contacthub/internal/config"
	"github.com/JonMunkholm/contacthub/internal/contact"
)

var (
	tenant = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	owner  = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
)

type captureAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureAudit) Record(_ context.Context, e audit.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

type captureObserver struct {
	mu      sync.Mutex
	sources []string
	created int
	failed  int
}

func (o *captureObserver) ObserveImport(source string, created, failed int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources = append(o.sources, source)
	o.created += created
	o.failed += failed
}

func newOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *contact.MemoryStore, *captureAudit, *captureObserver) {
	t.Helper()
	store := contact.NewMemoryStore()
	capture := &captureAudit{}
	observer := &captureObserver{}
	engine := contact.NewEngine(store, nil)
	return NewOrchestrator(engine, capture, observer, cfg), store, capture, observer
}

func TestImportContacts_IsolatesBadRows(t *testing.T) {
	o, store, capture, observer := newOrchestrator(t, Config{})

	resp := o.ImportContacts(context.Background(), tenant, owner, []ImportRow{
		{FirstName: "A"},
		{FirstName: ""},
	})

	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Created)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
	assert.Contains(t, resp.Errors[0].Reason, "firstName is required")
	assert.Equal(t, ImportRow{}, resp.Errors[0].Row)
	assert.Equal(t, 1, store.ContactCount(tenant))

	require.Len(t, capture.entries, 1)
	entry := capture.entries[0]
	assert.Equal(t, audit.ActionContactImport, entry.Action)
	assert.Equal(t, tenant, entry.TenantID)
	assert.Equal(t, 2, entry.Details["total"])

	assert.Equal(t, []string{SourceFile}, observer.sources)
	assert.Equal(t, 1, observer.created)
	assert.Equal(t, 1, observer.failed)
}

func TestImportContacts_EmptyBatch(t *testing.T) {
	o, _, _, _ := newOrchestrator(t, Config{})

	resp := o.ImportContacts(context.Background(), tenant, owner, nil)
	assert.Equal(t, 0, resp.Total)
	assert.NotNil(t, resp.Errors, "errors serialize as an empty list")
}

func TestImportContacts_MapsRowToSubEntities(t *testing.T) {
	o, store, _, _ := newOrchestrator(t, Config{})

	row := ImportRow{
		FirstName:  "Ada",
		Emails:     []string{"ada@example.com", "ADA@example.com"},
		Phones:     []string{"555-0100"},
		Street:     "12 Analytical Way",
		City:       "London",
		ChatHandle: "@ada",
		TaxID:      "GB 123",
	}
	resp := o.ImportContacts(context.Background(), tenant, owner, []ImportRow{row})
	require.Equal(t, 1, resp.Created, "errors: %v", resp.Errors)

	list, err := store.ListContacts(context.Background(), tenant, contact.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	c := list[0]
	assert.Len(t, c.Emails, 1)
	assert.Len(t, c.Phones, 1)
	assert.Len(t, c.Addresses, 1)
	assert.Len(t, c.Chats, 1)
	assert.Len(t, c.TaxIdentifiers, 1)
	assert.Equal(t, owner, c.OwnerID)
}

func TestImportContacts_MatchModes(t *testing.T) {
	rows := []ImportRow{
		{FirstName: "Ada", Emails: []string{"ada@example.com"}, Phones: []string{"555-0100"}},
		{FirstName: "Ada", Emails: []string{" ADA@example.com"}, Phones: []string{"555-0199"}},
	}

	t.Run("none appends", func(t *testing.T) {
		o, store, _, _ := newOrchestrator(t, Config{Match: config.MatchNone})
		resp := o.ImportContacts(context.Background(), tenant, owner, rows)
		assert.Equal(t, 2, resp.Created)
		assert.Equal(t, 2, store.ContactCount(tenant))
	})

	t.Run("email merges", func(t *testing.T) {
		o, store, _, _ := newOrchestrator(t, Config{Match: config.MatchEmail})
		resp := o.ImportContacts(context.Background(), tenant, owner, rows)
		assert.Equal(t, 2, resp.Created)
		require.Equal(t, 1, store.ContactCount(tenant))

		list, err := store.ListContacts(context.Background(), tenant, contact.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, list[0].Emails, 1)
		assert.Len(t, list[0].Phones, 2)
	})
}

func TestBulkCreate_TargetsExistingContact(t *testing.T) {
	o, store, _, observer := newOrchestrator(t, Config{})
	ctx := context.Background()

	first := o.BulkCreate(ctx, tenant, owner, []ContactRow{{Payload: contact.Payload{FirstName: str("Ada")}}})
	require.Equal(t, 1, first.Created)
	list, err := store.ListContacts(ctx, tenant, contact.ListOptions{})
	require.NoError(t, err)
	id := list[0].ID

	missing := uuid.New()
	resp := o.BulkCreate(ctx, tenant, owner, []ContactRow{
		{ContactID: &id, Payload: contact.Payload{Emails: []contact.EmailInput{{Address: "ada@example.com"}}}},
		{ContactID: &missing, Payload: contact.Payload{FirstName: str("Ghost")}},
	})

	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Created)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
	assert.Contains(t, resp.Errors[0].Reason, "contact not found")
	assert.Equal(t, 1, store.ContactCount(tenant))
	assert.Equal(t, []string{SourceBulk, SourceBulk}, observer.sources)
}

type panickyEngine struct{}

func (panickyEngine) CreateOrMerge(_ context.Context, _, _ uuid.UUID, _ *uuid.UUID, p contact.Payload) (*contact.Contact, error) {
	if p.FirstName != nil && *p.FirstName == "boom" {
		panic("engine exploded")
	}
	return &contact.Contact{}, nil
}

func (panickyEngine) FindByEmail(context.Context, uuid.UUID, contact.Payload) (uuid.UUID, bool, error) {
	return uuid.Nil, false, nil
}

func TestImportContacts_RecoversFromPanics(t *testing.T) {
	o := NewOrchestrator(panickyEngine{}, nil, nil, Config{})

	resp := o.ImportContacts(context.Background(), tenant, owner, []ImportRow{
		{FirstName: "ok"},
		{FirstName: "boom"},
		{FirstName: "ok"},
	})

	assert.Equal(t, 2, resp.Created)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
	assert.Contains(t, resp.Errors[0].Reason, "engine exploded")
}

type blockingEngine struct {
	panickyEngine
	calls  int
	cancel context.CancelFunc
}

func (e *blockingEngine) CreateOrMerge(ctx context.Context, _, _ uuid.UUID, _ *uuid.UUID, _ contact.Payload) (*contact.Contact, error) {
	e.calls++
	if e.calls == 2 {
		e.cancel()
	}
	return &contact.Contact{}, ctx.Err()
}

func TestImportContacts_CancellationFailsRemainingRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := &blockingEngine{cancel: cancel}
	o := NewOrchestrator(engine, nil, nil, Config{Workers: 1})

	rows := make([]ImportRow, 5)
	for i := range rows {
		rows[i] = ImportRow{FirstName: "row"}
	}
	resp := o.ImportContacts(ctx, tenant, owner, rows)

	assert.Equal(t, 5, resp.Total)
	assert.Equal(t, 1, resp.Created)
	assert.Equal(t, 4, resp.Failed)
	assert.Equal(t, 2, engine.calls, "no row is attempted after cancellation")
	for i, e := range resp.Errors {
		assert.Equal(t, i+1, e.Index)
		assert.Contains(t, e.Reason, "context canceled")
	}
}

func TestImportContacts_ParallelWorkers(t *testing.T) {
	o, store, _, _ := newOrchestrator(t, Config{Workers: 4})

	rows := make([]ImportRow, 30)
	for i := range rows {
		if i%3 != 0 {
			rows[i] = ImportRow{FirstName: "Contact", Emails: []string{"shared@example.com"}}
		}
	}
	resp := o.ImportContacts(context.Background(), tenant, owner, rows)

	assert.Equal(t, 30, resp.Total)
	assert.Equal(t, 20, resp.Created)
	assert.Equal(t, 10, resp.Failed)
	assert.True(t, sort.SliceIsSorted(resp.Errors, func(i, j int) bool {
		return resp.Errors[i].Index < resp.Errors[j].Index
	}))
	for _, e := range resp.Errors {
		assert.Zero(t, e.Index%3)
	}
	assert.Equal(t, 20, store.ContactCount(tenant))
}

func TestBulkAccountingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("created plus failed equals total and errors point at bad rows", prop.ForAll(
		func(valid []bool, workers int) bool {
			o := NewOrchestrator(contact.NewEngine(contact.NewMemoryStore(), nil), nil, nil, Config{Workers: workers})

			rows := make([]ImportRow, len(valid))
			var bad []int
			for i, ok := range valid {
				if ok {
					rows[i].FirstName = "Row"
				} else {
					bad = append(bad, i)
				}
			}
			resp := o.ImportContacts(context.Background(), tenant, owner, rows)

			if resp.Total != len(rows) || resp.Created+resp.Failed != resp.Total || len(resp.Errors) != resp.Failed {
				return false
			}
			if len(bad) != resp.Failed {
				return false
			}
			for i, e := range resp.Errors {
				if e.Index != bad[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}

func str(s string) *string { return &s }
