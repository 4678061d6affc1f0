package contact

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/audit"
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

func (c *captureAudit) actions() []audit.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audit.Action, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Action
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type countingObserver struct {
	mu      sync.Mutex
	created int
	merged  int
}

func (o *countingObserver) ObserveUpsert(_ Kind, created bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if created {
		o.created++
	} else {
		o.merged++
	}
}

var (
	tenant = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	alice  = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	bob    = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
)

func str(s string) *string { return &s }
func boolp(b bool) *bool   { return &b }

type fixture struct {
	engine   *Engine
	store    *MemoryStore
	audit    *captureAudit
	clock    *fakeClock
	observer *countingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		audit:    &captureAudit{},
		clock:    &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		observer: &countingObserver{},
	}
	f.engine = NewEngine(f.store, f.audit, WithClock(f.clock.Now), WithObserver(f.observer))
	return f
}

func (f *fixture) create(t *testing.T, p Payload) *Contact {
	t.Helper()
	c, err := f.engine.Create(context.Background(), tenant, alice, p)
	require.NoError(t, err)
	return c
}

func TestCreate_RequiresFirstName(t *testing.T) {
	f := newFixture(t)

	for _, first := range []*string{nil, str(""), str("   ")} {
		_, err := f.engine.Create(context.Background(), tenant, alice, Payload{FirstName: first, LastName: str("Lovelace")})
		require.Error(t, err)
		assert.True(t, apperror.IsValidation(err))
		assert.Contains(t, err.Error(), "firstName is required")
	}
	assert.Equal(t, 0, f.store.ContactCount(tenant))
	assert.Empty(t, f.audit.actions())
}

func TestValidate_MatchesCreateWithoutWriting(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.engine.Validate(Payload{FirstName: str("Ada")}))

	err := f.engine.Validate(Payload{FirstName: str("  ")})
	assert.True(t, apperror.IsValidation(err))

	err = f.engine.Validate(Payload{FirstName: str("Ada"), Emails: []EmailInput{{Address: ""}}})
	assert.True(t, apperror.IsValidation(err))

	assert.Equal(t, 0, f.store.ContactCount(tenant))
	assert.Empty(t, f.audit.actions())
}

func TestCreate_RequiresIdentity(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Create(context.Background(), uuid.Nil, alice, Payload{FirstName: str("Ada")})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.engine.Create(context.Background(), tenant, uuid.Nil, Payload{FirstName: str("Ada")})
	assert.True(t, apperror.IsValidation(err))
}

func TestCreate_ValidatesItems(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Create(context.Background(), tenant, alice, Payload{
		FirstName: str("Ada"),
		Phones:    []PhoneInput{{Number: ""}},
	})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
	assert.Contains(t, err.Error(), "phones[0].number is required")
	assert.Equal(t, "VAL001", apperror.MapError(err).Code)
}

func TestCreate_CollapsesRepeatedValues(t *testing.T) {
	f := newFixture(t)

	c := f.create(t, Payload{
		FirstName: str("  Ada  "),
		Addresses: []AddressInput{{Street: "123 Main St", City: "Springfield"}, {Street: " 123   main st ", City: "SPRINGFIELD"}},
		Phones:    []PhoneInput{{Number: "(555) 010-2000"}, {Number: "555 010 2000"}},
		Emails:    []EmailInput{{Address: "Ada@Example.com"}, {Address: "ada@example.com "}},
	})

	assert.Equal(t, "Ada", c.FirstName)
	assert.Len(t, c.Addresses, 1)
	assert.Len(t, c.Phones, 1)
	assert.Len(t, c.Emails, 1)
	assert.Equal(t, "123 main st", c.Addresses[0].Street)
	assert.Equal(t, "ada@example.com", c.Emails[0].Address)
	assert.Equal(t, 3, f.observer.created)
	assert.Equal(t, 3, f.observer.merged)
	assert.Equal(t, []audit.Action{audit.ActionContactCreate}, f.audit.actions())
}

func TestMerge_AddressVariantsMatch(t *testing.T) {
	tests := []struct {
		name  string
		first string
		again string
	}{
		{"case and spacing", "123 Main St", " 123   main st "},
		{"trailing period", "123 Main St.", "123 main st"},
		{"non english", "Via Roma 1", "via   roma 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.create(t, Payload{FirstName: str("Ada"), Addresses: []AddressInput{{Street: tt.first}}})
			require.Len(t, c.Addresses, 1)

			merged, err := f.engine.Patch(context.Background(), tenant, alice, c.ID, Payload{
				Addresses: []AddressInput{{Street: tt.again}},
			})
			require.NoError(t, err)
			require.Len(t, merged.Addresses, 1)
			assert.Equal(t, c.Addresses[0].ID, merged.Addresses[0].ID)
			assert.Equal(t, 1, f.store.Count(KindAddress, c.ID))
		})
	}
}

func TestMerge_KeepsOwnerOnHit(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, Payload{FirstName: str("Ada"), Phones: []PhoneInput{{Number: "+1 555 0100"}}})

	merged, err := f.engine.Patch(context.Background(), tenant, bob, c.ID, Payload{
		Phones: []PhoneInput{{Number: "+15550100"}},
		Emails: []EmailInput{{Address: "ada@example.com"}},
	})
	require.NoError(t, err)

	require.Len(t, merged.Phones, 1)
	assert.Equal(t, alice, merged.Phones[0].OwnerID, "repeated value keeps its original owner")
	require.Len(t, merged.Emails, 1)
	assert.Equal(t, bob, merged.Emails[0].OwnerID, "new value is owned by the caller")
	assert.Equal(t, alice, merged.OwnerID)
}

func TestMerge_OverlaysAttributes(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, Payload{
		FirstName: str("Ada"),
		Emails:    []EmailInput{{Address: "ada@example.com", Attrs: Attrs{Label: str("home"), IsPrimary: boolp(true)}}},
	})
	created := c.Emails[0]

	f.clock.Advance(time.Hour)
	merged, err := f.engine.Patch(context.Background(), tenant, alice, c.ID, Payload{
		Emails: []EmailInput{{Address: "ADA@example.com", Attrs: Attrs{Label: str("work")}}},
	})
	require.NoError(t, err)

	require.Len(t, merged.Emails, 1)
	got := merged.Emails[0]
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "work", got.Label)
	assert.True(t, got.IsPrimary, "absent attribute keeps the stored value")
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
	assert.Equal(t, created.CreatedAt.Add(time.Hour), got.UpdatedAt)
	assert.Equal(t, "ada@example.com", got.Address)
}

func TestMerge_ScopedToContact(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, Payload{FirstName: str("Ada"), Emails: []EmailInput{{Address: "shared@example.com"}}})
	b := f.create(t, Payload{FirstName: str("Grace"), Emails: []EmailInput{{Address: "shared@example.com"}}})

	assert.NotEqual(t, a.Emails[0].ID, b.Emails[0].ID)
	assert.Equal(t, a.Emails[0].Fingerprint, b.Emails[0].Fingerprint)
	assert.Equal(t, 1, f.store.Count(KindEmail, a.ID))
	assert.Equal(t, 1, f.store.Count(KindEmail, b.ID))
}

func TestMerge_ChatsAndTaxIdentifiersAreDeduplicated(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, Payload{
		FirstName:      str("Ada"),
		Chats:          []ChatInput{{Platform: "Slack", Handle: "@ada"}, {Platform: "slack", Handle: " @ADA"}},
		TaxIdentifiers: []TaxIDInput{{Kind: "VAT", Value: "DE 123-456"}, {Kind: "vat", Value: "de123456"}},
	})

	assert.Len(t, c.Chats, 1)
	assert.Len(t, c.TaxIdentifiers, 1)
}

func TestMerge_ConcurrentSameValue(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, Payload{FirstName: str("Ada")})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Patch(context.Background(), tenant, alice, c.ID, Payload{
				Phones:   []PhoneInput{{Number: "555-0100"}},
				Emails:   []EmailInput{{Address: "ada@example.com"}},
				Websites: []WebsiteInput{{URL: "https://www.example.com/"}},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.store.Count(KindPhone, c.ID))
	assert.Equal(t, 1, f.store.Count(KindEmail, c.ID))
	assert.Equal(t, 1, f.store.Count(KindWebsite, c.ID))
}

func TestPatch_OverlaysOnlyPresentScalars(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, Payload{FirstName: str("Ada"), LastName: str("Lovelace"), Company: str("Analytical")})

	patched, err := f.engine.Patch(context.Background(), tenant, alice, c.ID, Payload{Company: str("Engines Ltd")})
	require.NoError(t, err)
	assert.Equal(t, "Ada", patched.FirstName)
	assert.Equal(t, "Lovelace", patched.LastName)
	assert.Equal(t, "Engines Ltd", patched.Company)

	_, err = f.engine.Patch(context.Background(), tenant, alice, c.ID, Payload{FirstName: str(" ")})
	assert.True(t, apperror.IsValidation(err))
}

func TestUpdate_ReplacesScalars(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, Payload{
		FirstName: str("Ada"),
		LastName:  str("Lovelace"),
		Phones:    []PhoneInput{{Number: "555-0100"}},
	})

	updated, err := f.engine.Update(context.Background(), tenant, alice, c.ID, Payload{
		FirstName: str("Augusta"),
		Phones:    []PhoneInput{{Number: "555-0199"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Augusta", updated.FirstName)
	assert.Empty(t, updated.LastName)
	assert.Len(t, updated.Phones, 2, "update merges sub-entities, never removes them")

	_, err = f.engine.Update(context.Background(), tenant, alice, c.ID, Payload{LastName: str("Byron")})
	assert.True(t, apperror.IsValidation(err))
}

func TestMerge_UnknownOrForeignContact(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, Payload{FirstName: str("Ada")})

	_, err := f.engine.Patch(context.Background(), tenant, alice, uuid.New(), Payload{})
	assert.True(t, apperror.IsNotFound(err))

	other := uuid.New()
	_, err = f.engine.Patch(context.Background(), other, alice, c.ID, Payload{})
	assert.True(t, apperror.IsNotFound(err))
	_, err = f.engine.Get(context.Background(), other, c.ID)
	assert.True(t, apperror.IsNotFound(err))
}

type failingStore struct {
	*MemoryStore
	failKind Kind
}

func (s *failingStore) Upsert(ctx context.Context, e Entity, attrs Attrs, now time.Time) (bool, error) {
	if e.kind() == s.failKind {
		return false, errors.New("connection reset by peer")
	}
	return s.MemoryStore.Upsert(ctx, e, attrs, now)
}

func TestCreate_RemovesContactWhenMergeFails(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), failKind: KindEmail}
	capture := &captureAudit{}
	engine := NewEngine(store, capture)

	_, err := engine.Create(context.Background(), tenant, alice, Payload{
		FirstName: str("Ada"),
		Phones:    []PhoneInput{{Number: "555-0100"}},
		Emails:    []EmailInput{{Address: "ada@example.com"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	assert.Equal(t, 0, store.ContactCount(tenant))
	assert.Empty(t, capture.actions())
}

func TestTrashLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, Payload{FirstName: str("Ada"), Emails: []EmailInput{{Address: "ada@example.com"}}})

	_, err := f.engine.Restore(ctx, tenant, c.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConflict)
	assert.Equal(t, "CON002", apperror.MapError(err).Code)

	deleted, err := f.engine.SoftDelete(ctx, tenant, c.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)

	_, err = f.engine.Patch(ctx, tenant, alice, c.ID, Payload{LastName: str("Lovelace")})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	active, err := f.engine.List(ctx, tenant, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, active)
	trashed, err := f.engine.List(ctx, tenant, ListOptions{Trashed: true})
	require.NoError(t, err)
	assert.Len(t, trashed, 1)

	restored, err := f.engine.Restore(ctx, tenant, c.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)

	_, err = f.engine.SoftDelete(ctx, tenant, c.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	n, err := f.engine.EmptyTrash(ctx, tenant, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "contact trashed too recently")

	n, err = f.engine.EmptyTrash(ctx, tenant, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = f.engine.Get(ctx, tenant, c.ID)
	assert.True(t, apperror.IsNotFound(err))
	assert.Equal(t, 0, f.store.Count(KindEmail, c.ID))

	assert.Equal(t, []audit.Action{
		audit.ActionContactCreate,
		audit.ActionContactDelete,
		audit.ActionContactRestore,
		audit.ActionContactDelete,
		audit.ActionContactPurge,
	}, f.audit.actions())
}

func TestPurgeExpired_AcrossTenants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := uuid.New()

	a := f.create(t, Payload{FirstName: str("Ada")})
	b, err := f.engine.Create(ctx, other, bob, Payload{FirstName: str("Grace")})
	require.NoError(t, err)
	keep := f.create(t, Payload{FirstName: str("Kept")})

	_, err = f.engine.SoftDelete(ctx, tenant, a.ID)
	require.NoError(t, err)
	_, err = f.engine.SoftDelete(ctx, other, b.ID)
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	n, err := f.engine.PurgeExpired(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.engine.Get(ctx, tenant, keep.ID)
	assert.NoError(t, err)
}

func TestFindByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, Payload{FirstName: str("Ada"), Emails: []EmailInput{{Address: "ada@example.com"}}})

	id, ok, err := f.engine.FindByEmail(ctx, tenant, Payload{Emails: []EmailInput{{Address: " ADA@example.com"}}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c.ID, id)

	_, ok, err = f.engine.FindByEmail(ctx, uuid.New(), Payload{Emails: []EmailInput{{Address: "ada@example.com"}}})
	require.NoError(t, err)
	assert.False(t, ok, "other tenants never match")

	_, err = f.engine.SoftDelete(ctx, tenant, c.ID)
	require.NoError(t, err)
	_, ok, err = f.engine.FindByEmail(ctx, tenant, Payload{Emails: []EmailInput{{Address: "ada@example.com"}}})
	require.NoError(t, err)
	assert.False(t, ok, "trashed contacts never match")
}

func TestList_Paging(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"A", "B", "C"} {
		f.create(t, Payload{FirstName: str(name)})
		f.clock.Advance(time.Minute)
	}

	page, err := f.engine.List(context.Background(), tenant, ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "C", page[0].FirstName, "newest first")

	page, err = f.engine.List(context.Background(), tenant, ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "A", page[0].FirstName)

	_, err = f.engine.List(context.Background(), tenant, ListOptions{Limit: -1})
	assert.True(t, apperror.IsValidation(err))
}
