// Package contact stores tenant-scoped contacts and merges their repeatable
// sub-entities without creating duplicates.
//
// Each address, phone, email, website, chat handle and tax identifier is
// normalized and fingerprinted. Within one (tenant, contact) scope a
// fingerprint identifies at most one row: a repeated value updates the
// existing row's label and primary flag instead of inserting a copy.
package contact

import (
	"time"

	"github.com/google/uuid"
)

// Kind names a sub-entity collection.
type Kind string

const (
	KindAddress Kind = "address"
	KindPhone   Kind = "phone"
	KindEmail   Kind = "email"
	KindWebsite Kind = "website"
	KindChat    Kind = "chat"
	KindTaxID   Kind = "tax_identifier"
)

// Kinds lists every sub-entity collection.
var Kinds = []Kind{KindAddress, KindPhone, KindEmail, KindWebsite, KindChat, KindTaxID}

// Contact is the canonical person record. DeletedAt is set while the contact
// is in the trash.
type Contact struct {
	ID        uuid.UUID  `json:"id"`
	TenantID  uuid.UUID  `json:"tenantId"`
	OwnerID   uuid.UUID  `json:"ownerId"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Company   string     `json:"company"`
	JobTitle  string     `json:"jobTitle"`
	Notes     string     `json:"notes"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt"`

	Addresses      []Address       `json:"addresses"`
	Phones         []Phone         `json:"phones"`
	Emails         []Email         `json:"emails"`
	Websites       []Website       `json:"websites"`
	Chats          []Chat          `json:"chats"`
	TaxIdentifiers []TaxIdentifier `json:"taxIdentifiers"`
}

// Deleted reports whether the contact is in the trash.
func (c *Contact) Deleted() bool { return c.DeletedAt != nil }

// SubEntity holds the columns shared by every sub-entity row. Label and
// IsPrimary are the only attributes a repeated value can change.
type SubEntity struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenantId"`
	ContactID   uuid.UUID  `json:"contactId"`
	OwnerID     uuid.UUID  `json:"ownerId"`
	Fingerprint string     `json:"fingerprint"`
	Label       string     `json:"label"`
	IsPrimary   bool       `json:"isPrimary"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

func (s *SubEntity) Base() *SubEntity { return s }

type Address struct {
	SubEntity
	Street     string `json:"street"`
	Street2    string `json:"street2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type Phone struct {
	SubEntity
	Number string `json:"number"`
}

type Email struct {
	SubEntity
	Address string `json:"address"`
}

type Website struct {
	SubEntity
	URL string `json:"url"`
}

type Chat struct {
	SubEntity
	Platform string `json:"platform"`
	Handle   string `json:"handle"`
}

type TaxIdentifier struct {
	SubEntity
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Entity is implemented by pointers to every sub-entity type.
type Entity interface {
	Base() *SubEntity
	kind() Kind
	identity() []any
}

func (*Address) kind() Kind       { return KindAddress }
func (*Phone) kind() Kind         { return KindPhone }
func (*Email) kind() Kind         { return KindEmail }
func (*Website) kind() Kind       { return KindWebsite }
func (*Chat) kind() Kind          { return KindChat }
func (*TaxIdentifier) kind() Kind { return KindTaxID }

func (a *Address) identity() []any {
	return []any{a.Street, a.Street2, a.City, a.State, a.PostalCode, a.Country}
}
func (p *Phone) identity() []any         { return []any{p.Number} }
func (e *Email) identity() []any         { return []any{e.Address} }
func (w *Website) identity() []any       { return []any{w.URL} }
func (c *Chat) identity() []any          { return []any{c.Platform, c.Handle} }
func (t *TaxIdentifier) identity() []any { return []any{t.Kind, t.Value} }

// cloneEntity returns an independent copy of e.
func cloneEntity(e Entity) Entity {
	switch v := e.(type) {
	case *Address:
		c := *v
		return &c
	case *Phone:
		c := *v
		return &c
	case *Email:
		c := *v
		return &c
	case *Website:
		c := *v
		return &c
	case *Chat:
		c := *v
		return &c
	case *TaxIdentifier:
		c := *v
		return &c
	}
	panic("contact: unknown entity type")
}

// attach appends e to the matching collection of c.
func (c *Contact) attach(e Entity) {
	switch v := e.(type) {
	case *Address:
		c.Addresses = append(c.Addresses, *v)
	case *Phone:
		c.Phones = append(c.Phones, *v)
	case *Email:
		c.Emails = append(c.Emails, *v)
	case *Website:
		c.Websites = append(c.Websites, *v)
	case *Chat:
		c.Chats = append(c.Chats, *v)
	case *TaxIdentifier:
		c.TaxIdentifiers = append(c.TaxIdentifiers, *v)
	}
}

// newEntity returns an empty entity of kind k, used when scanning rows.
func newEntity(k Kind) Entity {
	switch k {
	case KindAddress:
		return &Address{}
	case KindPhone:
		return &Phone{}
	case KindEmail:
		return &Email{}
	case KindWebsite:
		return &Website{}
	case KindChat:
		return &Chat{}
	case KindTaxID:
		return &TaxIdentifier{}
	}
	panic("contact: unknown kind " + string(k))
}

// identityTargets returns scan destinations for the identity columns of e.
func identityTargets(e Entity) []any {
	switch v := e.(type) {
	case *Address:
		return []any{&v.Street, &v.Street2, &v.City, &v.State, &v.PostalCode, &v.Country}
	case *Phone:
		return []any{&v.Number}
	case *Email:
		return []any{&v.Address}
	case *Website:
		return []any{&v.URL}
	case *Chat:
		return []any{&v.Platform, &v.Handle}
	case *TaxIdentifier:
		return []any{&v.Kind, &v.Value}
	}
	panic("contact: unknown entity type")
}
