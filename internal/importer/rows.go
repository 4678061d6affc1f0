package importer

import (
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/contacthub/internal/contact"
	"github.com/JonMunkholm/contacthub/internal/mapping"
)

// Row is one unit of a bulk request.
type Row interface {
	ToPayload() (contact.Payload, error)
}

// targeted rows name the contact they merge into.
type targeted interface {
	Target() *uuid.UUID
}

// ImportRow is a flattened file row keyed by canonical field. Email, phone
// and website may be fed by several columns; every other field keeps the
// last non-empty column mapped to it.
type ImportRow struct {
	FirstName    string   `json:"firstName,omitempty"`
	LastName     string   `json:"lastName,omitempty"`
	Company      string   `json:"company,omitempty"`
	JobTitle     string   `json:"jobTitle,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	Emails       []string `json:"emails,omitempty"`
	Phones       []string `json:"phones,omitempty"`
	Websites     []string `json:"websites,omitempty"`
	Street       string   `json:"street,omitempty"`
	Street2      string   `json:"street2,omitempty"`
	City         string   `json:"city,omitempty"`
	State        string   `json:"state,omitempty"`
	PostalCode   string   `json:"postalCode,omitempty"`
	Country      string   `json:"country,omitempty"`
	ChatPlatform string   `json:"chatPlatform,omitempty"`
	ChatHandle   string   `json:"chatHandle,omitempty"`
	TaxIDType    string   `json:"taxIdType,omitempty"`
	TaxID        string   `json:"taxId,omitempty"`
}

// Set assigns value to the canonical field. Blank values and unknown fields
// are ignored.
func (r *ImportRow) Set(field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	switch field {
	case mapping.FieldFirstName:
		r.FirstName = value
	case mapping.FieldLastName:
		r.LastName = value
	case mapping.FieldCompany:
		r.Company = value
	case mapping.FieldJobTitle:
		r.JobTitle = value
	case mapping.FieldNotes:
		r.Notes = value
	case mapping.FieldEmail:
		r.Emails = append(r.Emails, value)
	case mapping.FieldPhone:
		r.Phones = append(r.Phones, value)
	case mapping.FieldWebsite:
		r.Websites = append(r.Websites, value)
	case mapping.FieldStreet:
		r.Street = value
	case mapping.FieldStreet2:
		r.Street2 = value
	case mapping.FieldCity:
		r.City = value
	case mapping.FieldState:
		r.State = value
	case mapping.FieldPostalCode:
		r.PostalCode = value
	case mapping.FieldCountry:
		r.Country = value
	case mapping.FieldChatPlatform:
		r.ChatPlatform = value
	case mapping.FieldChatHandle:
		r.ChatHandle = value
	case mapping.FieldTaxIDType:
		r.TaxIDType = value
	case mapping.FieldTaxID:
		r.TaxID = value
	}
}

// ToPayload builds a contact payload. Empty scalars are left absent so a
// merge never clears stored values.
func (r ImportRow) ToPayload() (contact.Payload, error) {
	p := contact.Payload{
		FirstName: optional(r.FirstName),
		LastName:  optional(r.LastName),
		Company:   optional(r.Company),
		JobTitle:  optional(r.JobTitle),
		Notes:     optional(r.Notes),
	}
	for _, v := range r.Emails {
		p.Emails = append(p.Emails, contact.EmailInput{Address: v})
	}
	for _, v := range r.Phones {
		p.Phones = append(p.Phones, contact.PhoneInput{Number: v})
	}
	for _, v := range r.Websites {
		p.Websites = append(p.Websites, contact.WebsiteInput{URL: v})
	}
	if r.Street+r.Street2+r.City+r.State+r.PostalCode+r.Country != "" {
		p.Addresses = []contact.AddressInput{{
			Street:     r.Street,
			Street2:    r.Street2,
			City:       r.City,
			State:      r.State,
			PostalCode: r.PostalCode,
			Country:    r.Country,
		}}
	}
	if r.ChatHandle != "" {
		p.Chats = []contact.ChatInput{{Platform: r.ChatPlatform, Handle: r.ChatHandle}}
	}
	if r.TaxID != "" {
		p.TaxIdentifiers = []contact.TaxIDInput{{Kind: r.TaxIDType, Value: r.TaxID}}
	}
	return p, nil
}

// ContactRow is a nested bulk-create row carrying full sub-entity arrays.
// ContactID, when set, merges the row into that contact instead of creating
// one.
type ContactRow struct {
	ContactID *uuid.UUID `json:"contactId,omitempty"`
	contact.Payload
}

func (r ContactRow) ToPayload() (contact.Payload, error) {
	return r.Payload, nil
}

func (r ContactRow) Target() *uuid.UUID {
	return r.ContactID
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
