package contact

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/fingerprint"
)

// Payload is the canonical contact input. Nil scalar fields are absent:
// a merge leaves them unchanged and a replace clears them.
type Payload struct {
	FirstName *string `json:"firstName,omitempty" validate:"omitempty,max=200"`
	LastName  *string `json:"lastName,omitempty" validate:"omitempty,max=200"`
	Company   *string `json:"company,omitempty" validate:"omitempty,max=300"`
	JobTitle  *string `json:"jobTitle,omitempty" validate:"omitempty,max=200"`
	Notes     *string `json:"notes,omitempty" validate:"omitempty,max=10000"`

	Addresses      []AddressInput `json:"addresses,omitempty" validate:"omitempty,max=100,dive"`
	Phones         []PhoneInput   `json:"phones,omitempty" validate:"omitempty,max=100,dive"`
	Emails         []EmailInput   `json:"emails,omitempty" validate:"omitempty,max=100,dive"`
	Websites       []WebsiteInput `json:"websites,omitempty" validate:"omitempty,max=100,dive"`
	Chats          []ChatInput    `json:"chats,omitempty" validate:"omitempty,max=100,dive"`
	TaxIdentifiers []TaxIDInput   `json:"taxIdentifiers,omitempty" validate:"omitempty,max=100,dive"`
}

// Attrs are the non-identity attributes of a sub-entity item. Nil means
// "keep the stored value" when the item matches an existing row.
type Attrs struct {
	Label     *string `json:"label,omitempty" validate:"omitempty,max=100"`
	IsPrimary *bool   `json:"isPrimary,omitempty"`
}

type AddressInput struct {
	Attrs
	Street     string `json:"street" validate:"max=500"`
	Street2    string `json:"street2" validate:"max=500"`
	City       string `json:"city" validate:"max=200"`
	State      string `json:"state" validate:"max=200"`
	PostalCode string `json:"postalCode" validate:"max=50"`
	Country    string `json:"country" validate:"max=100"`
}

type PhoneInput struct {
	Attrs
	Number string `json:"number" validate:"required,max=50"`
}

type EmailInput struct {
	Attrs
	Address string `json:"address" validate:"required,max=320"`
}

type WebsiteInput struct {
	Attrs
	URL string `json:"url" validate:"required,max=2048"`
}

type ChatInput struct {
	Attrs
	Platform string `json:"platform" validate:"max=100"`
	Handle   string `json:"handle" validate:"required,max=200"`
}

type TaxIDInput struct {
	Attrs
	Kind  string `json:"kind" validate:"max=50"`
	Value string `json:"value" validate:"required,max=100"`
}

// item is one sub-entity ready to be merged: a normalized, fingerprinted
// entity plus the attributes to overlay.
type item struct {
	entity Entity
	attrs  Attrs
}

// items normalizes and fingerprints every sub-entity of p, grouped by kind.
// Items whose identity normalizes to nothing are skipped.
func (p *Payload) items() map[Kind][]item {
	out := make(map[Kind][]item, len(Kinds))

	for _, in := range p.Addresses {
		fp, n := fingerprint.Address(in.Street, in.Street2, in.City, in.State, in.PostalCode, in.Country)
		if n == ([6]string{}) {
			continue
		}
		a := &Address{Street: n[0], Street2: n[1], City: n[2], State: n[3], PostalCode: n[4], Country: n[5]}
		a.Fingerprint = fp
		out[KindAddress] = append(out[KindAddress], item{a, in.Attrs})
	}
	for _, in := range p.Phones {
		if fp, n := fingerprint.Phone(in.Number); n != "" {
			e := &Phone{Number: n}
			e.Fingerprint = fp
			out[KindPhone] = append(out[KindPhone], item{e, in.Attrs})
		}
	}
	for _, in := range p.Emails {
		if fp, n := fingerprint.Email(in.Address); n != "" {
			e := &Email{Address: n}
			e.Fingerprint = fp
			out[KindEmail] = append(out[KindEmail], item{e, in.Attrs})
		}
	}
	for _, in := range p.Websites {
		if fp, n := fingerprint.Website(in.URL); n != "" {
			e := &Website{URL: n}
			e.Fingerprint = fp
			out[KindWebsite] = append(out[KindWebsite], item{e, in.Attrs})
		}
	}
	for _, in := range p.Chats {
		if fp, n := fingerprint.Chat(in.Platform, in.Handle); n[1] != "" {
			e := &Chat{Platform: n[0], Handle: n[1]}
			e.Fingerprint = fp
			out[KindChat] = append(out[KindChat], item{e, in.Attrs})
		}
	}
	for _, in := range p.TaxIdentifiers {
		if fp, n := fingerprint.TaxID(in.Kind, in.Value); n[1] != "" {
			e := &TaxIdentifier{Kind: n[0], Value: n[1]}
			e.Fingerprint = fp
			out[KindTaxID] = append(out[KindTaxID], item{e, in.Attrs})
		}
	}
	return out
}

// EmailFingerprints returns the fingerprints of every email in p.
func (p *Payload) EmailFingerprints() []string {
	var out []string
	for _, in := range p.Emails {
		if fp, n := fingerprint.Email(in.Address); n != "" {
			out = append(out, fp)
		}
	}
	return out
}

// newValidator builds a validator reporting JSON field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// toValidationError flattens validator errors into one apperror.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.Validation("invalid payload: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s exceeds maximum length %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", field, fe.Tag()))
		}
	}
	return apperror.Validation("%s", strings.Join(msgs, "; "))
}

func clean(s *string) string {
	if s == nil {
		return ""
	}
	return strings.Join(strings.Fields(*s), " ")
}

// trimNotes keeps line breaks inside notes and trims the ends.
func trimNotes(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
