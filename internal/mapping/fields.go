package mapping

// Canonical contact fields a source column can map to.
const (
	FieldFirstName    = "firstName"
	FieldLastName     = "lastName"
	FieldCompany      = "company"
	FieldJobTitle     = "jobTitle"
	FieldNotes        = "notes"
	FieldEmail        = "email"
	FieldPhone        = "phone"
	FieldWebsite      = "website"
	FieldStreet       = "street"
	FieldStreet2      = "street2"
	FieldCity         = "city"
	FieldState        = "state"
	FieldPostalCode   = "postalCode"
	FieldCountry      = "country"
	FieldChatPlatform = "chatPlatform"
	FieldChatHandle   = "chatHandle"
	FieldTaxIDType    = "taxIdType"
	FieldTaxID        = "taxId"
)

// Fields lists every canonical field in a stable order.
var Fields = []string{
	FieldFirstName, FieldLastName, FieldCompany, FieldJobTitle, FieldNotes,
	FieldEmail, FieldPhone, FieldWebsite,
	FieldStreet, FieldStreet2, FieldCity, FieldState, FieldPostalCode, FieldCountry,
	FieldChatPlatform, FieldChatHandle, FieldTaxIDType, FieldTaxID,
}

// multiValued fields may be fed by several columns; each column yields one item.
var multiValued = map[string]bool{
	FieldEmail:   true,
	FieldPhone:   true,
	FieldWebsite: true,
}

// IsField reports whether name is a canonical field.
func IsField(name string) bool {
	for _, f := range Fields {
		if f == name {
			return true
		}
	}
	return false
}

// MultiValued reports whether several columns may map to field.
func MultiValued(field string) bool {
	return multiValued[field]
}
