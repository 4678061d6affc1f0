package fingerprint

import "github.com/JonMunkholm/contacthub/internal/normalize"

// Address fingerprints a postal address. Normalized components are returned
// alongside so callers persist exactly what was hashed.
func Address(street, street2, city, state, postalCode, country string) (string, [6]string) {
	n := [6]string{
		normalize.Street(street),
		normalize.Street(street2),
		normalize.Text(city),
		normalize.Text(state),
		normalize.PostalCode(postalCode),
		normalize.Text(country),
	}
	return Entity(n[:]...), n
}

// Phone fingerprints a phone number.
func Phone(number string) (string, string) {
	n := normalize.Phone(number)
	return Entity(n), n
}

// Email fingerprints an email address.
func Email(address string) (string, string) {
	n := normalize.Email(address)
	return Entity(n), n
}

// Website fingerprints a URL.
func Website(url string) (string, string) {
	n := normalize.URL(url)
	return Entity(n), n
}

// Chat fingerprints a messaging handle on a platform.
func Chat(platform, handle string) (string, [2]string) {
	n := [2]string{normalize.Text(platform), normalize.Text(handle)}
	return Entity(n[:]...), n
}

// TaxID fingerprints a tax identifier of a given kind, e.g. ("vat", "DE 123").
func TaxID(kind, value string) (string, [2]string) {
	n := [2]string{normalize.Text(kind), normalize.PostalCode(value)}
	return Entity(n[:]...), n
}
