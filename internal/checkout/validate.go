package checkout

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
)

const shippingCountry = "AU"

var (
	australianStates = map[string]bool{
		"NSW": true, "VIC": true, "QLD": true, "WA": true,
		"SA": true, "TAS": true, "ACT": true, "NT": true,
	}
	postcodePattern = regexp.MustCompile(`^[0-9]{4}$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9 ()-]+$`)
)

// Request is the checkout input as posted by the storefront.
type Request struct {
	Items           []domain.CartLine   `json:"items"`
	CustomerInfo    domain.CustomerInfo `json:"customerInfo"`
	ShippingAddress AddressInput        `json:"shippingAddress"`
}

type AddressInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address   string `json:"address"`
	Suburb    string `json:"suburb"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
}

// Validate checks contact and address fields and returns them normalized.
func (req Request) Validate() (domain.CustomerInfo, domain.ShippingAddress, error) {
	customer := domain.CustomerInfo{
		Email: strings.TrimSpace(req.CustomerInfo.Email),
		Phone: strings.TrimSpace(req.CustomerInfo.Phone),
	}
	in := req.ShippingAddress
	addr := domain.ShippingAddress{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Street:    strings.TrimSpace(in.Address),
		Suburb:    strings.TrimSpace(in.Suburb),
		State:     strings.ToUpper(strings.TrimSpace(in.State)),
		Postcode:  strings.TrimSpace(in.Postcode),
		Country:   shippingCountry,
	}

	if err := validateEmail(customer.Email); err != nil {
		return domain.CustomerInfo{}, domain.ShippingAddress{}, err
	}
	if err := validatePhone(customer.Phone); err != nil {
		return domain.CustomerInfo{}, domain.ShippingAddress{}, err
	}

	for _, f := range []struct {
		name     string
		value    string
		min, max int
	}{
		{"firstName", addr.FirstName, 1, 50},
		{"lastName", addr.LastName, 1, 50},
		{"address", addr.Street, 5, 200},
		{"suburb", addr.Suburb, 2, 50},
	} {
		if n := utf8.RuneCountInString(f.value); n < f.min || n > f.max {
			return domain.CustomerInfo{}, domain.ShippingAddress{}, &ValidationError{
				Field:   f.name,
				Message: fmt.Sprintf("must be between %d and %d characters", f.min, f.max),
			}
		}
	}

	if !australianStates[addr.State] {
		return domain.CustomerInfo{}, domain.ShippingAddress{}, &ValidationError{Field: "state", Message: "must be an Australian state or territory"}
	}
	if !postcodePattern.MatchString(addr.Postcode) {
		return domain.CustomerInfo{}, domain.ShippingAddress{}, &ValidationError{Field: "postcode", Message: "must be 4 digits"}
	}

	return customer, addr, nil
}

func validateEmail(email string) error {
	if email == "" || len(email) > 254 {
		return &ValidationError{Field: "email", Message: "is required and must be at most 254 characters"}
	}
	if !domain.ValidEmail(email) {
		return &ValidationError{Field: "email", Message: "is not a valid address"}
	}
	return nil
}

func validatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return &ValidationError{Field: "phone", Message: "may contain only digits, spaces, parentheses, dashes and a leading +"}
	}
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 8 || digits > 15 {
		return &ValidationError{Field: "phone", Message: "must contain between 8 and 15 digits"}
	}
	return nil
}
