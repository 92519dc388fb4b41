package rental

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
)

// ErrInvalidInput is wrapped by every validation failure.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError reports one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ListingInput is the user-supplied content of a listing.
type ListingInput struct {
	URL                 string   `json:"url"`
	Rent                float64  `json:"rent"`
	Expenses            *float64 `json:"expenses,omitempty"`
	AgencyFee           *float64 `json:"agencyFee,omitempty"`
	Deposit             string   `json:"deposit,omitempty"`
	AdjustmentFrequency string   `json:"adjustmentFrequency,omitempty"`
	AdjustmentIndex     string   `json:"adjustmentIndex,omitempty"`
}

// Validate checks every field and returns the normalized input. All field
// errors are reported together; each wraps ErrInvalidInput.
func (in ListingInput) Validate() (ListingInput, error) {
	var errs []error
	out := in

	u, err := validateURL(in.URL)
	if err != nil {
		errs = append(errs, err)
	}
	out.URL = u

	if err := validateRent(in.Rent); err != nil {
		errs = append(errs, err)
	}
	if err := validateOptionalAmount("expenses", in.Expenses); err != nil {
		errs = append(errs, err)
	}
	if err := validateOptionalAmount("agencyFee", in.AgencyFee); err != nil {
		errs = append(errs, err)
	}
	out.Deposit = strings.TrimSpace(in.Deposit)

	freq, err := ParseFrequency(in.AdjustmentFrequency)
	if err != nil {
		errs = append(errs, err)
	}
	out.AdjustmentFrequency = string(freq)

	idx, err := ParseIndex(in.AdjustmentIndex)
	if err != nil {
		errs = append(errs, err)
	}
	out.AdjustmentIndex = string(idx)

	if len(errs) > 0 {
		return in, errors.Join(errs...)
	}
	return out, nil
}

// listing builds the stored listing for a validated input.
func (in ListingInput) listing(sid, created string) Listing {
	return Listing{
		SessionID:           sid,
		URL:                 in.URL,
		Rent:                in.Rent,
		Expenses:            in.Expenses,
		AgencyFee:           in.AgencyFee,
		Deposit:             in.Deposit,
		AdjustmentFrequency: Frequency(in.AdjustmentFrequency),
		AdjustmentIndex:     Index(in.AdjustmentIndex),
		CreationDate:        created,
	}
}

// ListingPatch is a partial listing edit. Nil fields are left unchanged;
// Clear names optional fields (expenses, agencyFee, deposit) to remove.
type ListingPatch struct {
	URL                 *string  `json:"url,omitempty"`
	Rent                *float64 `json:"rent,omitempty"`
	Expenses            *float64 `json:"expenses,omitempty"`
	AgencyFee           *float64 `json:"agencyFee,omitempty"`
	Deposit             *string  `json:"deposit,omitempty"`
	AdjustmentFrequency *string  `json:"adjustmentFrequency,omitempty"`
	AdjustmentIndex     *string  `json:"adjustmentIndex,omitempty"`
	Clear               []string `json:"clear,omitempty"`
}

// Fields validates the patch and returns the document fields to update.
func (p ListingPatch) Fields() (map[string]interface{}, error) {
	var errs []error
	fields := make(map[string]interface{})

	for _, name := range p.Clear {
		switch name {
		case "expenses", "agencyFee", "deposit":
			fields[name] = nil
		default:
			errs = append(errs, invalid("clear", "%q cannot be cleared", name))
		}
	}

	if p.URL != nil {
		u, err := validateURL(*p.URL)
		if err != nil {
			errs = append(errs, err)
		}
		fields["url"] = u
	}
	if p.Rent != nil {
		if err := validateRent(*p.Rent); err != nil {
			errs = append(errs, err)
		}
		fields["rent"] = *p.Rent
	}
	if p.Expenses != nil {
		if err := validateOptionalAmount("expenses", p.Expenses); err != nil {
			errs = append(errs, err)
		}
		fields["expenses"] = *p.Expenses
	}
	if p.AgencyFee != nil {
		if err := validateOptionalAmount("agencyFee", p.AgencyFee); err != nil {
			errs = append(errs, err)
		}
		fields["agencyFee"] = *p.AgencyFee
	}
	if p.Deposit != nil {
		if d := strings.TrimSpace(*p.Deposit); d != "" {
			fields["deposit"] = d
		} else {
			fields["deposit"] = nil
		}
	}
	if p.AdjustmentFrequency != nil {
		freq, err := ParseFrequency(*p.AdjustmentFrequency)
		if err != nil {
			errs = append(errs, err)
		}
		fields["adjustmentFrequency"] = string(freq)
	}
	if p.AdjustmentIndex != nil {
		idx, err := ParseIndex(*p.AdjustmentIndex)
		if err != nil {
			errs = append(errs, err)
		}
		fields["adjustmentIndex"] = string(idx)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(fields) == 0 {
		return nil, invalid("listing", "nothing to update")
	}
	return fields, nil
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw, invalid("url", "is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return raw, invalid("url", "must be a valid http(s) URL")
	}
	return raw, nil
}

func validateRent(rent float64) error {
	if math.IsNaN(rent) || math.IsInf(rent, 0) || rent <= 0 {
		return invalid("rent", "must be a positive number")
	}
	return nil
}

func validateOptionalAmount(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return invalid(field, "must be zero or more")
	}
	return nil
}

// ParseFrequency accepts a frequency name. Empty and "desconocido" mean unknown.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown", "desconocido":
		return FrequencyUnknown, nil
	case "trimestral":
		return FrequencyQuarterly, nil
	case "cuatrimestral":
		return FrequencyFourMonthly, nil
	case "semestral":
		return FrequencySemiannual, nil
	}
	return FrequencyUnknown, invalid("adjustmentFrequency", "must be trimestral, cuatrimestral, semestral or unknown")
}

// ParseIndex accepts an index name. Empty and "desconocido" mean unknown.
func ParseIndex(s string) (Index, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "UNKNOWN", "DESCONOCIDO":
		return IndexUnknown, nil
	case "IPC":
		return IndexIPC, nil
	case "ICL":
		return IndexICL, nil
	}
	return IndexUnknown, invalid("adjustmentIndex", "must be IPC, ICL or unknown")
}

// validateSessionName trims and checks a session title.
func validateSessionName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name", "is required")
	}
	return name, nil
}

// validateCommentText trims and checks a comment body.
func validateCommentText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", invalid("text", "is required")
	}
	return text, nil
}
