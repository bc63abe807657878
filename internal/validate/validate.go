// Package validate enforces required fields and formats per submission kind.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/lead-intake/internal/lead"
)

// PhonePattern is the display format the property form produces.
var PhonePattern = regexp.MustCompile(`^\(\d{3}\) \d{3}-\d{4}$`)

type field struct {
	name  string
	value string
}

// Submission checks s and returns a *lead.ValidationError naming the first
// offending field, or nil.
func Submission(s lead.Submission) error {
	switch sub := s.(type) {
	case *lead.Property:
		return Property(sub)
	case *lead.Business:
		return Business(sub)
	case nil:
		return &lead.ValidationError{Field: "submission", Reason: "Invalid data format"}
	default:
		return fmt.Errorf("unknown submission variant %T", s)
	}
}

// Property validates a property-sale submission.
func Property(p *lead.Property) error {
	if err := required([]field{
		{"address", p.Address},
		{"phone", p.Phone},
		{"firstName", p.FirstName},
		{"lastName", p.LastName},
		{"email", p.Email},
		{"propertyCondition", p.PropertyCondition},
		{"timeframe", p.Timeframe},
		{"price", p.Price},
		{"leadId", p.LeadID},
	}); err != nil {
		return err
	}
	if !PhonePattern.MatchString(p.Phone) {
		return &lead.ValidationError{Field: "phone", Reason: "Invalid phone number format"}
	}
	return nil
}

// Business validates a business-acquisition submission. Phone checks are left
// to the phone validator.
func Business(b *lead.Business) error {
	return required([]field{
		{"businessType", b.BusinessType},
		{"annualRevenue", b.AnnualRevenue},
		{"reasonForSelling", b.ReasonForSelling},
		{"timeline", b.Timeline},
		{"firstName", b.FirstName},
		{"lastName", b.LastName},
		{"email", b.Email},
		{"phone", b.Phone},
		{"leadId", b.LeadID},
	})
}

func required(fields []field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return lead.Required(f.name)
		}
	}
	return nil
}
