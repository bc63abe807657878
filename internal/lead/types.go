// Package lead defines the submission types, errors, and collaborator
// interfaces shared by the intake pipeline.
package lead

import (
	"regexp"
	"strings"
	"time"
)

// Kind names a submission variant.
type Kind string

// Submission kinds.
const (
	KindProperty Kind = "property"
	KindBusiness Kind = "business"
)

// SubmissionTypeBusiness is the wire discriminator for business submissions.
// Any other submissionType value decodes as a property submission.
const SubmissionTypeBusiness = "business_acquisition"

// Submission is implemented only by *Property and *Business.
type Submission interface {
	Kind() Kind
	ID() string
	Person() Contact
	// SetPhone replaces the phone with its normalized form.
	SetPhone(phone string)
	submission()
}

// Contact is the person part shared by both variants.
type Contact struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// FullName joins first and last name with a single space.
func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Attribution carries optional marketing attribution fields.
type Attribution struct {
	UTMSource   string `json:"utmSource,omitempty"`
	UTMMedium   string `json:"utmMedium,omitempty"`
	UTMCampaign string `json:"utmCampaign,omitempty"`
	UTMTerm     string `json:"utmTerm,omitempty"`
	UTMContent  string `json:"utmContent,omitempty"`
	GCLID       string `json:"gclid,omitempty"`
}

// Property is a property-sale lead.
type Property struct {
	Address           string `json:"address"`
	Phone             string `json:"phone"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	Email             string `json:"email"`
	PropertyCondition string `json:"propertyCondition"`
	Timeframe         string `json:"timeframe"`
	Price             string `json:"price"`
	LeadID            string `json:"leadId"`

	Comments         string `json:"comments,omitempty"`
	ReferralSource   string `json:"referralSource,omitempty"`
	StreetAddress    string `json:"streetAddress,omitempty"`
	City             string `json:"city,omitempty"`
	State            string `json:"state,omitempty"`
	PostalCode       string `json:"postalCode,omitempty"`
	IsPropertyListed bool   `json:"isPropertyListed,omitempty"`
	Consent          bool   `json:"consent,omitempty"`
	SubmissionType   string `json:"submissionType,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
	LastUpdated      string `json:"lastUpdated,omitempty"`
	Attribution
}

// Kind implements Submission.
func (*Property) Kind() Kind { return KindProperty }

// ID implements Submission.
func (p *Property) ID() string { return p.LeadID }

// Person implements Submission.
func (p *Property) Person() Contact {
	return Contact{FirstName: p.FirstName, LastName: p.LastName, Email: p.Email, Phone: p.Phone}
}

// SetPhone implements Submission.
func (p *Property) SetPhone(phone string) { p.Phone = phone }

func (*Property) submission() {}

// Business is a business-acquisition lead.
type Business struct {
	BusinessType     string `json:"businessType"`
	AnnualRevenue    string `json:"annualRevenue"`
	ReasonForSelling string `json:"reasonForSelling"`
	Timeline         string `json:"timeline"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	LeadID           string `json:"leadId"`

	SubmissionType string `json:"submissionType,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	Attribution
}

// Kind implements Submission.
func (*Business) Kind() Kind { return KindBusiness }

// ID implements Submission.
func (b *Business) ID() string { return b.LeadID }

// Person implements Submission.
func (b *Business) Person() Contact {
	return Contact{FirstName: b.FirstName, LastName: b.LastName, Email: b.Email, Phone: b.Phone}
}

// SetPhone implements Submission.
func (b *Business) SetPhone(phone string) { b.Phone = phone }

func (*Business) submission() {}

// Meta is request metadata captured by the endpoint.
type Meta struct {
	RequestID      string    `json:"requestId,omitempty"`
	ClientAddr     string    `json:"clientAddr,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	AcceptLanguage string    `json:"acceptLanguage,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// Envelope is what sinks receive.
type Envelope struct {
	Submission Submission `json:"submission"`
	Meta       Meta       `json:"meta"`
}

// DispatchResult is the per-sink outcome of one dispatch.
type DispatchResult struct {
	Sink    string `json:"sink"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

var nonDigits = regexp.MustCompile(`\D`)

// Digits strips every non-digit from s.
func Digits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// FormatTimestamp renders t the way downstream spreadsheets and webhooks show it.
func FormatTimestamp(t time.Time) string {
	return t.Format("1/2/2006, 3:04:05 PM")
}
