// Package model defines the core data types for the export job pipeline.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Format identifies a supported output format.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Format string

// JobStatus represents the current status of an export job.
type JobStatus string

const (
	// FormatDOCX produces a Word document.
	FormatDOCX Format = "docx"
	// FormatXLSX produces a spreadsheet with one sheet per table.
	FormatXLSX Format = "xlsx"
	// FormatTXT produces a plain-text report.
	FormatTXT Format = "txt"
	// FormatPDF produces a PDF converted from the rendered document.
	FormatPDF Format = "pdf"
	// FormatPPTX produces a slide deck, one slide per section and table.
	FormatPPTX Format = "pptx"

	// JobStatusPending indicates a job is waiting to be claimed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job has been claimed by a worker.
	JobStatusRunning JobStatus = "running"
	// JobStatusComplete indicates the bundle was written successfully.
	JobStatusComplete JobStatus = "complete"
	// JobStatusFailed indicates the job failed terminally.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the Format is a member of the closed format set.
func (f Format) Valid() bool {
	return f == FormatDOCX || f == FormatXLSX || f == FormatTXT || f == FormatPDF || f == FormatPPTX
}

// UnmarshalText implements encoding.TextUnmarshaler for Format to allow env parsing.
func (f *Format) UnmarshalText(text []byte) error {
	v := Format(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid format: %q", v)
	}
	*f = v
	return nil
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning ||
		s == JobStatusComplete || s == JobStatusFailed
}

// Terminal returns true once no further transition can leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Job is one export request's lifecycle record, tracked from admission to
// terminal state. Exactly one of ResultRef/ErrorDetail is set once the job
// is terminal; neither is set while pending or running.
type Job struct {
	ID            string          `json:"id"                     db:"id"`
	Status        JobStatus       `json:"status"                 db:"status"`
	SessionID     string          `json:"session_id"             db:"session_id"`
	UserID        *string         `json:"user_id,omitempty"      db:"user_id"`
	Formats       []Format        `json:"formats"                db:"formats"`
	Payload       json.RawMessage `json:"payload"                db:"payload"`
	PayloadDigest string          `json:"payload_digest"         db:"payload_digest"`
	ResultRef     *string         `json:"result_ref,omitempty"   db:"result_ref"`
	ErrorDetail   *string         `json:"error_detail,omitempty" db:"error_detail"`
	Progress      int             `json:"progress"               db:"progress"`
	DownloadCode  *string         `json:"download_code,omitempty" db:"download_code"`
	RetryCount    int             `json:"retry_count"            db:"retry_count"`
	MaxRetries    int             `json:"max_retries"            db:"max_retries"`
	ClaimedAt     *time.Time      `json:"claimed_at,omitempty"   db:"claimed_at"`
	CreatedAt     time.Time       `json:"created_at"             db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"             db:"updated_at"`
	ExpiresAt     time.Time       `json:"expires_at"             db:"expires_at"`
}

// Section is one heading/body block of the export payload.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Table is an ordered tabular block of the export payload. Rows map column
// names to scalar values; order is taken from Columns.
type Table struct {
	Name    string           `json:"name"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// ExportOptions carries rendering options validated against configured allow-lists.
type ExportOptions struct {
	Template        string `json:"template,omitempty"`
	Locale          string `json:"locale,omitempty"`
	PageOrientation string `json:"page_orientation,omitempty"`
}

// ExportRequest is the admission payload. Its bounds are validated once at
// admission; downstream consumers trust a persisted payload implicitly.
type ExportRequest struct {
	Title     string        `json:"title"`
	Summary   string        `json:"summary"`
	SessionID string        `json:"session_id"`
	UserID    *string       `json:"user_id,omitempty"`
	Sections  []Section     `json:"sections"`
	Tables    []Table       `json:"tables"`
	Formats   []Format      `json:"formats"`
	Options   ExportOptions `json:"options"`
}

// RequestLimits holds the admission bounds for an ExportRequest.
type RequestLimits struct {
	MaxTitleLen      int
	MaxTextLen       int
	MaxSections      int
	MaxTables        int
	MaxTableRows     int
	AllowedTemplates []string
}

// ValidationError describes which admission bound a request violated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Validate checks every admission bound against the given limits.
func (r *ExportRequest) Validate(limits RequestLimits) error {
	if strings.TrimSpace(r.Title) == "" {
		return invalid("title", "is required")
	}
	if len(r.Title) > limits.MaxTitleLen {
		return invalid("title", fmt.Sprintf("exceeds %d characters", limits.MaxTitleLen))
	}
	if len(r.Summary) > limits.MaxTextLen {
		return invalid("summary", fmt.Sprintf("exceeds %d characters", limits.MaxTextLen))
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return invalid("session_id", "is required")
	}
	if err := r.validateFormats(); err != nil {
		return err
	}
	if err := r.validateSections(limits); err != nil {
		return err
	}
	if err := r.validateTables(limits); err != nil {
		return err
	}
	return r.Options.validate(limits)
}

func (r *ExportRequest) validateFormats() error {
	if len(r.Formats) == 0 {
		return invalid("formats", "at least one format is required")
	}
	seen := make(map[Format]bool, len(r.Formats))
	for _, f := range r.Formats {
		if !f.Valid() {
			return invalid("formats", fmt.Sprintf("unknown format %q", f))
		}
		if seen[f] {
			return invalid("formats", fmt.Sprintf("duplicate format %q", f))
		}
		seen[f] = true
	}
	return nil
}

func (r *ExportRequest) validateSections(limits RequestLimits) error {
	if limits.MaxSections > 0 && len(r.Sections) > limits.MaxSections {
		return invalid("sections", fmt.Sprintf("exceeds %d sections", limits.MaxSections))
	}
	for i, s := range r.Sections {
		if strings.TrimSpace(s.Heading) == "" {
			return invalid(fmt.Sprintf("sections[%d].heading", i), "is required")
		}
		if len(s.Heading) > limits.MaxTitleLen {
			return invalid(fmt.Sprintf("sections[%d].heading", i),
				fmt.Sprintf("exceeds %d characters", limits.MaxTitleLen))
		}
		if len(s.Body) > limits.MaxTextLen {
			return invalid(fmt.Sprintf("sections[%d].body", i),
				fmt.Sprintf("exceeds %d characters", limits.MaxTextLen))
		}
	}
	return nil
}

func (r *ExportRequest) validateTables(limits RequestLimits) error {
	if limits.MaxTables > 0 && len(r.Tables) > limits.MaxTables {
		return invalid("tables", fmt.Sprintf("exceeds %d tables", limits.MaxTables))
	}
	for i, t := range r.Tables {
		if strings.TrimSpace(t.Name) == "" {
			return invalid(fmt.Sprintf("tables[%d].name", i), "is required")
		}
		if len(t.Rows) > limits.MaxTableRows {
			return invalid(fmt.Sprintf("tables[%d].rows", i),
				fmt.Sprintf("exceeds %d rows", limits.MaxTableRows))
		}
	}
	return nil
}

// localePattern accepts BCP 47 language-region tags like "en" or "en-US".
var localePattern = regexp.MustCompile(`^[a-z]{2,3}(-[A-Z]{2})?$`)

func (o ExportOptions) validate(limits RequestLimits) error {
	if o.Locale != "" && !localePattern.MatchString(o.Locale) {
		return invalid("options.locale", "must be a language tag like en or en-US")
	}
	if o.Template != "" {
		allowed := false
		for _, t := range limits.AllowedTemplates {
			if o.Template == t {
				allowed = true
				break
			}
		}
		if !allowed {
			return invalid("options.template", fmt.Sprintf("template %q is not allowed", o.Template))
		}
	}
	switch o.PageOrientation {
	case "", "portrait", "landscape":
	default:
		return invalid("options.page_orientation", "must be portrait or landscape")
	}
	return nil
}

// MarshalPayload returns the canonical JSON form persisted with the job.
// Digest hashes these same bytes, so stored payload and digest always agree.
func (r *ExportRequest) MarshalPayload() (json.RawMessage, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}
	return raw, nil
}

// Digest returns the canonical sha256 digest of the request payload,
// used for admission-time deduplication.
func (r *ExportRequest) Digest() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal request for digest: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// JobStatusResponse is the read-only status view exposed upward. Progress is
// advisory; DownloadCode and ResultRef appear once the job is complete.
type JobStatusResponse struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	Error        *string   `json:"error,omitempty"`
	ResultRef    *string   `json:"result_ref,omitempty"`
	DownloadCode *string   `json:"download_code,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// JobStats summarizes jobs per state.
type JobStats struct {
	Pending  int `json:"pending"`
	Running  int `json:"running"`
	Complete int `json:"complete"`
	Failed   int `json:"failed"`
}
