package config

import "time"

// ExportConfig contains export pipeline limits, retention, and renderer settings.
type ExportConfig struct {
	// StorageDir is the base directory for stored bundle artifacts.
	StorageDir string `env:"EXPORT_STORAGE_DIR" envDefault:"storage"`

	// TTL is the retention window for jobs and artifacts, fixed at creation.
	TTL time.Duration `env:"EXPORT_TTL" envDefault:"24h"`

	// QueueName is the Redis list the admission path enqueues job ids onto.
	QueueName string `env:"EXPORT_QUEUE_NAME" envDefault:"export_jobs"`

	// MaxRetries is the retry ceiling for transient rendering failures.
	MaxRetries int `env:"EXPORT_MAX_RETRIES" envDefault:"3"`

	// MaxTableRows is the hard upper bound on rows per table, rejected above it.
	MaxTableRows int `env:"EXPORT_MAX_TABLE_ROWS" envDefault:"100000"`

	// MaxTitleLen bounds titles and section headings.
	MaxTitleLen int `env:"EXPORT_MAX_TITLE_LEN" envDefault:"256"`

	// MaxTextLen bounds free-text fields (summary, section bodies).
	MaxTextLen int `env:"EXPORT_MAX_TEXT_LEN" envDefault:"5000"`

	// MaxSections bounds the number of sections per request.
	MaxSections int `env:"EXPORT_MAX_SECTIONS" envDefault:"200"`

	// MaxTables bounds the number of tables per request.
	MaxTables int `env:"EXPORT_MAX_TABLES" envDefault:"50"`

	// AllowedTemplates is the template selection allow-list.
	AllowedTemplates []string `env:"EXPORT_ALLOWED_TEMPLATES" envDefault:"summary,full_report"`

	// ConverterBin is the LibreOffice binary used for PDF conversion.
	ConverterBin string `env:"EXPORT_CONVERTER_BIN" envDefault:"soffice"`
}

// Sanitize applies guardrails to export configuration values.
func (e *ExportConfig) Sanitize() {
	if e.TTL < time.Minute {
		e.TTL = time.Minute
	}
	if e.MaxRetries < 0 {
		e.MaxRetries = 0
	}
	if e.MaxTableRows < 1 {
		e.MaxTableRows = 1
	}
	if e.MaxTitleLen < 1 {
		e.MaxTitleLen = 1
	}
	if e.MaxTextLen < 1 {
		e.MaxTextLen = 1
	}
	if e.QueueName == "" {
		e.QueueName = "export_jobs"
	}
}
