package entity

import "time"

// DocumentRecord is the persisted metadata for one generated document.
// The rendered bytes live in object storage under StorageKey.
type DocumentRecord struct {
	ID            string     `json:"id"`
	DocumentType  string     `json:"document_type"`
	CustomerID    string     `json:"customer_id"`
	CompanyID     string     `json:"company_id"`
	SourceFormID  string     `json:"source_form_id"`
	TaxYear       int        `json:"tax_year"`
	StorageKey    string     `json:"storage_key,omitempty"`
	ContentDigest string     `json:"content_digest,omitempty"`
	SizeBytes     int64      `json:"size_bytes"`
	MimeType      string     `json:"mime_type,omitempty"`
	Status        string     `json:"status"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	GenerationMs  int64      `json:"generation_ms"`
	RenderInput   string     `json:"render_input,omitempty"`
	DownloadCount int        `json:"download_count"`
	ResendCount   int        `json:"resend_count"`
	LastResentAt  *time.Time `json:"last_resent_at,omitempty"`
	SupersededBy  string     `json:"superseded_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsAvailable reports whether the document can be downloaded.
func (d *DocumentRecord) IsAvailable() bool {
	return d.Status == DocumentStatusAvailable && d.StorageKey != "" && d.ContentDigest != ""
}

// IsValidDocumentType reports whether t belongs to the closed set of document types.
func IsValidDocumentType(t string) bool {
	switch t {
	case DocumentTypePrimaryForm, DocumentTypeNarrative, DocumentTypeMemo:
		return true
	}
	return false
}
