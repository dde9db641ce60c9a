package domain

import (
	"time"

	"github.com/google/uuid"
)

// Issue is a prepared newsletter edition. Content generation happens
// upstream; a delivery run only reads the latest stored issue.
type Issue struct {
	ID        uuid.UUID `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Subject   string    `json:"subject"`
	HTMLBody  string    `json:"html_body"`
	TextBody  string    `json:"text_body"`
	CreatedAt time.Time `json:"created_at"`
}
