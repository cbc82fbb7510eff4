package models

import "time"

// File is an uploaded asset referenced by asset fields.
type File struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Extension string    `db:"extension" json:"extension"`
	MimeType  string    `db:"mime_type" json:"mime_type"`
	URL       string    `db:"url" json:"url"`
	Size      int64     `db:"size" json:"size"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type CreateFileRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	MimeType string `json:"mime_type" validate:"max=255"`
	URL      string `json:"url"`
	Size     int64  `json:"size" validate:"gte=0"`
}
