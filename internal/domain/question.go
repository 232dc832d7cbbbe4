package domain

import "time"

// Question is a saved question/answer pair with the files used to answer it.
type Question struct {
	ID             string          `json:"id"              db:"id"`
	ProjectID      string          `json:"project_id"      db:"project_id"`
	Question       string          `json:"question"        db:"question"`
	Answer         string          `json:"answer"          db:"answer"`
	FileReferences []FileReference `json:"file_references" db:"file_references"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
}
