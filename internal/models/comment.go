package models

import "time"

// Comment belongs to a Post and is removed with it.
type Comment struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Post      int64     `json:"post"`
	Author    int64     `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}
