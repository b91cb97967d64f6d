package models

import "time"

// Post is a published blog entry. CreatedAt is assigned by the store; a zero
// CreatedAt means the append has not been acknowledged by the server yet, and
// such posts order as if written at time zero.
type Post struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p Post) Pending() bool {
	return p.CreatedAt.IsZero()
}

type CreatePostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (r *CreatePostRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Title == "" {
		errors["title"] = "Title is required"
	}
	if r.Content == "" {
		errors["content"] = "Content is required"
	}

	return errors
}

// PostFromFields rebuilds a Post from a snapshot document. Missing or
// mistyped fields decode to their zero values; the list stays renderable
// even when a concurrent writer ships a partial document.
func PostFromFields(id string, fields map[string]any) Post {
	return Post{
		ID:         id,
		Title:      stringField(fields, "title"),
		Content:    stringField(fields, "content"),
		AuthorID:   stringField(fields, "authorId"),
		AuthorName: stringField(fields, "authorName"),
		CreatedAt:  timeField(fields, "createdAt"),
	}
}

func stringField(fields map[string]any, key string) string {
	v, _ := fields[key].(string)
	return v
}

func timeField(fields map[string]any, key string) time.Time {
	v, _ := fields[key].(time.Time)
	return v
}
