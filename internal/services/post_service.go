package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/isdelr/ender-blog-be/internal/database"
	"github.com/isdelr/ender-blog-be/internal/models"
)

const maxTitleLen = 255

// PostServiceProvider defines the interface for post services.
type PostServiceProvider interface {
	GetAllPosts(ctx context.Context) ([]models.Post, error)
	GetPostByID(ctx context.Context, id int64) (models.Post, error)
	CreatePost(ctx context.Context, post models.Post) (models.Post, error)
	UpdatePost(ctx context.Context, id int64, post models.Post) (models.Post, error)
	DeletePost(ctx context.Context, id int64) error
}

// PostService provides business logic for post management.
type PostService struct {
	db *database.DB
}

// NewPostService creates a new PostService.
func NewPostService(db *database.DB) *PostService {
	return &PostService{db: db}
}

const selectPost = "SELECT id, title, content, author_id, created_at, updated_at FROM posts"

func scanPost(scanner interface{ Scan(...any) error }) (models.Post, error) {
	var p models.Post
	err := scanner.Scan(&p.ID, &p.Title, &p.Content, &p.Author, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// GetAllPosts returns every post in creation order.
func (s *PostService) GetAllPosts(ctx context.Context) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx, selectPost+" ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// GetPostByID retrieves a single post by its ID.
func (s *PostService) GetPostByID(ctx context.Context, id int64) (models.Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, selectPost+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Post{}, fmt.Errorf("post %d: %w", id, ErrNotFound)
		}
		return models.Post{}, err
	}
	return p, nil
}

// validatePost normalises the writable fields and checks the author exists.
func (s *PostService) validatePost(ctx context.Context, post *models.Post) error {
	verr := &ValidationError{}

	post.Title = strings.TrimSpace(post.Title)
	switch {
	case post.Title == "":
		verr.Add("title", msgBlank)
	case utf8.RuneCountInString(post.Title) > maxTitleLen:
		verr.Add("title", fmt.Sprintf("Ensure this field has no more than %d characters.", maxTitleLen))
	}

	post.Content = strings.TrimSpace(post.Content)
	if post.Content == "" {
		verr.Add("content", msgBlank)
	}

	if post.Author <= 0 {
		verr.Add("author", msgRequired)
	} else {
		ok, err := rowExists(ctx, s.db, "users", post.Author)
		if err != nil {
			return err
		}
		if !ok {
			verr.Add("author", invalidPK(post.Author))
		}
	}
	return verr.Err()
}

// CreatePost validates and stores a new post.
func (s *PostService) CreatePost(ctx context.Context, post models.Post) (models.Post, error) {
	if err := s.validatePost(ctx, &post); err != nil {
		return models.Post{}, err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	post.CreatedAt, post.UpdatedAt = now, now

	err := s.db.QueryRowContext(ctx,
		"INSERT INTO posts (title, content, author_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?) RETURNING id",
		post.Title, post.Content, post.Author, post.CreatedAt, post.UpdatedAt,
	).Scan(&post.ID)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			verr := &ValidationError{}
			verr.Add("author", invalidPK(post.Author))
			return models.Post{}, verr
		}
		return models.Post{}, fmt.Errorf("insert post: %w", err)
	}
	return post, nil
}

// UpdatePost replaces the title, content and author of an existing post.
func (s *PostService) UpdatePost(ctx context.Context, id int64, post models.Post) (models.Post, error) {
	existing, err := s.GetPostByID(ctx, id)
	if err != nil {
		return models.Post{}, err
	}
	if err := s.validatePost(ctx, &post); err != nil {
		return models.Post{}, err
	}

	updatedAt := time.Now().UTC().Truncate(time.Microsecond)
	res, err := s.db.ExecContext(ctx,
		"UPDATE posts SET title = ?, content = ?, author_id = ?, updated_at = ? WHERE id = ?",
		post.Title, post.Content, post.Author, updatedAt, id,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			verr := &ValidationError{}
			verr.Add("author", invalidPK(post.Author))
			return models.Post{}, verr
		}
		return models.Post{}, fmt.Errorf("update post %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// deleted between the lookup and the update
		return models.Post{}, fmt.Errorf("post %d: %w", id, ErrNotFound)
	}

	existing.Title = post.Title
	existing.Content = post.Content
	existing.Author = post.Author
	existing.UpdatedAt = updatedAt
	return existing, nil
}

// DeletePost removes a post; its comments go with it through the foreign key cascade.
func (s *PostService) DeletePost(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM posts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete post %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	return nil
}
