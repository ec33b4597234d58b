package handlers

import (
	"net/http"

	"github.com/isdelr/ender-blog-be/internal/auth"
	"github.com/isdelr/ender-blog-be/internal/models"
	"github.com/isdelr/ender-blog-be/internal/services"
	"github.com/rs/zerolog/log"
)

// PostHandler handles HTTP requests related to posts.
type PostHandler struct {
	service          services.PostServiceProvider
	enforceOwnership bool
}

// NewPostHandler creates a new PostHandler. With enforceOwnership only a post's
// author may change it, and new posts are always attributed to the caller.
func NewPostHandler(service services.PostServiceProvider, enforceOwnership bool) *PostHandler {
	return &PostHandler{service: service, enforceOwnership: enforceOwnership}
}

// PostPayload is the writable part of a post.
type PostPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Author  *int64 `json:"author"`
}

// PostPatch is a partial post update; nil fields are left unchanged.
type PostPatch struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
	Author  *int64  `json:"author"`
}

// resolveAuthor picks the author a write is attributed to.
func resolveAuthor(p *auth.Principal, requested *int64, enforce bool) int64 {
	if enforce || requested == nil {
		return p.UserID
	}
	return *requested
}

// GetAll handles the request to list every post.
func (h *PostHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.GetAllPosts(r.Context())
	if err != nil {
		respondServiceError(w, err, "retrieve posts")
		return
	}
	respondJSON(w, http.StatusOK, posts)
}

// Get handles the request to get a single post by its ID.
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	post, err := h.service.GetPostByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "retrieve post")
		return
	}
	respondJSON(w, http.StatusOK, post)
}

// Create handles the request to create a new post.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload PostPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	principal := auth.FromContext(r.Context())

	post, err := h.service.CreatePost(r.Context(), models.Post{
		Title:   payload.Title,
		Content: payload.Content,
		Author:  resolveAuthor(principal, payload.Author, h.enforceOwnership),
	})
	if err != nil {
		respondServiceError(w, err, "create post")
		return
	}

	log.Info().Int64("post_id", post.ID).Int64("user_id", principal.UserID).Msg("Post created")
	respondJSON(w, http.StatusCreated, post)
}

// loadForWrite fetches post id and checks the caller may change it. It writes the
// error response itself and reports false when the request must stop.
func (h *PostHandler) loadForWrite(w http.ResponseWriter, r *http.Request, id int64) (models.Post, bool) {
	principal := auth.FromContext(r.Context())
	existing, err := h.service.GetPostByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "retrieve post")
		return models.Post{}, false
	}
	if !auth.CanModify(principal, existing.Author, h.enforceOwnership) {
		log.Warn().Int64("post_id", id).Int64("user_id", principal.UserID).Msg("Refused post update by non-author")
		respondDetail(w, http.StatusForbidden, detailForbidden)
		return models.Post{}, false
	}
	return existing, true
}

// Update handles the request to replace an existing post.
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, ok := h.loadForWrite(w, r, id); !ok {
		return
	}

	var payload PostPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	post, err := h.service.UpdatePost(r.Context(), id, models.Post{
		Title:   payload.Title,
		Content: payload.Content,
		Author:  resolveAuthor(auth.FromContext(r.Context()), payload.Author, h.enforceOwnership),
	})
	if err != nil {
		respondServiceError(w, err, "update post")
		return
	}
	respondJSON(w, http.StatusOK, post)
}

// Patch handles a partial update: fields missing from the body keep their stored values.
func (h *PostHandler) Patch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	existing, ok := h.loadForWrite(w, r, id)
	if !ok {
		return
	}

	var payload PostPatch
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.Title != nil {
		existing.Title = *payload.Title
	}
	if payload.Content != nil {
		existing.Content = *payload.Content
	}
	if payload.Author != nil && !h.enforceOwnership {
		existing.Author = *payload.Author
	}

	post, err := h.service.UpdatePost(r.Context(), id, existing)
	if err != nil {
		respondServiceError(w, err, "update post")
		return
	}
	respondJSON(w, http.StatusOK, post)
}

// Delete handles the request to delete a post and, with it, its comments.
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	principal := auth.FromContext(r.Context())

	if h.enforceOwnership {
		existing, err := h.service.GetPostByID(r.Context(), id)
		if err != nil {
			respondServiceError(w, err, "retrieve post")
			return
		}
		if !auth.CanModify(principal, existing.Author, true) {
			log.Warn().Int64("post_id", id).Int64("user_id", principal.UserID).Msg("Refused post delete by non-author")
			respondDetail(w, http.StatusForbidden, detailForbidden)
			return
		}
	}

	if err := h.service.DeletePost(r.Context(), id); err != nil {
		respondServiceError(w, err, "delete post")
		return
	}
	log.Info().Int64("post_id", id).Int64("user_id", principal.UserID).Msg("Post deleted")
	w.WriteHeader(http.StatusNoContent)
}
