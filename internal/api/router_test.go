package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/isdelr/ender-blog-be/internal/auth"
	"github.com/isdelr/ender-blog-be/internal/database"
	"github.com/isdelr/ender-blog-be/internal/logger"
	"github.com/isdelr/ender-blog-be/internal/models"
	"github.com/isdelr/ender-blog-be/internal/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	t        *testing.T
	handler  http.Handler
	tokens   *auth.TokenIssuer
	users    *services.UserService
	posts    *services.PostService
	comments *services.CommentService
}

func newTestEnv(t *testing.T, enforceOwnership bool) *testEnv {
	t.Helper()
	db, err := database.New(database.SQLite, filepath.Join(t.TempDir(), "blog.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	env := &testEnv{
		t:        t,
		tokens:   auth.NewTokenIssuer("test-secret", 5*time.Minute, 24*time.Hour),
		users:    services.NewUserService(db, bcrypt.MinCost),
		posts:    services.NewPostService(db),
		comments: services.NewCommentService(db),
	}
	env.handler = NewRouter(db, env.tokens, env.users, env.posts, env.comments, Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		EnforceOwnership: enforceOwnership,
	})
	return env
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) user(username string) (models.User, string) {
	e.t.Helper()
	u, err := e.users.CreateUser(context.Background(), username, username+"@example.com", "testpassword")
	if err != nil {
		e.t.Fatalf("create user: %v", err)
	}
	pair, err := e.tokens.GenerateTokenPair(u)
	if err != nil {
		e.t.Fatalf("token pair: %v", err)
	}
	return u, pair.Access
}

func (e *testEnv) post(author int64) models.Post {
	e.t.Helper()
	p, err := e.posts.CreatePost(context.Background(), models.Post{Title: "Test Post", Content: "This is a test post.", Author: author})
	if err != nil {
		e.t.Fatalf("create post: %v", err)
	}
	return p
}

func (e *testEnv) comment(post, author int64) models.Comment {
	e.t.Helper()
	c, err := e.comments.CreateComment(context.Background(), models.Comment{Content: "This is a test comment", Post: post, Author: author})
	if err != nil {
		e.t.Fatalf("create comment: %v", err)
	}
	return c
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func postPath(id int64) string    { return fmt.Sprintf("/posts/%d/", id) }
func commentPath(id int64) string { return fmt.Sprintf("/comments/%d/", id) }

func TestRegisterThenLogin(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodPost, "/register/", "", map[string]string{
		"username": "newuser", "email": "newuser@example.com", "password": "newpassword",
	})
	expectStatus(t, rec, http.StatusCreated)
	created := decode[map[string]any](t, rec)
	if created["username"] != "newuser" || created["email"] != "newuser@example.com" {
		t.Fatalf("created user = %v", created)
	}
	if _, leaked := created["password_hash"]; leaked {
		t.Fatal("password hash leaked in response")
	}

	for _, path := range []string{"/login/", "/token/"} {
		rec = env.do(http.MethodPost, path, "", map[string]string{"username": "newuser", "password": "newpassword"})
		expectStatus(t, rec, http.StatusOK)
		body := decode[map[string]any](t, rec)
		if body["access"] == "" || body["access"] == nil || body["refresh"] == nil {
			t.Fatalf("%s: missing tokens in %v", path, body)
		}
		user, _ := body["user"].(map[string]any)
		if user["username"] != "newuser" {
			t.Fatalf("%s: user = %v", path, body["user"])
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, false)
	env.user("taken")

	rec := env.do(http.MethodPost, "/register/", "", map[string]string{"username": "taken", "password": "pw"})
	expectStatus(t, rec, http.StatusBadRequest)
	fields := decode[map[string][]string](t, rec)
	if len(fields["username"]) == 0 {
		t.Fatalf("expected username error, got %v", fields)
	}

	rec = env.do(http.MethodPost, "/register/", "", nil)
	expectStatus(t, rec, http.StatusBadRequest)
	fields = decode[map[string][]string](t, rec)
	if len(fields["username"]) == 0 || len(fields["password"]) == 0 {
		t.Fatalf("expected required-field errors, got %v", fields)
	}

	req := httptest.NewRequest(http.MethodPost, "/register/", bytes.NewBufferString("{not json"))
	res := httptest.NewRecorder()
	env.handler.ServeHTTP(res, req)
	expectStatus(t, res, http.StatusBadRequest)
}

func TestLoginFailure(t *testing.T) {
	env := newTestEnv(t, false)
	env.user("testuser")

	rec := env.do(http.MethodPost, "/login/", "", map[string]string{"username": "testuser", "password": "wrong"})
	expectStatus(t, rec, http.StatusUnauthorized)
	if body := decode[map[string]string](t, rec); body["detail"] != "Invalid Credentials" {
		t.Fatalf("body = %v", body)
	}
}

func TestTokenRefresh(t *testing.T) {
	env := newTestEnv(t, false)
	u, _ := env.user("testuser")
	pair, err := env.tokens.GenerateTokenPair(u)
	if err != nil {
		t.Fatalf("pair: %v", err)
	}

	rec := env.do(http.MethodPost, "/token/refresh/", "", map[string]string{"refresh": pair.Refresh})
	expectStatus(t, rec, http.StatusOK)
	access := decode[map[string]string](t, rec)["access"]
	if access == "" {
		t.Fatal("no access token returned")
	}

	rec = env.do(http.MethodPost, "/posts/", access, map[string]any{"title": "Fresh", "content": "Minted by refresh."})
	expectStatus(t, rec, http.StatusCreated)

	rec = env.do(http.MethodPost, "/token/refresh/", "", map[string]string{"refresh": pair.Access})
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = env.do(http.MethodPost, "/token/refresh/", "", map[string]string{})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(http.MethodPost, "/posts/", pair.Refresh, map[string]any{"title": "t", "content": "c"})
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestReadAllPosts(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/posts/", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[[]models.Post](t, rec); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}

	u, _ := env.user("testuser")
	env.post(u.ID)

	rec = env.do(http.MethodGet, "/posts/", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[[]models.Post](t, rec); len(got) != 1 {
		t.Fatalf("expected 1 post, got %d", len(got))
	}
}

func TestUnauthenticatedCreatePost(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodPost, "/posts/", "", map[string]string{
		"title": "Unauthenticated Post", "content": "This post should not be created without authentication.",
	})
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = env.do(http.MethodPost, "/posts/", "garbage", map[string]string{"title": "t", "content": "c"})
	expectStatus(t, rec, http.StatusUnauthorized)

	posts, err := env.posts.GetAllPosts(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("unauthenticated write persisted %d posts", len(posts))
	}
}

func TestExpiredTokenRejectedForWritesOnly(t *testing.T) {
	env := newTestEnv(t, false)
	u, _ := env.user("testuser")
	p := env.post(u.ID)

	stale := auth.NewTokenIssuer("test-secret", -time.Minute, -time.Minute)
	token, err := stale.GenerateAccessToken(u)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	expectStatus(t, env.do(http.MethodDelete, postPath(p.ID), token, nil), http.StatusUnauthorized)
	expectStatus(t, env.do(http.MethodGet, postPath(p.ID), token, nil), http.StatusOK)
}

func TestPostCRUD(t *testing.T) {
	env := newTestEnv(t, false)
	u, token := env.user("testuser")

	rec := env.do(http.MethodPost, "/posts/", token, map[string]any{
		"title": "Integration Test Post", "content": "This is a post created during an integration test.", "author": u.ID,
	})
	expectStatus(t, rec, http.StatusCreated)
	created := decode[models.Post](t, rec)
	if created.ID == 0 || created.Author != u.ID {
		t.Fatalf("created = %+v", created)
	}

	rec = env.do(http.MethodGet, postPath(created.ID), "", nil)
	expectStatus(t, rec, http.StatusOK)
	got := decode[models.Post](t, rec)
	if got.Title != created.Title || got.Content != created.Content {
		t.Fatalf("got %+v, want title/content of %+v", got, created)
	}

	rec = env.do(http.MethodPut, postPath(created.ID), token, map[string]any{
		"title": "Updated Post", "content": "This is an updated post", "author": u.ID,
	})
	expectStatus(t, rec, http.StatusOK)
	if updated := decode[models.Post](t, rec); updated.Title != "Updated Post" {
		t.Fatalf("updated = %+v", updated)
	}

	rec = env.do(http.MethodPut, postPath(created.ID), token, map[string]any{"title": "", "content": "x"})
	expectStatus(t, rec, http.StatusBadRequest)

	expectStatus(t, env.do(http.MethodDelete, postPath(created.ID), token, nil), http.StatusNoContent)
	expectStatus(t, env.do(http.MethodGet, postPath(created.ID), "", nil), http.StatusNotFound)
	expectStatus(t, env.do(http.MethodDelete, postPath(created.ID), token, nil), http.StatusNotFound)
	expectStatus(t, env.do(http.MethodPut, postPath(created.ID), token, map[string]any{"title": "t", "content": "c"}), http.StatusNotFound)
}

func TestPostAuthorDefaultsToCaller(t *testing.T) {
	env := newTestEnv(t, false)
	u, token := env.user("testuser")

	rec := env.do(http.MethodPost, "/posts/", token, map[string]any{"title": "No author", "content": "Body."})
	expectStatus(t, rec, http.StatusCreated)
	if p := decode[models.Post](t, rec); p.Author != u.ID {
		t.Fatalf("author = %d, want %d", p.Author, u.ID)
	}

	rec = env.do(http.MethodPost, "/posts/", token, map[string]any{"title": "Ghost", "content": "Body.", "author": 999})
	expectStatus(t, rec, http.StatusBadRequest)
	if fields := decode[map[string][]string](t, rec); len(fields["author"]) == 0 {
		t.Fatalf("expected author error, got %v", fields)
	}
}

func TestBadPathIDsAreNotFound(t *testing.T) {
	env := newTestEnv(t, false)
	_, token := env.user("testuser")

	for _, path := range []string{"/posts/abc/", "/posts/0/", "/posts/999/", "/comments/xyz/", "/comments/999/"} {
		expectStatus(t, env.do(http.MethodGet, path, "", nil), http.StatusNotFound)
	}
	expectStatus(t, env.do(http.MethodDelete, "/posts/abc/", token, nil), http.StatusNotFound)
}

func TestAnyAuthenticatedUserMayModifyPostsByDefault(t *testing.T) {
	env := newTestEnv(t, false)
	alice, _ := env.user("alice")
	_, bobToken := env.user("bob")
	p := env.post(alice.ID)

	rec := env.do(http.MethodPut, postPath(p.ID), bobToken, map[string]any{"title": "Hijacked", "content": "Bob was here.", "author": alice.ID})
	expectStatus(t, rec, http.StatusOK)
	expectStatus(t, env.do(http.MethodDelete, postPath(p.ID), bobToken, nil), http.StatusNoContent)
}

func TestOwnershipEnforcement(t *testing.T) {
	env := newTestEnv(t, true)
	alice, aliceToken := env.user("alice")
	bob, bobToken := env.user("bob")
	p := env.post(alice.ID)
	c := env.comment(p.ID, alice.ID)

	body := map[string]any{"title": "Hijacked", "content": "Bob was here."}
	expectStatus(t, env.do(http.MethodPut, postPath(p.ID), bobToken, body), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodDelete, postPath(p.ID), bobToken, nil), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodPut, commentPath(c.ID), bobToken, map[string]any{"content": "x", "post": p.ID}), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodDelete, commentPath(c.ID), bobToken, nil), http.StatusForbidden)

	// author in the body is ignored; the caller owns what they create
	rec := env.do(http.MethodPost, "/posts/", bobToken, map[string]any{"title": "Mine", "content": "Really.", "author": alice.ID})
	expectStatus(t, rec, http.StatusCreated)
	if created := decode[models.Post](t, rec); created.Author != bob.ID {
		t.Fatalf("author = %d, want %d", created.Author, bob.ID)
	}

	expectStatus(t, env.do(http.MethodPut, postPath(p.ID), aliceToken, body), http.StatusOK)
	expectStatus(t, env.do(http.MethodDelete, postPath(p.ID), aliceToken, nil), http.StatusNoContent)
}

func TestCommentCRUD(t *testing.T) {
	env := newTestEnv(t, false)
	u, token := env.user("testuser")
	p := env.post(u.ID)

	rec := env.do(http.MethodPost, "/comments/", token, map[string]any{"content": "New comment.", "post": p.ID, "author": u.ID})
	expectStatus(t, rec, http.StatusCreated)
	created := decode[models.Comment](t, rec)

	rec = env.do(http.MethodGet, commentPath(created.ID), "", nil)
	expectStatus(t, rec, http.StatusOK)
	got := decode[models.Comment](t, rec)
	if got.ID != created.ID || got.Content != "New comment." || got.Post != p.ID {
		t.Fatalf("got %+v", got)
	}

	rec = env.do(http.MethodPut, commentPath(created.ID), token, map[string]any{"content": "Updated Comment", "post": p.ID, "author": u.ID})
	expectStatus(t, rec, http.StatusOK)
	if updated := decode[models.Comment](t, rec); updated.Content != "Updated Comment" {
		t.Fatalf("updated = %+v", updated)
	}

	expectStatus(t, env.do(http.MethodDelete, commentPath(created.ID), token, nil), http.StatusNoContent)
	expectStatus(t, env.do(http.MethodGet, commentPath(created.ID), "", nil), http.StatusNotFound)
}

func TestCreateCommentRequiresExistingPost(t *testing.T) {
	env := newTestEnv(t, false)
	u, token := env.user("testuser")

	rec := env.do(http.MethodPost, "/comments/", token, map[string]any{"content": "Orphan", "post": 999, "author": u.ID})
	expectStatus(t, rec, http.StatusBadRequest)
	if fields := decode[map[string][]string](t, rec); len(fields["post"]) == 0 {
		t.Fatalf("expected post error, got %v", fields)
	}

	expectStatus(t, env.do(http.MethodPost, "/comments/", "", map[string]any{"content": "x", "post": 1}), http.StatusUnauthorized)
}

func TestListCommentsByPost(t *testing.T) {
	env := newTestEnv(t, false)
	u, token := env.user("testuser")
	p := env.post(u.ID)
	other := env.post(u.ID)

	for _, content := range []string{"First comment on the post", "Second comment on the post"} {
		rec := env.do(http.MethodPost, "/comments/", token, map[string]any{"content": content, "post": p.ID, "author": u.ID})
		expectStatus(t, rec, http.StatusCreated)
	}
	env.comment(other.ID, u.ID)

	rec := env.do(http.MethodGet, "/comments/?post_id="+strconv.FormatInt(p.ID, 10), "", nil)
	expectStatus(t, rec, http.StatusOK)
	got := decode[[]models.Comment](t, rec)
	if len(got) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(got))
	}
	for _, c := range got {
		if c.Post != p.ID {
			t.Fatalf("comment %d belongs to post %d, want %d", c.ID, c.Post, p.ID)
		}
	}

	rec = env.do(http.MethodGet, "/comments/", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "[]\n" {
		t.Fatalf("unfiltered list body = %q, want []", rec.Body.String())
	}

	expectStatus(t, env.do(http.MethodGet, "/comments/?post_id=abc", "", nil), http.StatusBadRequest)
}

func TestDeletePostCascadesComments(t *testing.T) {
	env := newTestEnv(t, false)
	u, token := env.user("testuser")
	p := env.post(u.ID)

	rec := env.do(http.MethodPost, "/comments/", token, map[string]any{"content": "This is a comment to be deleted", "post": p.ID, "author": u.ID})
	expectStatus(t, rec, http.StatusCreated)
	c := decode[models.Comment](t, rec)

	expectStatus(t, env.do(http.MethodDelete, postPath(p.ID), token, nil), http.StatusNoContent)
	expectStatus(t, env.do(http.MethodGet, commentPath(c.ID), "", nil), http.StatusNotFound)

	if _, err := env.comments.GetCommentByID(context.Background(), c.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("comment still stored: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if body := decode[map[string]string](t, rec); body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, false)
	req := httptest.NewRequest(http.MethodOptions, "/posts/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORSPreflightAllowsPatch(t *testing.T) {
	env := newTestEnv(t, false)
	req := httptest.NewRequest(http.MethodOptions, "/posts/1/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPatch) {
		t.Fatalf("Access-Control-Allow-Methods = %q, want PATCH", got)
	}
}

func TestPatchPost(t *testing.T) {
	env := newTestEnv(t, false)
	u, token := env.user("testuser")
	p := env.post(u.ID)

	rec := env.do(http.MethodPatch, postPath(p.ID), token, map[string]any{"title": "Only title"})
	expectStatus(t, rec, http.StatusOK)
	patched := decode[models.Post](t, rec)
	if patched.Title != "Only title" || patched.Content != p.Content || patched.Author != u.ID {
		t.Fatalf("patched = %+v, want title changed and rest of %+v", patched, p)
	}

	rec = env.do(http.MethodGet, postPath(p.ID), "", nil)
	if got := decode[models.Post](t, rec); got.Title != "Only title" || got.Content != p.Content {
		t.Fatalf("stored = %+v", got)
	}

	expectStatus(t, env.do(http.MethodPatch, postPath(p.ID), token, map[string]any{"title": "  "}), http.StatusBadRequest)
	expectStatus(t, env.do(http.MethodPatch, postPath(p.ID), "", map[string]any{"title": "x"}), http.StatusUnauthorized)
	expectStatus(t, env.do(http.MethodPatch, postPath(p.ID+100), token, map[string]any{"title": "x"}), http.StatusNotFound)
}

func TestPatchRespectsOwnership(t *testing.T) {
	env := newTestEnv(t, true)
	author, _ := env.user("author")
	_, otherToken := env.user("other")
	p := env.post(author.ID)
	c := env.comment(p.ID, author.ID)

	expectStatus(t, env.do(http.MethodPatch, postPath(p.ID), otherToken, map[string]any{"title": "Hijacked"}), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodPatch, commentPath(c.ID), otherToken, map[string]any{"content": "Hijacked"}), http.StatusForbidden)
}

func TestPatchComment(t *testing.T) {
	env := newTestEnv(t, false)
	u, token := env.user("testuser")
	p := env.post(u.ID)
	c := env.comment(p.ID, u.ID)

	rec := env.do(http.MethodPatch, commentPath(c.ID), token, map[string]any{"content": "Edited"})
	expectStatus(t, rec, http.StatusOK)
	patched := decode[models.Comment](t, rec)
	if patched.Content != "Edited" || patched.Post != p.ID || patched.Author != u.ID {
		t.Fatalf("patched = %+v", patched)
	}

	rec = env.do(http.MethodPatch, commentPath(c.ID), token, map[string]any{"post": p.ID + 100})
	expectStatus(t, rec, http.StatusBadRequest)
	if body := decode[map[string][]string](t, rec); len(body["post"]) == 0 {
		t.Fatalf("body = %v, want post error", body)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	env := newTestEnv(t, false)
	u, token := env.user("testuser")

	rec := env.do(http.MethodPost, "/posts/", token, map[string]any{
		"title": "Big", "content": strings.Repeat("a", 1<<20+1), "author": u.ID,
	})
	expectStatus(t, rec, http.StatusRequestEntityTooLarge)
}

func TestAccessLogAtInfoLevel(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	env := newTestEnv(t, false)
	logger.Init("info", false)
	var buf bytes.Buffer
	log.Logger = log.Output(&buf)

	expectStatus(t, env.do(http.MethodGet, "/posts/", "", nil), http.StatusOK)

	out := buf.String()
	for _, marker := range []string{`"level":"info"`, `"method":"GET"`, `"path":"/posts/"`, `"status":200`, `"request_id":`, `"duration":`} {
		if !strings.Contains(out, marker) {
			t.Fatalf("access log missing %s: %q", marker, out)
		}
	}
}
