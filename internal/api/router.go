package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/ender-blog-be/internal/api/handlers"
	"github.com/isdelr/ender-blog-be/internal/auth"
	"github.com/isdelr/ender-blog-be/internal/services"
)

// Options carries the router settings that come from configuration.
type Options struct {
	AllowedOrigins   []string
	EnforceOwnership bool
}

// NewRouter creates and configures a new Chi router.
func NewRouter(
	db handlers.Pinger,
	tokens *auth.TokenIssuer,
	userService services.UserServiceProvider,
	postService services.PostServiceProvider,
	commentService services.CommentServiceProvider,
	opts Options,
) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db)
	userHandler := handlers.NewUserHandler(userService, tokens)
	postHandler := handlers.NewPostHandler(postService, opts.EnforceOwnership)
	commentHandler := handlers.NewCommentHandler(commentService, opts.EnforceOwnership)

	requireAuthForWrites := auth.Middleware(tokens, userService)

	r.Get("/healthz", healthHandler.Check)

	r.Post("/register/", userHandler.Register)
	r.Post("/login/", userHandler.Login)
	r.Post("/token/", userHandler.Login)
	r.Post("/token/refresh/", userHandler.Refresh)

	r.Route("/posts", func(r chi.Router) {
		r.Use(requireAuthForWrites)
		r.Get("/", postHandler.GetAll)
		r.Post("/", postHandler.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", postHandler.Get)
			r.Put("/", postHandler.Update)
			r.Patch("/", postHandler.Patch)
			r.Delete("/", postHandler.Delete)
		})
	})

	r.Route("/comments", func(r chi.Router) {
		r.Use(requireAuthForWrites)
		r.Get("/", commentHandler.GetAll)
		r.Post("/", commentHandler.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", commentHandler.Get)
			r.Put("/", commentHandler.Update)
			r.Patch("/", commentHandler.Patch)
			r.Delete("/", commentHandler.Delete)
		})
	})

	return r
}
