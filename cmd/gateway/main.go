package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	api "github.com/compclub/testengine/internal/api/http"
	"github.com/compclub/testengine/internal/assessment"
	"github.com/compclub/testengine/internal/audit"
	auth "github.com/compclub/testengine/internal/auth/middleware"
	"github.com/compclub/testengine/internal/config"
	"github.com/compclub/testengine/internal/db"
	"github.com/compclub/testengine/internal/grading"
	"github.com/compclub/testengine/internal/rbac"
	"github.com/compclub/testengine/internal/release"
	"github.com/compclub/testengine/internal/roster"
	"github.com/compclub/testengine/internal/visibility"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}

	store := assessment.NewSQLStore(dbh, grading.NewDefaultGrader())
	auditLog := audit.NewRepo(dbh)
	rosters := roster.NewRepo(dbh)
	resolver := visibility.NewResolver(auditLog)
	authorizer := release.NewAuthorizer(cfg.ReleaseSkew)
	authSvc := auth.NewAuthService(cfg.AuthSecret)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, dbh, rosters))

	// Protected API (JWT -> identity in context -> RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		// Admin: author and manage tests
		pr.With(rbac.Require("test:create")).
			Post("/assessments", api.UpsertAssessmentHandler(store, auditLog))
		pr.With(rbac.Require("test:create")).
			Post("/assessments/{assessmentID}/status", api.SetAssessmentStatusHandler(store))
		pr.With(rbac.Require("scores:release")).
			Post("/assessments/{assessmentID}/release", api.ReleaseScoresHandler(store, auditLog))
		pr.With(rbac.Require("test:view-key")).
			Get("/assessments/{assessmentID}/full", api.GetAssessmentAdminHandler(store))
		pr.With(rbac.Require("test:view")).
			Get("/assessments", api.ListAssessmentsHandler(store))
		pr.With(rbac.Require("test:view")).
			Get("/assessments/{assessmentID}", api.GetAssessmentHandler(store))

		// Student: visibility and the attempt lifecycle
		pr.With(rbac.Require("test:view")).
			Get("/tournaments/{tournamentID}/tests", api.TournamentTestsHandler(store, rosters, resolver))
		pr.With(rbac.Require("attempt:create")).
			Post("/attempts", api.StartAttemptHandler(store))
		pr.With(rbac.Require("attempt:save")).
			Post("/attempts/{attemptID}/answers", api.SaveAnswersHandler(store))
		pr.With(rbac.Require("attempt:save")).
			Post("/attempts/{attemptID}/proctor", api.ProctorSignalsHandler(store))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", api.SubmitAttemptHandler(store))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", api.GetAttemptHandler(store))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts", api.ListAttemptsHandler(store))
		pr.With(rbac.RequireAny("results:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}/results", api.AttemptResultsHandler(store, authorizer))

		// Grader: review and manual grading
		pr.With(rbac.Require("attempt:grade")).
			Get("/attempts/{attemptID}/grading", api.GetAttemptGradingHandler(store))
		pr.With(rbac.Require("attempt:grade")).
			Post("/attempts/{attemptID}/grading", api.ApplyGradesHandler(store))
	})

	log.Printf("testengine gateway listening on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatal(err)
	}
}
