package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"civic-issue-tracker/pkg/identity"
	"civic-issue-tracker/pkg/middleware"
	"civic-issue-tracker/pkg/response"
	"civic-issue-tracker/services/auth-service/utils"
)

type server struct {
	users  userStore
	secret []byte
	logger *zap.Logger
	now    func() time.Time
	health func() error
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RequestLogger(s.logger))

	r.Get("/health", s.healthCheckHandler)
	r.Handle("/metrics", middleware.GetMetricsHandler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", s.registerHandler)
		r.Post("/login", s.loginHandler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(s.secret))
			r.Get("/me", s.meHandler)

			r.With(middleware.RequireRole(identity.RoleAdmin)).Post("/officers", s.createOfficerHandler)
			r.With(middleware.RequireRole(identity.RoleAdmin)).Get("/officers", s.listOfficersHandler)
			r.With(middleware.RequireRole(identity.RoleAdmin)).Get("/stats", s.statsHandler)
		})
	})
	return r
}

type registerInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	NIK      string `json:"nik"`
	Phone    string `json:"phone"`
}

// validate returns the first problem with the input, or "" when it is fine.
func (in *registerInput) validate() string {
	in.Email = utils.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)

	if in.Email == "" || in.Password == "" || in.Name == "" {
		return "Email, Password, and Name are required"
	}
	if !utils.IsValidEmail(in.Email) {
		return "Invalid email format"
	}
	if ok, msg := utils.ValidatePassword(in.Password); !ok {
		return msg
	}
	if len(in.Name) < 3 {
		return "Name must be at least 3 characters"
	}
	if in.NIK != "" && !utils.IsValidNIK(in.NIK) {
		return "NIK must be 16 digits"
	}
	return ""
}

func (s *server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var input registerInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}
	if msg := input.validate(); msg != "" {
		response.Error(w, http.StatusBadRequest, msg, "")
		return
	}
	s.createUser(w, r, input, identity.RoleCitizen, "", "User registered successfully")
}

type officerInput struct {
	registerInput
	Department string `json:"department"`
}

func (s *server) createOfficerHandler(w http.ResponseWriter, r *http.Request) {
	var input officerInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}
	if msg := input.validate(); msg != "" {
		response.Error(w, http.StatusBadRequest, msg, "")
		return
	}
	if strings.TrimSpace(input.Department) == "" {
		response.Error(w, http.StatusBadRequest, "Department is required for officers", "")
		return
	}
	s.createUser(w, r, input.registerInput, identity.RoleOfficer, strings.TrimSpace(input.Department), "Officer created")
}

func (s *server) createUser(w http.ResponseWriter, r *http.Request, input registerInput, role, department, message string) {
	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		s.logger.Error("failed to hash password", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "Failed to process registration", "")
		return
	}

	var nikPtr *string
	if input.NIK != "" {
		nikPtr = &input.NIK
	}
	user := identity.User{
		Email:      input.Email,
		Password:   hashedPassword,
		Name:       input.Name,
		NIK:        nikPtr,
		Phone:      input.Phone,
		Role:       role,
		Department: department,
	}

	if err := s.users.Create(r.Context(), &user); err != nil {
		if errors.Is(err, errEmailTaken) {
			s.logger.Warn("registration attempt with existing email")
			response.Error(w, http.StatusConflict, "Email already registered", "")
			return
		}
		s.logger.Error("failed to save user", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "Failed to save user", "")
		return
	}
	s.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("role", role))

	s.writeToken(w, http.StatusCreated, message, &user)
}

func (s *server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}
	if input.Email == "" || input.Password == "" {
		response.Error(w, http.StatusBadRequest, "Email and Password are required", "")
		return
	}

	user, err := s.users.ByEmail(r.Context(), utils.NormalizeEmail(input.Email))
	if err != nil {
		if !errors.Is(err, errUserNotFound) {
			s.logger.Error("user lookup failed", zap.Error(err))
		}
		response.Error(w, http.StatusUnauthorized, "Invalid email or password", "")
		return
	}
	if !utils.CheckPasswordHash(input.Password, user.Password) {
		s.logger.Warn("invalid password attempt", zap.Int64("user_id", user.ID))
		response.Error(w, http.StatusUnauthorized, "Invalid email or password", "")
		return
	}

	s.logger.Info("user logged in", zap.Int64("user_id", user.ID), zap.String("role", user.Role))
	s.writeToken(w, http.StatusOK, "Login successful", user)
}

func (s *server) writeToken(w http.ResponseWriter, status int, message string, user *identity.User) {
	token, err := middleware.SignToken(s.secret, middleware.UserClaims{
		UserID:     user.ID,
		Email:      user.Email,
		Name:       user.Name,
		Role:       user.Role,
		Department: user.Department,
	}, s.now())
	if err != nil {
		s.logger.Error("failed to sign token", zap.Int64("user_id", user.ID), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "Failed to generate token", "")
		return
	}

	response.Success(w, status, message, map[string]interface{}{
		"id":         user.ID,
		"token":      token,
		"name":       user.Name,
		"role":       user.Role,
		"department": user.Department,
	})
}

func (s *server) meHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.Error(w, http.StatusInternalServerError, "Failed to retrieve user context", "")
		return
	}

	user, err := s.users.ByID(r.Context(), claims.UserID)
	if err != nil {
		response.Error(w, http.StatusNotFound, "User not found", "")
		return
	}
	response.Success(w, http.StatusOK, "User profile fetched", user)
}

func (s *server) listOfficersHandler(w http.ResponseWriter, r *http.Request) {
	officers, err := s.users.ListByRole(r.Context(), identity.RoleOfficer)
	if err != nil {
		s.logger.Error("failed to list officers", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "Failed to list officers", "")
		return
	}
	response.Success(w, http.StatusOK, "Officers fetched", officers)
}

func (s *server) statsHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := s.users.CountByRole(r.Context())
	if err != nil {
		s.logger.Error("failed to count users", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "Failed to count users", "")
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	response.Success(w, http.StatusOK, "User stats fetched", map[string]interface{}{
		"total_users": total,
		"by_role":     counts,
	})
}

func (s *server) healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":  "UP",
		"service": "auth-service",
	}
	if err := s.health(); err != nil {
		health["status"] = "DOWN"
		health["database"] = "disconnected"
		response.JSON(w, http.StatusServiceUnavailable, health)
		return
	}
	health["database"] = "connected"
	response.JSON(w, http.StatusOK, health)
}
