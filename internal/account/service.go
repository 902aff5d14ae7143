// ABOUTME: Account service: registration, login with lockout, profiles
// ABOUTME: Owns the clients, workers, and workerdb record collections

package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/skilloc/skilloc/internal/auth"
	"github.com/skilloc/skilloc/internal/store"
)

var (
	// ErrEmailTaken is returned by registration when the email is already
	// in use for that account type.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned by Login on a bad email or
	// password. Callers must not distinguish the two cases.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked is returned by Login while a lockout is active.
	ErrAccountLocked = errors.New("account locked")

	// ErrValidation is returned by registration when required fields are
	// missing or malformed.
	ErrValidation = errors.New("invalid registration")
)

// Client accounts lock after this many consecutive failed logins.
const (
	maxFailedLogins = 5
	lockDuration    = 15 * time.Minute
)

// Service manages account records. All mutations of a collection happen
// under one mutex: the record store replaces whole collections, so
// concurrent read-modify-write on the same collection would lose updates.
type Service struct {
	records  store.Records
	tokens   *auth.JWTVerifier
	tokenTTL time.Duration
	logger   *slog.Logger

	mu sync.Mutex
}

// NewService creates the account service. tokens issues login tokens; pass
// nil logger for the default.
func NewService(records store.Records, tokens *auth.JWTVerifier, tokenTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		records:  records,
		tokens:   tokens,
		tokenTTL: tokenTTL,
		logger:   logger.With("component", "account"),
	}
}

// ClientRegistration is the input for RegisterClient.
type ClientRegistration struct {
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	City      string   `json:"city"`
	Address   string   `json:"address"`
	Password  string   `json:"password"`
	Services  []string `json:"services"`
	Radius    *float64 `json:"radius"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// WorkerRegistration is the input for RegisterWorker.
type WorkerRegistration struct {
	FirstName      string   `json:"firstName"`
	LastName       string   `json:"lastName"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone"`
	Password       string   `json:"password"`
	Profession     string   `json:"profession"`
	Experience     int      `json:"experience"`
	Skills         string   `json:"skills"`
	Certifications string   `json:"certifications"`
	HourlyRate     *float64 `json:"hourlyRate"`
	ServiceRadius  *float64 `json:"serviceRadius"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}

// RegisterClient creates a client account. The returned record has the
// password hash stripped.
func (s *Service) RegisterClient(ctx context.Context, in ClientRegistration) (*store.Client, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if strings.TrimSpace(in.FirstName) == "" || in.Password == "" || !validEmail(in.Email) {
		return nil, fmt.Errorf("%w: firstName, email, and password are required", ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var clients []store.Client
	if err := s.records.Read(ctx, store.CollectionClients, &clients); err != nil {
		return nil, fmt.Errorf("reading clients: %w", err)
	}
	for _, c := range clients {
		if strings.EqualFold(c.Email, in.Email) {
			return nil, ErrEmailTaken
		}
	}

	client := store.Client{
		ID:           uuid.New().String(),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        in.Email,
		Phone:        in.Phone,
		City:         in.City,
		Address:      in.Address,
		Services:     in.Services,
		Radius:       in.Radius,
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		PasswordHash: string(hash),
	}
	clients = append(clients, client)
	if err := s.records.Write(ctx, store.CollectionClients, clients); err != nil {
		return nil, fmt.Errorf("writing clients: %w", err)
	}

	s.logger.Info("client registered", "user_id", client.ID)
	return sanitizeClient(client), nil
}

// RegisterWorker creates a worker account. The returned record has the
// password hash stripped.
func (s *Service) RegisterWorker(ctx context.Context, in WorkerRegistration) (*store.Worker, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if strings.TrimSpace(in.FirstName) == "" || in.Password == "" || !validEmail(in.Email) ||
		strings.TrimSpace(in.Profession) == "" {
		return nil, fmt.Errorf("%w: firstName, email, password, and profession are required", ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var workers []store.Worker
	if err := s.records.Read(ctx, store.CollectionWorkers, &workers); err != nil {
		return nil, fmt.Errorf("reading workers: %w", err)
	}
	for _, w := range workers {
		if strings.EqualFold(w.Email, in.Email) {
			return nil, ErrEmailTaken
		}
	}

	worker := store.Worker{
		ID:             uuid.New().String(),
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		Email:          in.Email,
		Phone:          in.Phone,
		Profession:     strings.TrimSpace(in.Profession),
		Experience:     in.Experience,
		Skills:         in.Skills,
		Certifications: in.Certifications,
		HourlyRate:     in.HourlyRate,
		ServiceRadius:  in.ServiceRadius,
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		PasswordHash:   string(hash),
	}
	workers = append(workers, worker)
	if err := s.records.Write(ctx, store.CollectionWorkers, workers); err != nil {
		return nil, fmt.Errorf("writing workers: %w", err)
	}

	s.logger.Info("worker registered", "user_id", worker.ID)
	return sanitizeWorker(worker), nil
}

// LoginResult is a successful login: a signed token plus the
// password-stripped profile.
type LoginResult struct {
	Token string
	User  any
}

// Login authenticates an email/password pair for the given role. Client
// accounts lock for lockDuration after maxFailedLogins consecutive
// failures; a successful login resets the counter. A worker login also
// refreshes that worker's directory entry.
func (s *Service) Login(ctx context.Context, email, password string, role auth.Role) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	switch role {
	case auth.RoleClient:
		return s.loginClient(ctx, email, password)
	case auth.RoleWorker:
		return s.loginWorker(ctx, email, password)
	default:
		return nil, fmt.Errorf("unknown account type %q", role)
	}
}

func (s *Service) loginClient(ctx context.Context, email, password string) (*LoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var clients []store.Client
	if err := s.records.Read(ctx, store.CollectionClients, &clients); err != nil {
		return nil, fmt.Errorf("reading clients: %w", err)
	}

	idx := -1
	for i, c := range clients {
		if strings.EqualFold(c.Email, email) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrInvalidCredentials
	}

	client := &clients[idx]
	now := time.Now().UTC()

	if client.LockedUntil != nil {
		if now.Before(*client.LockedUntil) {
			return nil, fmt.Errorf("%w until %s", ErrAccountLocked, client.LockedUntil.Format(time.RFC3339))
		}
		// Lock expired: the next failure starts a fresh count.
		client.LockedUntil = nil
		client.FailedAttempts = 0
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.PasswordHash), []byte(password)); err != nil {
		client.FailedAttempts++
		if client.FailedAttempts >= maxFailedLogins {
			until := now.Add(lockDuration)
			client.LockedUntil = &until
			client.FailedAttempts = 0
			s.logger.Warn("client account locked", "user_id", client.ID)
		}
		if werr := s.records.Write(ctx, store.CollectionClients, clients); werr != nil {
			s.logger.Error("recording failed login", "error", werr)
		}
		if client.LockedUntil != nil {
			return nil, fmt.Errorf("%w until %s", ErrAccountLocked, client.LockedUntil.Format(time.RFC3339))
		}
		return nil, ErrInvalidCredentials
	}

	if client.FailedAttempts != 0 || client.LockedUntil != nil {
		client.FailedAttempts = 0
		client.LockedUntil = nil
		if err := s.records.Write(ctx, store.CollectionClients, clients); err != nil {
			return nil, fmt.Errorf("resetting lockout: %w", err)
		}
	}

	token, err := s.tokens.Generate(&auth.Identity{ID: client.ID, Role: auth.RoleClient}, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	s.logger.Info("client logged in", "user_id", client.ID)
	return &LoginResult{Token: token, User: sanitizeClient(*client)}, nil
}

func (s *Service) loginWorker(ctx context.Context, email, password string) (*LoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var workers []store.Worker
	if err := s.records.Read(ctx, store.CollectionWorkers, &workers); err != nil {
		return nil, fmt.Errorf("reading workers: %w", err)
	}

	var worker *store.Worker
	for i, w := range workers {
		if strings.EqualFold(w.Email, email) {
			worker = &workers[i]
			break
		}
	}
	if worker == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(worker.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.refreshWorkerLogin(ctx, worker); err != nil {
		// The directory is advisory; a stale entry must not block login.
		s.logger.Warn("refreshing worker directory", "error", err)
	}

	token, err := s.tokens.Generate(&auth.Identity{ID: worker.ID, Role: auth.RoleWorker}, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	s.logger.Info("worker logged in", "user_id", worker.ID)
	return &LoginResult{Token: token, User: sanitizeWorker(*worker)}, nil
}

// refreshWorkerLogin upserts the worker's directory entry. Must be called
// with mu held.
func (s *Service) refreshWorkerLogin(ctx context.Context, worker *store.Worker) error {
	var entries []store.WorkerLogin
	if err := s.records.Read(ctx, store.CollectionWorkerDB, &entries); err != nil {
		return err
	}

	entry := store.WorkerLogin{
		ID:         worker.ID,
		Email:      worker.Email,
		FirstName:  worker.FirstName,
		LastName:   worker.LastName,
		Profession: worker.Profession,
		Phone:      worker.Phone,
		LastLogin:  time.Now().UTC(),
		Status:     "online",
	}

	replaced := false
	for i := range entries {
		if entries[i].ID == worker.ID {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	return s.records.Write(ctx, store.CollectionWorkerDB, entries)
}

// Profile returns the password-stripped record for an identity.
func (s *Service) Profile(ctx context.Context, id *auth.Identity) (any, error) {
	switch id.Role {
	case auth.RoleClient:
		c, err := s.findClient(ctx, id.ID)
		if err != nil {
			return nil, err
		}
		return sanitizeClient(*c), nil
	case auth.RoleWorker:
		w, err := s.findWorker(ctx, id.ID)
		if err != nil {
			return nil, err
		}
		return sanitizeWorker(*w), nil
	default:
		return nil, store.ErrNotFound
	}
}

// SaveClientLocation persists a client's coordinates for search fallback.
func (s *Service) SaveClientLocation(ctx context.Context, clientID string, lat, lng float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var clients []store.Client
	if err := s.records.Read(ctx, store.CollectionClients, &clients); err != nil {
		return fmt.Errorf("reading clients: %w", err)
	}

	for i := range clients {
		if clients[i].ID == clientID {
			clients[i].Latitude = &lat
			clients[i].Longitude = &lng
			return s.records.Write(ctx, store.CollectionClients, clients)
		}
	}
	return store.ErrNotFound
}

// RoleOf resolves a user id to its role, checking clients then workers.
// Returns store.ErrNotFound for unknown ids.
func (s *Service) RoleOf(ctx context.Context, userID string) (auth.Role, error) {
	if _, err := s.findClient(ctx, userID); err == nil {
		return auth.RoleClient, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if _, err := s.findWorker(ctx, userID); err == nil {
		return auth.RoleWorker, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	return "", store.ErrNotFound
}

func (s *Service) findClient(ctx context.Context, id string) (*store.Client, error) {
	var clients []store.Client
	if err := s.records.Read(ctx, store.CollectionClients, &clients); err != nil {
		return nil, fmt.Errorf("reading clients: %w", err)
	}
	for i := range clients {
		if clients[i].ID == id {
			return &clients[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Service) findWorker(ctx context.Context, id string) (*store.Worker, error) {
	var workers []store.Worker
	if err := s.records.Read(ctx, store.CollectionWorkers, &workers); err != nil {
		return nil, fmt.Errorf("reading workers: %w", err)
	}
	for i := range workers {
		if workers[i].ID == id {
			return &workers[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func sanitizeClient(c store.Client) *store.Client {
	c.PasswordHash = ""
	return &c
}

func sanitizeWorker(w store.Worker) *store.Worker {
	w.PasswordHash = ""
	return &w
}
