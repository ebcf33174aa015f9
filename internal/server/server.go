// Package server implements the HTTP server for the issue statistics API.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/ds9/pkg/datastore"
	"github.com/codeGROOVE-dev/gsm"
	"github.com/codeGROOVE-dev/issuestats/pkg/github"
	"github.com/codeGROOVE-dev/issuestats/pkg/report"
	"github.com/codeGROOVE-dev/issuestats/pkg/stats"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimit is the default requests per second limit.
	DefaultRateLimit = 100
	// DefaultRateBurst is the default burst size for rate limiting.
	DefaultRateBurst = 100
	// errorKey is the logging key for error messages.
	errorKey = "error"
	// httpClientTimeout is the timeout for HTTP client requests.
	httpClientTimeout = 30 * time.Second
	// maxRepoLength is the maximum length for owner/name repository slugs.
	maxRepoLength = 140
	// maxIdleConns is the maximum idle HTTP connections.
	maxIdleConns = 100
	// maxIdleConnsPerHost is the maximum idle HTTP connections per host.
	maxIdleConnsPerHost = 10
	// idleConnTimeout is the timeout for idle HTTP connections.
	idleConnTimeout = 90 * time.Second
	// cacheTTL bounds how long fetched issue listings and collaborator sets
	// are reused. Listings change as issues close, so both the memory and
	// DataStore caches expire entries.
	cacheTTL = time.Hour
	// analysisPerPage is the issue page size for server-side fetches.
	analysisPerPage = 100
)

// tokenPattern matches common GitHub token formats for sanitization.
var tokenPattern = regexp.MustCompile(
	`(?i)(ghp_[a-zA-Z0-9]{36}|gho_[a-zA-Z0-9]{36}|ghs_[a-zA-Z0-9]{36}|` +
		`github_pat_[a-zA-Z0-9_]{82}|Bearer\s+[a-zA-Z0-9._\-]+|token\s+[a-zA-Z0-9._\-]+)`,
)

// repoPattern matches owner/name repository slugs within GitHub's length
// limits: owner up to 39 chars, name up to 100.
var repoPattern = regexp.MustCompile(`^[a-zA-Z0-9][-a-zA-Z0-9]{0,38}/[a-zA-Z0-9_.-]{1,100}$`)

//go:embed static/*
var staticFS embed.FS

// cacheEntry holds cached data for the in-memory cache. cachedAt lets reads
// apply the same TTL as the DataStore entities.
type cacheEntry struct {
	data     any
	cachedAt time.Time
}

// issueCacheEntity represents a cached issue listing in DataStore with TTL.
type issueCacheEntity struct {
	Data      string    `datastore:"data,noindex"` // JSON-encoded []stats.Issue
	CachedAt  time.Time `datastore:"cached_at"`    // When this was cached
	ExpiresAt time.Time `datastore:"expires_at"`   // When this expires (1 hour from CachedAt)
	Repo      string    `datastore:"repo"`         // Repository slug for debugging
}

// collabCacheEntity represents a cached collaborator set in DataStore with TTL.
type collabCacheEntity struct {
	Data      string    `datastore:"data,noindex"` // JSON-encoded login set
	CachedAt  time.Time `datastore:"cached_at"`    // When this was cached
	ExpiresAt time.Time `datastore:"expires_at"`   // When this expires (1 hour from CachedAt)
	Repo      string    `datastore:"repo"`         // Repository slug for debugging
}

// Server handles HTTP requests for the issue statistics API.
//
//nolint:govet // fieldalignment: struct field ordering optimized for readability over memory
type Server struct {
	logger         *slog.Logger
	httpClient     *http.Client
	csrfProtection *http.CrossOriginProtection
	// Per-IP rate limiting.
	ipLimiters      map[string]*rate.Limiter
	allowedOrigins  []string
	ipLimitersMu    sync.RWMutex
	fallbackTokenMu sync.RWMutex
	fallbackToken   string
	serverCommit    string
	// githubBaseURL overrides the GitHub API endpoint in tests.
	githubBaseURL string
	rateLimit     int
	rateBurst     int
	allowAllCors  bool
	// In-memory caching for issue listings and collaborator sets.
	issueCache    map[string]*cacheEntry
	collabCache   map[string]*cacheEntry
	issueCacheMu  sync.RWMutex
	collabCacheMu sync.RWMutex
	// DataStore client for persistent caching (nil if not enabled).
	dsClient *datastore.Client
}

// AnalyzeRequest represents a request to analyze a repository's issues.
//
//nolint:govet // fieldalignment: API struct field order optimized for readability
type AnalyzeRequest struct {
	Repository        string `json:"repository"`
	State             string `json:"state,omitempty"`
	SeparateMembers   bool   `json:"separate_members,omitempty"`
	ExcludeMembers    bool   `json:"exclude_members,omitempty"`
	FirstResponse     bool   `json:"first_response,omitempty"`
	IncludeUnresolved bool   `json:"include_unresolved,omitempty"`
}

// BinCount is one histogram bin of a category result.
type BinCount struct {
	Bin   string `json:"bin"`
	Count int    `json:"count"`
}

// CategoryResult carries the summary and histogram for one issue category.
//
//nolint:govet // fieldalignment: API struct field order optimized for readability
type CategoryResult struct {
	Label     string         `json:"label"`
	Summary   *stats.Summary `json:"summary"`
	Histogram []BinCount     `json:"histogram,omitempty"`
}

// AnalyzeResponse represents the response from an issue analysis.
//
//nolint:govet // fieldalignment: API struct field order optimized for readability
type AnalyzeResponse struct {
	Repository string           `json:"repository"`
	State      string           `json:"state"`
	Categories []CategoryResult `json:"categories"`
	Timestamp  time.Time        `json:"timestamp"`
	Commit     string           `json:"commit"`
}

// New creates a new Server instance.
func New() *Server {
	ctx := context.Background()
	logger := slog.Default().With("component", "issuestats-server")

	// Create HTTP client with proper timeouts for reliability.
	httpClient := &http.Client{
		Timeout: httpClientTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        maxIdleConns,
			MaxIdleConnsPerHost: maxIdleConnsPerHost,
			IdleConnTimeout:     idleConnTimeout,
		},
	}

	// Configure CSRF protection using Sec-Fetch-Site and Origin headers.
	// GET, HEAD, and OPTIONS are safe methods and automatically allowed;
	// requests without those headers are assumed same-origin or non-browser.
	csrfProtection := http.NewCrossOriginProtection()

	logger.InfoContext(ctx, "Server initialized with CSRF protection enabled")

	server := &Server{
		logger:         logger,
		serverCommit:   "", // Will be set via build flags
		httpClient:     httpClient,
		csrfProtection: csrfProtection,
		ipLimiters:     make(map[string]*rate.Limiter),
		rateLimit:      DefaultRateLimit,
		rateBurst:      DefaultRateBurst,
		issueCache:     make(map[string]*cacheEntry),
		collabCache:    make(map[string]*cacheEntry),
	}

	// Load GitHub token at startup and cache in memory for performance and
	// billing. This avoids repeated GSM API calls which cost money.
	token := server.token(ctx)
	if token != "" {
		logger.InfoContext(ctx, "GitHub fallback token loaded at startup")
	} else {
		logger.InfoContext(ctx, "No fallback token available - requests must provide Authorization header")
	}

	return server
}

// SetCommit sets the server commit hash.
func (s *Server) SetCommit(commit string) {
	s.serverCommit = commit
}

// SetCORSConfig sets the CORS configuration.
//
//nolint:revive // flag-parameter: allowAll is a clear boolean flag for CORS configuration
func (s *Server) SetCORSConfig(origins string, allowAll bool) {
	ctx := context.Background()
	if allowAll {
		s.allowAllCors = true
		s.logger.WarnContext(ctx, "CORS configured to allow all origins - DEVELOPMENT MODE ONLY")
		return
	}

	s.allowAllCors = false
	if origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			origin = strings.TrimSpace(origin)

			// Validate wildcard patterns: must be *.domain.com or https://*.domain.com
			if strings.Contains(origin, "*") {
				valid := strings.HasPrefix(origin, "*.") ||
					strings.HasPrefix(origin, "https://*.") ||
					strings.HasPrefix(origin, "http://*.")
				if !valid || strings.Count(origin, "*") > 1 {
					s.logger.ErrorContext(ctx, "Invalid wildcard CORS origin", "origin", origin)
					continue
				}
			}

			s.allowedOrigins = append(s.allowedOrigins, origin)
		}
		s.logger.InfoContext(ctx, "CORS origins configured", "origins", s.allowedOrigins)
	}
}

// SetRateLimit sets the rate limiting configuration.
func (s *Server) SetRateLimit(rps int, burst int) {
	ctx := context.Background()
	s.rateLimit = rps
	s.rateBurst = burst
	s.logger.InfoContext(ctx, "Rate limit configured (per-IP)", "requests_per_sec", rps, "burst", burst)
}

// EnableDatastore attaches a DataStore client for persistent caching across
// restarts. Initialization failure disables persistence with a warning
// rather than aborting startup.
func (s *Server) EnableDatastore(ctx context.Context, dbID string) {
	dsClient, err := datastore.NewClientWithDatabase(ctx, "", dbID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to initialize DataStore client - persistent caching disabled",
			"database_id", dbID, errorKey, err)
		return
	}
	s.dsClient = dsClient
	s.logger.InfoContext(ctx, "DataStore persistent caching enabled", "database_id", dbID)
}

// limiter returns a rate limiter for the given IP address.
func (s *Server) limiter(ctx context.Context, ip string) *rate.Limiter {
	s.ipLimitersMu.RLock()
	limiter, exists := s.ipLimiters[ip]
	s.ipLimitersMu.RUnlock()

	if exists {
		return limiter
	}

	s.ipLimitersMu.Lock()
	defer s.ipLimitersMu.Unlock()

	// Double-check after acquiring write lock.
	if existingLimiter, exists := s.ipLimiters[ip]; exists {
		return existingLimiter
	}

	limiter = rate.NewLimiter(rate.Limit(s.rateLimit), s.rateBurst)
	s.ipLimiters[ip] = limiter

	// Cleanup old limiters if map grows too large (prevent memory leak).
	const maxLimiters = 10000
	if len(s.ipLimiters) > maxLimiters {
		count := 0
		target := len(s.ipLimiters) / 2
		for ip := range s.ipLimiters {
			delete(s.ipLimiters, ip)
			count++
			if count >= target {
				break
			}
		}
		s.logger.InfoContext(ctx, "Cleaned up old IP rate limiters", "removed", count, "remaining", len(s.ipLimiters))
	}

	return limiter
}

// cachedIssues retrieves a cached issue listing from memory first, then
// DataStore as fallback.
func (s *Server) cachedIssues(ctx context.Context, key string) ([]stats.Issue, bool) {
	// Check in-memory cache first (fast path).
	s.issueCacheMu.RLock()
	entry, exists := s.issueCache[key]
	s.issueCacheMu.RUnlock()

	if exists && time.Since(entry.cachedAt) < cacheTTL {
		issues, ok := entry.data.([]stats.Issue)
		if ok {
			s.logger.DebugContext(ctx, "Issue cache hit (memory)", "key", key)
			return issues, true
		}
	}

	// Memory miss - try DataStore if available.
	if s.dsClient == nil {
		return nil, false
	}

	dsKey := datastore.NameKey("IssueCache", key, nil)
	var entity issueCacheEntity
	if err := s.dsClient.Get(ctx, dsKey, &entity); err != nil {
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			s.logger.WarnContext(ctx, "DataStore cache read failed", "key", key, errorKey, err)
		}
		return nil, false
	}

	if time.Now().After(entity.ExpiresAt) {
		s.logger.DebugContext(ctx, "DataStore cache entry expired", "key", key, "expires_at", entity.ExpiresAt)
		return nil, false
	}

	var issues []stats.Issue
	if err := json.Unmarshal([]byte(entity.Data), &issues); err != nil {
		s.logger.WarnContext(ctx, "Failed to deserialize cached issues", "key", key, errorKey, err)
		return nil, false
	}

	s.logger.InfoContext(ctx, "Issue cache hit (DataStore)",
		"key", key, "cached_at", entity.CachedAt, "issue_count", len(issues))

	// Populate in-memory cache for faster subsequent access.
	s.issueCacheMu.Lock()
	s.issueCache[key] = &cacheEntry{data: issues, cachedAt: entity.CachedAt}
	s.issueCacheMu.Unlock()

	return issues, true
}

// cacheIssues stores an issue listing in both memory and DataStore caches.
func (s *Server) cacheIssues(ctx context.Context, key, repo string, issues []stats.Issue) {
	now := time.Now()

	// Write to in-memory cache first (fast path).
	s.issueCacheMu.Lock()
	s.issueCache[key] = &cacheEntry{data: issues, cachedAt: now}
	s.issueCacheMu.Unlock()

	// Write to DataStore if available (persistent cache).
	if s.dsClient == nil {
		return
	}

	dataJSON, err := json.Marshal(issues)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to serialize issues for DataStore", "key", key, errorKey, err)
		return
	}

	entity := issueCacheEntity{
		Data:      string(dataJSON),
		CachedAt:  now,
		ExpiresAt: now.Add(cacheTTL),
		Repo:      repo,
	}

	dsKey := datastore.NameKey("IssueCache", key, nil)
	if _, err := s.dsClient.Put(ctx, dsKey, &entity); err != nil {
		s.logger.WarnContext(ctx, "Failed to write issues to DataStore", "key", key, errorKey, err)
		return
	}

	s.logger.DebugContext(ctx, "Issues cached to DataStore",
		"key", key, "expires_at", entity.ExpiresAt, "issue_count", len(issues))
}

// cachedCollaborators retrieves a cached collaborator set from memory first,
// then DataStore as fallback.
func (s *Server) cachedCollaborators(ctx context.Context, key string) (stats.Collaborators, bool) {
	// Check in-memory cache first (fast path).
	s.collabCacheMu.RLock()
	entry, exists := s.collabCache[key]
	s.collabCacheMu.RUnlock()

	if exists && time.Since(entry.cachedAt) < cacheTTL {
		collabs, ok := entry.data.(stats.Collaborators)
		if ok {
			s.logger.DebugContext(ctx, "Collaborator cache hit (memory)", "key", key)
			return collabs, true
		}
	}

	// Memory miss - try DataStore if available.
	if s.dsClient == nil {
		return nil, false
	}

	dsKey := datastore.NameKey("CollaboratorCache", key, nil)
	var entity collabCacheEntity
	if err := s.dsClient.Get(ctx, dsKey, &entity); err != nil {
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			s.logger.WarnContext(ctx, "DataStore cache read failed", "key", key, errorKey, err)
		}
		return nil, false
	}

	if time.Now().After(entity.ExpiresAt) {
		s.logger.DebugContext(ctx, "DataStore cache entry expired", "key", key, "expires_at", entity.ExpiresAt)
		return nil, false
	}

	var collabs stats.Collaborators
	if err := json.Unmarshal([]byte(entity.Data), &collabs); err != nil {
		s.logger.WarnContext(ctx, "Failed to deserialize cached collaborators", "key", key, errorKey, err)
		return nil, false
	}

	s.logger.InfoContext(ctx, "Collaborator cache hit (DataStore)",
		"key", key, "cached_at", entity.CachedAt, "collaborator_count", len(collabs))

	// Populate in-memory cache for faster subsequent access.
	s.collabCacheMu.Lock()
	s.collabCache[key] = &cacheEntry{data: collabs, cachedAt: entity.CachedAt}
	s.collabCacheMu.Unlock()

	return collabs, true
}

// cacheCollaborators stores a collaborator set in both memory and DataStore
// caches.
func (s *Server) cacheCollaborators(ctx context.Context, key, repo string, collabs stats.Collaborators) {
	now := time.Now()

	// Write to in-memory cache first (fast path).
	s.collabCacheMu.Lock()
	s.collabCache[key] = &cacheEntry{data: collabs, cachedAt: now}
	s.collabCacheMu.Unlock()

	// Write to DataStore if available (persistent cache).
	if s.dsClient == nil {
		return
	}

	dataJSON, err := json.Marshal(collabs)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to serialize collaborators for DataStore", "key", key, errorKey, err)
		return
	}

	entity := collabCacheEntity{
		Data:      string(dataJSON),
		CachedAt:  now,
		ExpiresAt: now.Add(cacheTTL),
		Repo:      repo,
	}

	dsKey := datastore.NameKey("CollaboratorCache", key, nil)
	if _, err := s.dsClient.Put(ctx, dsKey, &entity); err != nil {
		s.logger.WarnContext(ctx, "Failed to write collaborators to DataStore", "key", key, errorKey, err)
		return
	}

	s.logger.DebugContext(ctx, "Collaborators cached to DataStore",
		"key", key, "expires_at", entity.ExpiresAt, "collaborator_count", len(collabs))
}

// sanitizeError removes token values from error text before logging.
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return tokenPattern.ReplaceAllString(err.Error(), "[REDACTED_TOKEN]")
}

// ctxKey is the context key type for request-scoped values.
type ctxKey string

// requestIDKey carries the per-request ID through the request context.
const requestIDKey ctxKey = "request_id"

// requestLogger returns the server logger tagged with the request ID.
func (s *Server) requestLogger(ctx context.Context) *slog.Logger {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return s.logger.With("request_id", id)
	}
	return s.logger
}

// ServeHTTP implements http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Tag the request with an ID for log correlation.
	requestID := uuid.NewString()
	r = r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID))
	w.Header().Set("X-Request-ID", requestID)

	// Apply CSRF protection FIRST - blocks cross-origin POST requests.
	if s.csrfProtection != nil {
		if err := s.csrfProtection.Check(r); err != nil {
			s.requestLogger(r.Context()).WarnContext(r.Context(), "CSRF check failed - cross-origin request denied",
				"origin", r.Header.Get("Origin"),
				"sec_fetch_site", r.Header.Get("Sec-Fetch-Site"),
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
				errorKey, err)
			http.Error(w, "Cross-origin request denied", http.StatusForbidden)
			return
		}
	}

	// Security headers.
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-XSS-Protection", "1; mode=block")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cross-Origin-Resource-Policy", "cross-origin")

	// Handle CORS.
	origin := r.Header.Get("Origin")
	if s.allowAllCors {
		// SECURITY: Never use wildcard with credentials - validate origin even in dev mode.
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			s.logger.DebugContext(r.Context(), "CORS allowed (dev mode)", "origin", origin)
		}
	} else if origin != "" && s.isOriginAllowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	// Handle preflight OPTIONS request.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Route requests.
	switch {
	case r.URL.Path == "/v1/analyze":
		if r.Method != http.MethodPost && r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleAnalyze(w, r)
	case r.URL.Path == "/report":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleReport(w, r)
	case r.URL.Path == "/healthz":
		s.handleHealth(w, r)
	case strings.HasPrefix(r.URL.Path, "/static/"):
		s.handleStatic(w, r)
	case r.URL.Path == "/":
		s.handleWebUI(w, r)
	default:
		http.NotFound(w, r)
	}
}

// clientIP extracts the client address for rate limiting. X-Forwarded-For is
// trusted because Cloud Run strips client-provided values and injects the
// real address; the first hop is the client.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// handleAnalyze processes issue analysis requests.
func (s *Server) handleAnalyze(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()
	logger := s.requestLogger(ctx)

	ip := clientIP(request)
	logger.InfoContext(ctx, "[handleAnalyze] Incoming request", "client_ip", ip, "method", request.Method, "path", request.URL.Path)

	// Per-IP rate limiting.
	limiter := s.limiter(ctx, ip)
	if !limiter.Allow() {
		logger.WarnContext(ctx, "[handleAnalyze] Rate limit exceeded", "client_ip", ip, "path", request.URL.Path)
		http.Error(writer, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	// Parse request.
	req, err := s.parseAnalyzeRequest(ctx, request)
	if err != nil {
		logger.ErrorContext(ctx, "[handleAnalyze] Failed to parse request", "remote_addr", request.RemoteAddr, errorKey, sanitizeError(err))
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	// Get auth token - try Authorization header first, then fallback to env/GSM.
	token := s.extractToken(request)
	if token == "" {
		token = s.token(ctx)
		if token == "" {
			logger.WarnContext(ctx, "[handleAnalyze] No GitHub token available", "remote_addr", request.RemoteAddr)
			http.Error(writer, "GitHub token required (set GITHUB_TOKEN env var or provide Authorization header)", http.StatusUnauthorized)
			return
		}
	}

	// Process request.
	resolution, firstResponse, err := s.runAnalysis(ctx, logger, req, token)
	if err != nil {
		logger.ErrorContext(ctx, "[handleAnalyze] Error processing request",
			"remote_addr", request.RemoteAddr, "repository", req.Repository, errorKey, sanitizeError(err))
		http.Error(writer, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := s.analyzeResponse(req, resolution, firstResponse)

	// Send response.
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(response); err != nil {
		logger.ErrorContext(ctx, "[handleAnalyze] Error encoding response", errorKey, err)
		// Headers are already sent, so the status code cannot change.
		return
	}

	logger.InfoContext(ctx, "[handleAnalyze] Request completed",
		"repository", req.Repository, "categories", len(response.Categories))
}

// handleReport renders the HTML histogram report for a repository.
func (s *Server) handleReport(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()
	logger := s.requestLogger(ctx)

	ip := clientIP(request)
	logger.InfoContext(ctx, "[handleReport] Incoming request", "client_ip", ip)

	// Per-IP rate limiting.
	limiter := s.limiter(ctx, ip)
	if !limiter.Allow() {
		logger.WarnContext(ctx, "[handleReport] Rate limit exceeded", "client_ip", ip)
		http.Error(writer, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	req, err := s.parseAnalyzeRequest(ctx, request)
	if err != nil {
		logger.ErrorContext(ctx, "[handleReport] Failed to parse request", "remote_addr", request.RemoteAddr, errorKey, sanitizeError(err))
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	token := s.extractToken(request)
	if token == "" {
		token = s.token(ctx)
		if token == "" {
			logger.WarnContext(ctx, "[handleReport] No GitHub token available", "remote_addr", request.RemoteAddr)
			http.Error(writer, "GitHub token required (set GITHUB_TOKEN env var or provide Authorization header)", http.StatusUnauthorized)
			return
		}
	}

	resolution, firstResponse, err := s.runAnalysis(ctx, logger, req, token)
	if err != nil {
		logger.ErrorContext(ctx, "[handleReport] Error processing request",
			"remote_addr", request.RemoteAddr, "repository", req.Repository, errorKey, sanitizeError(err))
		http.Error(writer, "Internal server error", http.StatusInternalServerError)
		return
	}

	writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.WriteHTML(writer, req.Repository, resolution, firstResponse); err != nil {
		logger.ErrorContext(ctx, "[handleReport] Error rendering report", errorKey, err)
		return
	}

	logger.InfoContext(ctx, "[handleReport] Request completed", "repository", req.Repository)
}

// parseAnalyzeRequest parses and validates the incoming request.
func (s *Server) parseAnalyzeRequest(ctx context.Context, r *http.Request) (*AnalyzeRequest, error) {
	var req AnalyzeRequest

	// Handle GET requests with query parameters.
	if r.Method == http.MethodGet {
		query := r.URL.Query()
		req.Repository = query.Get("repository")
		req.State = query.Get("state")
		req.SeparateMembers = queryBool(query, "separate_members")
		req.ExcludeMembers = queryBool(query, "exclude_members")
		req.FirstResponse = queryBool(query, "first_response")
		req.IncludeUnresolved = queryBool(query, "include_unresolved")
	} else {
		// Handle POST requests with JSON body.
		// SECURITY: Limit request body size to prevent memory exhaustion DoS.
		const maxRequestSize = 1 << 20 // 1MB
		r.Body = http.MaxBytesReader(nil, r.Body, maxRequestSize)

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.logger.ErrorContext(ctx, "[parseAnalyzeRequest] Failed to decode JSON", errorKey, sanitizeError(err))
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	if req.Repository == "" {
		s.logger.ErrorContext(ctx, "[parseAnalyzeRequest] Missing required field: repository")
		return nil, errors.New("missing required field: repository")
	}

	if err := validateRepository(req.Repository); err != nil {
		s.logger.ErrorContext(ctx, "[parseAnalyzeRequest] Invalid repository", "repository", req.Repository, errorKey, err.Error())
		return nil, err
	}

	switch req.State {
	case "":
		req.State = "closed"
	case "closed", "all":
	case "open":
		return nil, errors.New("analysis requires closed issues, state must be closed or all")
	default:
		return nil, fmt.Errorf("invalid state %q, must be closed or all", req.State)
	}

	return &req, nil
}

// queryBool reads a boolean query parameter. Absent or malformed values are
// false.
func queryBool(query url.Values, key string) bool {
	v, err := strconv.ParseBool(query.Get(key))
	return err == nil && v
}

// validateRepository performs strict validation of owner/name repository slugs.
func validateRepository(repo string) error {
	// Length check prevents extremely long slugs from reaching the API.
	if len(repo) > maxRepoLength {
		return errors.New("repository too long")
	}
	if !repoPattern.MatchString(repo) {
		return errors.New("repository must be in owner/name format")
	}
	return nil
}

// extractToken extracts the GitHub token from the Authorization header.
func (*Server) extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Support "Bearer token" and "token token" formats.
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if strings.HasPrefix(auth, "token ") {
		return strings.TrimPrefix(auth, "token ")
	}

	return auth
}

// token retrieves a GitHub token from environment or Google Secret Manager.
// Results are cached in memory to avoid repeated API calls (performance and billing).
// Priority: GITHUB_TOKEN env var, then gh auth token, then GITHUB_TOKEN from GSM.
func (s *Server) token(ctx context.Context) string {
	// Check cache first (read lock)
	s.fallbackTokenMu.RLock()
	if s.fallbackToken != "" {
		token := s.fallbackToken
		s.fallbackTokenMu.RUnlock()
		return token
	}
	s.fallbackTokenMu.RUnlock()

	// Acquire write lock to fetch token
	s.fallbackTokenMu.Lock()
	defer s.fallbackTokenMu.Unlock()

	// Double-check after acquiring write lock
	if s.fallbackToken != "" {
		return s.fallbackToken
	}

	// Try GITHUB_TOKEN environment variable first (for local development)
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		s.logger.InfoContext(ctx, "Using GITHUB_TOKEN from environment variable")
		s.fallbackToken = token
		return token
	}

	// Try gh auth token if gh is in PATH
	if ghPath, err := exec.LookPath("gh"); err == nil {
		s.logger.InfoContext(ctx, "Found gh CLI in PATH", "path", ghPath)
		cmd := exec.CommandContext(ctx, "gh", "auth", "token")
		output, err := cmd.Output()
		if err == nil {
			token := strings.TrimSpace(string(output))
			if token != "" {
				s.logger.InfoContext(ctx, "Using GITHUB_TOKEN from gh auth token")
				s.fallbackToken = token
				return token
			}
		} else {
			s.logger.WarnContext(ctx, "Failed to get token from gh auth token", errorKey, err)
		}
	}

	// Try Google Secret Manager for GITHUB_TOKEN
	token, err := gsm.Fetch(ctx, "GITHUB_TOKEN")
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to fetch GITHUB_TOKEN from GSM", errorKey, err)
		return ""
	}

	if token != "" {
		s.logger.InfoContext(ctx, "Using GITHUB_TOKEN from Google Secret Manager")
		s.fallbackToken = token
		return token
	}

	s.logger.WarnContext(ctx, "No fallback GitHub token found (tried GITHUB_TOKEN env, gh auth token, and GITHUB_TOKEN GSM)")
	return ""
}

// githubClient builds a GitHub API client sharing this server's HTTP client.
func (s *Server) githubClient(logger *slog.Logger, token string) *github.Client {
	opts := []github.Option{
		github.WithHTTPClient(s.httpClient),
		github.WithLogger(logger),
	}
	if s.githubBaseURL != "" {
		opts = append(opts, github.WithBaseURL(s.githubBaseURL))
	}
	return github.NewClient(token, opts...)
}

// issuesFor returns a repository's issues, serving from the caches when
// possible.
func (s *Server) issuesFor(ctx context.Context, client *github.Client, repo, state string) ([]stats.Issue, error) {
	key := "issues:" + repo + ":" + state
	if issues, ok := s.cachedIssues(ctx, key); ok {
		return issues, nil
	}

	issues, err := client.Issues(ctx, repo, state, analysisPerPage, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch issues for %s: %w", repo, err)
	}

	s.cacheIssues(ctx, key, repo, issues)
	return issues, nil
}

// collaboratorsFor returns a repository's collaborator set, serving from the
// caches when possible.
func (s *Server) collaboratorsFor(ctx context.Context, client *github.Client, repo string) (stats.Collaborators, error) {
	key := "collabs:" + repo
	if collabs, ok := s.cachedCollaborators(ctx, key); ok {
		return collabs, nil
	}

	collabs, err := client.Collaborators(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("fetch collaborators for %s: %w", repo, err)
	}

	s.cacheCollaborators(ctx, key, repo, collabs)
	return collabs, nil
}

// analysisBucket is one labeled subset of issues under analysis.
type analysisBucket struct {
	label  string
	issues []stats.Issue
}

// runAnalysis fetches issue data through the caches and builds the labeled
// duration categories for one request.
func (s *Server) runAnalysis(ctx context.Context, logger *slog.Logger, req *AnalyzeRequest, token string) (resolution, firstResponse []report.Category, err error) {
	client := s.githubClient(logger, token)

	issues, err := s.issuesFor(ctx, client, req.Repository, req.State)
	if err != nil {
		return nil, nil, err
	}

	if !req.IncludeUnresolved {
		resolved, unresolved := stats.SplitByResolution(issues)
		if len(unresolved) > 0 {
			logger.InfoContext(ctx, "[runAnalysis] Excluding issues closed as not planned",
				"repository", req.Repository, "excluded", len(unresolved))
		}
		issues = resolved
	}

	var collabs stats.Collaborators
	if req.SeparateMembers || req.ExcludeMembers || req.FirstResponse {
		collabs, err = s.collaboratorsFor(ctx, client, req.Repository)
		if err != nil {
			return nil, nil, err
		}
	}

	var buckets []analysisBucket
	switch {
	case req.ExcludeMembers:
		// Exclusion wins over separation when both are requested.
		_, external := stats.SplitByMembership(issues, collabs)
		buckets = []analysisBucket{{label: "External Users", issues: external}}
	case req.SeparateMembers:
		members, external := stats.SplitByMembership(issues, collabs)
		buckets = []analysisBucket{
			{label: "Repository Members", issues: members},
			{label: "External Users", issues: external},
		}
	default:
		buckets = []analysisBucket{{label: "All Issues", issues: issues}}
	}

	for _, b := range buckets {
		hours := stats.ResolutionDurations(b.issues)
		resolution = append(resolution, report.Category{
			Summary: stats.Summarize(hours),
			Label:   b.label,
			Hours:   hours,
		})
	}

	if req.FirstResponse {
		source := &github.RepoComments{Client: client, Repo: req.Repository}
		rules := stats.DefaultBotRules()
		for _, b := range buckets {
			hours, frErr := stats.CollectFirstResponses(ctx, &stats.FirstResponseRequest{
				Source:        source,
				Logger:        logger,
				Issues:        b.issues,
				Collaborators: collabs,
				Rules:         rules,
				Concurrency:   stats.DefaultConcurrency,
			})
			if frErr != nil {
				return nil, nil, frErr
			}
			firstResponse = append(firstResponse, report.Category{
				Summary: stats.Summarize(hours),
				Label:   b.label + " (First Response)",
				Hours:   hours,
			})
		}
	}

	return resolution, firstResponse, nil
}

// analyzeResponse assembles the JSON payload. All categories share one bin
// axis so client-side charts can overlay them.
func (s *Server) analyzeResponse(req *AnalyzeRequest, resolution, firstResponse []report.Category) *AnalyzeResponse {
	categories := slices.Concat(resolution, firstResponse)
	bins := report.HistogramBins(categories)

	results := make([]CategoryResult, 0, len(categories))
	for _, cat := range categories {
		result := CategoryResult{Label: cat.Label, Summary: cat.Summary}
		if len(cat.Hours) > 0 {
			counts := report.BinCounts(cat.Hours, len(bins))
			result.Histogram = make([]BinCount, len(bins))
			for i, bin := range bins {
				result.Histogram[i] = BinCount{Bin: bin, Count: counts[i]}
			}
		}
		results = append(results, result)
	}

	return &AnalyzeResponse{
		Repository: req.Repository,
		State:      req.State,
		Categories: results,
		Timestamp:  time.Now(),
		Commit:     s.serverCommit,
	}
}

// isOriginAllowed checks if an origin is in the allowed list.
// Supports exact matches and wildcard subdomain patterns (*.example.com or https://*.example.com).
func (s *Server) isOriginAllowed(origin string) bool {
	// Parse origin to extract protocol and host
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return false
	}

	protocolEnd := strings.Index(origin, "://")
	if protocolEnd == -1 {
		return false
	}
	protocol := origin[:protocolEnd]

	host := origin[protocolEnd+3:]
	// Remove port if present
	if colonIndex := strings.Index(host, ":"); colonIndex != -1 {
		host = host[:colonIndex]
	}
	// Remove path if present
	if slashIndex := strings.Index(host, "/"); slashIndex != -1 {
		host = host[:slashIndex]
	}

	for _, allowed := range s.allowedOrigins {
		// Exact match
		if allowed == origin {
			return true
		}

		// Wildcard subdomain match
		// Handle both "*.example.com" and "https://*.example.com" formats
		if strings.Contains(allowed, "*") {
			var wildcardDomain string
			var requiredProtocol string

			switch {
			case strings.HasPrefix(allowed, "http://"), strings.HasPrefix(allowed, "https://"):
				allowedProtocolEnd := strings.Index(allowed, "://")
				if allowedProtocolEnd == -1 {
					continue
				}
				requiredProtocol = allowed[:allowedProtocolEnd]
				wildcardPart := allowed[allowedProtocolEnd+3:]

				if !strings.HasPrefix(wildcardPart, "*.") {
					continue
				}
				wildcardDomain = wildcardPart[2:]

				// Protocol must match
				if protocol != requiredProtocol {
					continue
				}
			case strings.HasPrefix(allowed, "*."):
				wildcardDomain = allowed[2:]
			default:
				continue
			}

			// Matches: example.com, sub.example.com, deep.sub.example.com
			// Doesn't match: notexample.com, fakeexample.com
			if host == wildcardDomain || strings.HasSuffix(host, "."+wildcardDomain) {
				return true
			}
		}
	}
	return false
}

// handleHealth provides a simple health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "healthy"}); err != nil {
		s.logger.ErrorContext(ctx, "[handleHealth] Error encoding response", errorKey, err)
	}
}

// handleWebUI serves the embedded web UI.
func (s *Server) handleWebUI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	htmlContent, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		s.logger.ErrorContext(ctx, "[handleWebUI] Failed to read index.html", errorKey, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(htmlContent); err != nil {
		s.logger.ErrorContext(ctx, "[handleWebUI] Error writing response", errorKey, err)
	}
}

// handleStatic serves embedded static files.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Strip leading slash to match embed.FS structure
	path := strings.TrimPrefix(r.URL.Path, "/")

	content, err := staticFS.ReadFile(path)
	if err != nil {
		s.logger.WarnContext(ctx, "[handleStatic] File not found", "path", path, errorKey, err)
		http.NotFound(w, r)
		return
	}

	// Set content type based on file extension
	var contentType string
	switch {
	case strings.HasSuffix(path, ".png"):
		contentType = "image/png"
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		contentType = "image/jpeg"
	case strings.HasSuffix(path, ".ico"):
		contentType = "image/x-icon"
	case strings.HasSuffix(path, ".css"):
		contentType = "text/css; charset=utf-8"
	case strings.HasSuffix(path, ".js"):
		contentType = "application/javascript; charset=utf-8"
	default:
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		s.logger.ErrorContext(ctx, "[handleStatic] Error writing response", errorKey, err)
	}
}
