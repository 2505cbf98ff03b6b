package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const checkTimeout = 5 * time.Second

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type degradedError struct{ err error }

func (e degradedError) Error() string { return e.err.Error() }
func (e degradedError) Unwrap() error { return e.err }

// Degraded marks a failure the service keeps running through, such as a lost
// person cache.
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return degradedError{err: err}
}

func isDegraded(err error) bool {
	var d degradedError
	return errors.As(err, &d)
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type CheckResult struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration"`
}

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

// Register adds checker. A nil checker is ignored so optional stores can be
// registered unconditionally.
func (r *CheckerRegistry) Register(checker Checker) {
	if checker != nil {
		r.checkers = append(r.checkers, checker)
	}
}

// Check runs every checker concurrently. Any plain failure makes the result
// unhealthy; Degraded failures only degrade it.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	results := make(map[string]CheckResult, len(r.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range r.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(checkCtx)
			result := CheckResult{Status: StatusHealthy, Duration: time.Since(start).String()}
			if err != nil {
				result.Status = StatusUnhealthy
				if isDegraded(err) {
					result.Status = StatusDegraded
				}
				result.Message = err.Error()
			}

			mu.Lock()
			results[c.Name()] = result
			mu.Unlock()
		}(checker)
	}
	wg.Wait()

	status := StatusHealthy
	for _, res := range results {
		if res.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
		if res.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return Health{Status: status, Timestamp: time.Now().UTC(), Checks: results}
}

// Handler serves the registry as JSON: 503 when unhealthy, 200 otherwise.
// details, when set, adds service specific fields such as the number of loaded
// functions.
func Handler(r *CheckerRegistry, details func() map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		h := r.Check(req.Context())
		if details != nil {
			h.Details = details()
		}
		code := http.StatusOK
		if h.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(h)
	}
}

type checkerFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c checkerFunc) Name() string                    { return c.name }
func (c checkerFunc) Check(ctx context.Context) error { return c.fn(ctx) }

func CheckerFunc(name string, fn func(ctx context.Context) error) Checker {
	return checkerFunc{name: name, fn: fn}
}

// Optional reports failures of c as degraded.
func Optional(c Checker) Checker {
	if c == nil {
		return nil
	}
	return CheckerFunc(c.Name(), func(ctx context.Context) error {
		return Degraded(c.Check(ctx))
	})
}

func NewPostgreSQLChecker(db *sql.DB) Checker {
	if db == nil {
		return nil
	}
	return CheckerFunc("postgresql", func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgresql ping failed: %w", err)
		}
		return nil
	})
}

func NewRedisChecker(client *redis.Client) Checker {
	if client == nil {
		return nil
	}
	return CheckerFunc("redis", func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
}

func NewMongoDBChecker(client *mongo.Client) Checker {
	if client == nil {
		return nil
	}
	return CheckerFunc("mongodb", func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("mongodb ping failed: %w", err)
		}
		return nil
	})
}
