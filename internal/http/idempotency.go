package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	// HeaderIdempotencyKey makes a smart-add safe to retry.
	HeaderIdempotencyKey = "Idempotency-Key"

	maxIdempotencyKeyLen = 255
)

var errRequestInFlight = errors.New("a request with this idempotency key is still in progress")

type storedResponse struct {
	status  int
	body    []byte
	pending bool
}

// idempotencyStore remembers responses per ledger and key until ttl passes.
type idempotencyStore struct {
	responses *cache.Cache
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &idempotencyStore{responses: cache.New(ttl, ttl/2)}
}

func idempotencyKey(ledgerID, key string) string {
	return ledgerID + "\x00" + key
}

// begin claims key. When a completed response is stored it is returned with
// claimed false; a claim held by another request yields errRequestInFlight.
func (s *idempotencyStore) begin(key string) (resp storedResponse, claimed bool, err error) {
	if s.responses.Add(key, storedResponse{pending: true}, cache.DefaultExpiration) == nil {
		return storedResponse{}, true, nil
	}
	v, ok := s.responses.Get(key)
	if !ok {
		// expired between Add and Get
		return s.begin(key)
	}
	stored := v.(storedResponse)
	if stored.pending {
		return storedResponse{}, false, errRequestInFlight
	}
	return stored, false, nil
}

// finish stores the outcome of a claimed key. Server errors release the
// claim so the request can be retried.
func (s *idempotencyStore) finish(key string, status int, body []byte) {
	if status >= http.StatusInternalServerError {
		s.responses.Delete(key)
		return
	}
	s.responses.Set(key, storedResponse{status: status, body: body}, cache.DefaultExpiration)
}

func (s *idempotencyStore) size() int {
	return s.responses.ItemCount()
}

func (r storedResponse) write(w http.ResponseWriter) {
	w.Header().Set("Idempotent-Replayed", "true")
	if r.body != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(r.status)
	if r.body != nil {
		_, _ = w.Write(r.body)
		_, _ = w.Write([]byte("\n"))
	}
}
