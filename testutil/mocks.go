package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

// MockIngestAuthServer mocks the ingest auth endpoint used by stream
// initialization: a client-credentials token grant plus a revoke endpoint.
type MockIngestAuthServer struct {
	*httptest.Server
	TokenRequests  int
	RevokeRequests int
	RevokedTokens  []string
	// FailToken makes /oauth2/token return 500.
	FailToken bool
}

// NewMockIngestAuthServer creates a mock ingest auth server issuing
// predictable tokens of the form <tokenPrefix>-<request number>.
func NewMockIngestAuthServer(t *testing.T, tokenPrefix string) *MockIngestAuthServer {
	t.Helper()
	m := &MockIngestAuthServer{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			m.TokenRequests++
			if m.FailToken {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": tokenPrefix + "-" + strconv.Itoa(m.TokenRequests),
				"expires_in":   3600,
				"token_type":   "bearer",
			})
		case "/oauth2/revoke":
			m.RevokeRequests++
			if err := r.ParseForm(); err == nil {
				m.RevokedTokens = append(m.RevokedTokens, r.PostForm.Get("token"))
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(m.Close)
	return m
}

// TokenURL returns the mock token grant endpoint.
func (m *MockIngestAuthServer) TokenURL() string { return m.URL + "/oauth2/token" }

// RevokeURL returns the mock revoke endpoint.
func (m *MockIngestAuthServer) RevokeURL() string { return m.URL + "/oauth2/revoke" }

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": []map[string]string{
				{"id": userID, "login": login},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": streams,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
