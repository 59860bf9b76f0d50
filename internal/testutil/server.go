package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/roach88/gwimport/internal/model"
	"github.com/roach88/gwimport/internal/platform"
)

// NewServer exposes p over the HTTP routes used by source.HTTPFetcher and
// platform.HTTPClient. Injected failures become 500 responses. When token is
// non-empty, requests without the matching bearer token get 401.
//
// The server is closed when the test ends.
func NewServer(t *testing.T, p *Platform, tenant, token string) *httptest.Server {
	t.Helper()

	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if token != "" && req.Header.Get("Authorization") != "Bearer "+token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	oto := r.PathPrefix("/api/tenants/{tenant}/otoroshis").Subrouter()
	oto.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if mux.Vars(req)["tenant"] != tenant {
				writeError(w, http.StatusNotFound, "tenant not found")
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	oto.HandleFunc("/simplified", func(w http.ResponseWriter, req *http.Request) {
		reply(w)(p.Instances(req.Context()))
	}).Methods(http.MethodGet)
	oto.HandleFunc("/{id}/groups", func(w http.ResponseWriter, req *http.Request) {
		reply(w)(p.Groups(req.Context(), mux.Vars(req)["id"]))
	}).Methods(http.MethodGet)
	oto.HandleFunc("/{id}/services", func(w http.ResponseWriter, req *http.Request) {
		reply(w)(p.Services(req.Context(), mux.Vars(req)["id"]))
	}).Methods(http.MethodGet)
	oto.HandleFunc("/{id}/apikeys", func(w http.ResponseWriter, req *http.Request) {
		reply(w)(p.APIKeys(req.Context(), mux.Vars(req)["id"]))
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/teams", func(w http.ResponseWriter, req *http.Request) {
		reply(w)(p.ListTeams(req.Context()))
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/teams", func(w http.ResponseWriter, req *http.Request) {
		var body model.Team
		if !decode(w, req, &body) {
			return
		}
		reply(w)(p.CreateTeam(req.Context(), model.TeamDraft{
			Name:        body.Name,
			Description: body.Description,
			Contact:     body.Contact,
		}))
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/apis", func(w http.ResponseWriter, req *http.Request) {
		reply(w)(p.ListAPIs(req.Context()))
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/teams/{team}/apis", func(w http.ResponseWriter, req *http.Request) {
		var body platform.NewAPI
		if !decode(w, req, &body) {
			return
		}
		body.Team = mux.Vars(req)["team"]
		reply(w)(p.CreateAPI(req.Context(), body))
	}).Methods(http.MethodPost)
	r.HandleFunc("/api/teams/{team}/apis/{api}", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		reply(w)(p.GetAPI(req.Context(), vars["team"], vars["api"]))
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/teams/{team}/apis/{api}", func(w http.ResponseWriter, req *http.Request) {
		var body model.API
		if !decode(w, req, &body) {
			return
		}
		vars := mux.Vars(req)
		body.Team, body.ID = vars["team"], vars["api"]
		reply(w)(p.UpdateAPI(req.Context(), body))
	}).Methods(http.MethodPut)
	r.HandleFunc("/api/apis/{api}/subscriptions/_init", func(w http.ResponseWriter, req *http.Request) {
		var body platform.NewSubscription
		if !decode(w, req, &body) {
			return
		}
		body.API = mux.Vars(req)["api"]
		reply(w)(p.CreateSubscription(req.Context(), body))
	}).Methods(http.MethodPost)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// reply returns a sink for a (value, error) pair so fake calls can be
// forwarded directly: reply(w)(p.ListTeams(ctx)).
func reply(w http.ResponseWriter) func(any, error) {
	return func(v any, err error) {
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func decode(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
