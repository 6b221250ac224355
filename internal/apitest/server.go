// Package apitest provides an in-process fake of the Upstream API for tests.
//
// The fake implements the auth endpoints, the CSV ingestion endpoint, and
// the station and sensor lookups the client uses. It records every upload
// and can be told to fail a specific one.
package apitest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Default credentials accepted by a new Server.
const (
	Username = "tester"
	Password = "secret"
)

// Upload is one request received by the ingestion endpoint.
type Upload struct {
	CampaignID       int
	StationID        int
	RequestID        string
	SensorsName      string
	Sensors          []byte
	MeasurementsName string
	Measurements     []byte
	ContentTypes     [2]string // Part content types: sensors, measurements
}

type stationKey struct{ campaign, station int }

type station struct {
	ID      int
	Name    string
	sensors map[string]sensor // keyed by alias
	order   []string
	rows    int
}

type sensor struct {
	Alias        string
	VariableName string
	Units        string
}

type failure struct {
	status int
	body   string
}

// Server is a fake Upstream API backed by httptest.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	stations  map[stationKey]*station
	access    map[string]bool
	refresh   map[string]bool
	issued    int
	logins    int
	refreshes int
	uploads   []Upload
	requests  []Request
	failures  map[int]failure // keyed by 1-based upload call number
	expiresIn int
}

// New starts a fake server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		stations:  make(map[stationKey]*station),
		access:    make(map[string]bool),
		refresh:   make(map[string]bool),
		failures:  make(map[int]failure),
		expiresIn: 3600,
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recordRequests)
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/uploadfile_csv/campaign/{campaignID}/station/{stationID}/sensor", s.handleUpload)
		r.Get("/campaigns/{campaignID}/stations/{stationID}", s.handleGetStation)
		r.Get("/campaigns/{campaignID}/stations/{stationID}/sensors", s.handleListSensors)
	})

	return r
}

// AddStation registers a station so uploads and lookups against it succeed.
func (s *Server) AddStation(campaignID, stationID int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[stationKey{campaignID, stationID}] = &station{
		ID:      stationID,
		Name:    name,
		sensors: make(map[string]sensor),
	}
}

// FailUpload makes the n-th upload call (1-based) answer with status and body.
func (s *Server) FailUpload(n, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[n] = failure{status: status, body: body}
}

// SetTokenLifetime sets expires_in, in seconds, for tokens issued from now on.
func (s *Server) SetTokenLifetime(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresIn = seconds
}

// RevokeTokens invalidates every access token issued so far. Refresh
// tokens stay valid.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.access)
}

// Uploads returns a copy of the uploads received, in arrival order.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Logins returns how many successful logins the server has seen.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Refreshes returns how many successful token refreshes the server has seen.
func (s *Server) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// MeasurementRows returns the number of measurement rows stored for a station.
func (s *Server) MeasurementRows(campaignID, stationID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stations[stationKey{campaignID, stationID}]; ok {
		return st.rows
	}
	return 0
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Username != Username || body.Password != Password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	s.mu.Lock()
	s.logins++
	s.mu.Unlock()
	s.issueTokens(w, true)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	ok := s.refresh[body.RefreshToken]
	if ok {
		s.refreshes++
	}
	s.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	s.issueTokens(w, false)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if tok, ok := bearer(r); ok {
		s.mu.Lock()
		delete(s.access, tok)
		s.mu.Unlock()
	}
	w.WriteHeader(http.StatusNoContent)
}

// issueTokens mints an access token, plus a refresh token when withRefresh.
func (s *Server) issueTokens(w http.ResponseWriter, withRefresh bool) {
	s.mu.Lock()
	s.issued++
	access := fmt.Sprintf("access-%d", s.issued)
	s.access[access] = true
	resp := map[string]any{
		"access_token": access,
		"token_type":   "bearer",
		"expires_in":   s.expiresIn,
	}
	if withRefresh {
		ref := fmt.Sprintf("refresh-%d", s.issued)
		s.refresh[ref] = true
		resp["refresh_token"] = ref
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearer(r)
		s.mu.Lock()
		valid := ok && s.access[tok]
		s.mu.Unlock()

		if !valid {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	key, ok := pathStation(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	up := Upload{
		CampaignID: key.campaign,
		StationID:  key.station,
		RequestID:  r.Header.Get("X-Request-ID"),
	}
	var err error
	if up.SensorsName, up.Sensors, up.ContentTypes[0], err = formFile(r, "upload_file_sensors"); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if up.MeasurementsName, up.Measurements, up.ContentTypes[1], err = formFile(r, "upload_file_measurements"); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, up)
	call := len(s.uploads)
	fail, failing := s.failures[call]
	st := s.stations[key]
	s.mu.Unlock()

	if failing {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fail.status)
		_, _ = io.WriteString(w, fail.body)
		return
	}
	if st == nil {
		writeDetail(w, http.StatusNotFound, "Station not found")
		return
	}

	sensors, err := parseSensors(up.Sensors)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	rows, err := countRows(up.Measurements)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.mu.Lock()
	for _, sn := range sensors {
		if _, exists := st.sensors[sn.Alias]; !exists {
			st.order = append(st.order, sn.Alias)
		}
		st.sensors[sn.Alias] = sn
	}
	st.rows += rows
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"uploaded_file_sensors":        up.SensorsName,
		"total_sensors_processed":      len(sensors),
		"uploaded_file_measurements":   up.MeasurementsName,
		"total_measurements_processed": rows,
	})
}

func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	key, ok := pathStation(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	st := s.stations[key]
	s.mu.Unlock()

	if st == nil {
		writeDetail(w, http.StatusNotFound, "Station not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     st.ID,
		"name":   st.Name,
		"active": true,
	})
}

func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	key, ok := pathStation(w, r)
	if !ok {
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stations[key]
	if st == nil {
		writeDetail(w, http.StatusNotFound, "Station not found")
		return
	}

	items := make([]map[string]any, 0, limit)
	start := (page - 1) * limit
	for i := start; i < len(st.order) && i < start+limit; i++ {
		sn := st.sensors[st.order[i]]
		items = append(items, map[string]any{
			"id":           i + 1,
			"alias":        sn.Alias,
			"variablename": sn.VariableName,
			"units":        sn.Units,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(st.order),
		"page":  page,
		"size":  limit,
		"pages": (len(st.order) + limit - 1) / limit,
	})
}

func pathStation(w http.ResponseWriter, r *http.Request) (stationKey, bool) {
	campaign, err1 := strconv.Atoi(chi.URLParam(r, "campaignID"))
	stationID, err2 := strconv.Atoi(chi.URLParam(r, "stationID"))
	if err1 != nil || err2 != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid campaign or station id")
		return stationKey{}, false
	}
	return stationKey{campaign, stationID}, true
}

func formFile(r *http.Request, field string) (name string, data []byte, contentType string, err error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return "", nil, "", fmt.Errorf("missing form file %s", field)
	}
	defer f.Close()

	data, err = io.ReadAll(f)
	if err != nil {
		return "", nil, "", fmt.Errorf("read %s: %w", field, err)
	}
	return hdr.Filename, data, hdr.Header.Get("Content-Type"), nil
}

func parseSensors(raw []byte) ([]sensor, error) {
	records, err := readCSV(raw)
	if err != nil {
		return nil, fmt.Errorf("sensors: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	idx := make(map[string]int)
	for i, h := range records[0] {
		idx[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}
	col := func(rec []string, name string) string {
		if i, ok := idx[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}

	out := make([]sensor, 0, len(records)-1)
	for _, rec := range records[1:] {
		alias := col(rec, "alias")
		if alias == "" {
			return nil, fmt.Errorf("sensor alias must not be empty")
		}
		out = append(out, sensor{
			Alias:        alias,
			VariableName: col(rec, "variablename"),
			Units:        col(rec, "units"),
		})
	}
	return out, nil
}

func countRows(raw []byte) (int, error) {
	records, err := readCSV(raw)
	if err != nil {
		return 0, fmt.Errorf("measurements: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	return len(records) - 1, nil
}

func readCSV(raw []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || tok == "" {
		return "", false
	}
	return tok, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
