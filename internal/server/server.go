// Package server provides the HTTP control API: sync rounds, feed and folder
// management, item state and OPML, plus Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/feederr"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/opml"
	"github.com/bryan-buckman/feedsync/internal/syncer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const maxOPMLSize = 10 << 20

// Server is the main HTTP server.
type Server struct {
	db     database.Store
	syncer *syncer.Syncer
	runner *syncer.Runner
	poller *syncer.Poller
	router chi.Router
	http   *http.Server
}

// New creates a new server. poller may be nil to disable background polling.
func New(db database.Store, s *syncer.Syncer, runner *syncer.Runner, poller *syncer.Poller) *Server {
	srv := &Server{
		db:     db,
		syncer: s,
		runner: runner,
		poller: poller,
	}
	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": s.db.DatabaseType()})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/sync", s.handleSyncAll)
		r.Get("/accounts", s.handleAccounts)
		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Post("/sync", s.handleSync)
			r.Get("/folders", s.handleFolders)
			r.Post("/folders", s.handleCreateFolder)
			r.Get("/feeds", s.handleFeeds)
			r.Post("/feeds", s.handleAddFeeds)
			r.Post("/import-opml", s.handleImportOPML)
			r.Get("/export-opml", s.handleExportOPML)
		})
		r.Put("/folders/{folderID}", s.handleRenameFolder)
		r.Delete("/folders/{folderID}", s.handleDeleteFolder)
		r.Put("/feeds/{feedID}", s.handleUpdateFeed)
		r.Delete("/feeds/{feedID}", s.handleDeleteFeed)
		r.Get("/feeds/{feedID}/items", s.handleItems)
		r.Post("/items/{itemID}/read", s.handleMarkRead)
		r.Post("/items/{itemID}/starred", s.handleMarkStarred)
		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleSaveSettings)
	})

	s.router = r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the poller and serves until Shutdown.
func (s *Server) Start(addr string) error {
	if s.poller != nil {
		s.poller.Start()
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("Server starting on %s", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the poller, then the HTTP server, then waits for the
// background rounds.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.poller != nil {
		s.poller.Stop()
	}
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.runner.Wait()
	return err
}

// --- Sync Handlers ---

type reportJSON struct {
	RoundID     string        `json:"round_id"`
	AccountID   int64         `json:"account_id"`
	Account     string        `json:"account"`
	SyncType    string        `json:"sync_type"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    string        `json:"duration"`
	NewFolders  int           `json:"new_folders"`
	NewFeeds    int           `json:"new_feeds"`
	NewItems    int           `json:"new_items"`
	Failures    []failureJSON `json:"failures"`
	RemoteError bool          `json:"remote_error"`
	Error       string        `json:"error,omitempty"`
}

type failureJSON struct {
	URL             string      `json:"url"`
	Kind            string      `json:"kind,omitempty"`
	Error           string      `json:"error,omitempty"`
	AlreadyInserted bool        `json:"already_inserted,omitempty"`
	Feed            *model.Feed `json:"feed,omitempty"`
}

func toFailureJSON(r model.FeedInsertionResult) failureJSON {
	out := failureJSON{URL: r.URL, AlreadyInserted: r.AlreadyInserted, Feed: r.Feed}
	if r.Err != nil {
		out.Kind = feederr.KindOf(r.Err).String()
		out.Error = r.Err.Error()
	}
	return out
}

func toReportJSON(r model.Report, err error) reportJSON {
	out := reportJSON{
		RoundID:     r.RoundID,
		AccountID:   r.AccountID,
		Account:     r.AccountName,
		SyncType:    r.SyncType.String(),
		StartedAt:   r.StartedAt,
		Duration:    r.Duration().Round(time.Millisecond).String(),
		NewFolders:  r.NewFolders,
		NewFeeds:    r.NewFeeds,
		NewItems:    r.NewItems,
		Failures:    make([]failureJSON, 0, len(r.Failures)),
		RemoteError: r.RemoteError,
	}
	for _, f := range r.Failures {
		out.Failures = append(out.Failures, toFailureJSON(f))
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	accountID, ok := idParam(w, r, "accountID")
	if !ok {
		return
	}
	outcome := <-s.runner.Submit(r.Context(), accountID)
	if outcome.Err != nil && outcome.Report.RoundID == "" {
		writeError(w, outcome.Err)
		return
	}
	status := http.StatusOK
	if outcome.Err != nil {
		status = statusFor(outcome.Err)
	}
	writeJSON(w, status, toReportJSON(outcome.Report, outcome.Err))
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	reports, err := s.syncer.SyncAll(ctx)
	if reports == nil && err != nil {
		writeError(w, err)
		return
	}
	out := make([]reportJSON, 0, len(reports))
	total := 0
	for _, rep := range reports {
		out = append(out, toReportJSON(rep, nil))
		total += rep.NewItems
	}
	resp := map[string]interface{}{"reports": out, "new_items": total}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Account, Folder and Feed Handlers ---

type accountJSON struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	URL          string `json:"url,omitempty"`
	Login        string `json:"login,omitempty"`
	LastModified int64  `json:"last_modified"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.db.GetAccounts()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]accountJSON, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountJSON{ID: a.ID, Name: a.Name, Type: string(a.Type), URL: a.URL, Login: a.Login, LastModified: a.LastModified})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	accountID, ok := idParam(w, r, "accountID")
	if !ok {
		return
	}
	folders, err := s.db.ListFolders(accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(folders))
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := idParam(w, r, "accountID")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	folder, err := s.syncer.CreateFolder(r.Context(), accountID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	folderID, ok := idParam(w, r, "folderID")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	folder, err := s.syncer.RenameFolder(r.Context(), folderID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	folderID, ok := idParam(w, r, "folderID")
	if !ok {
		return
	}
	if err := s.syncer.DeleteFolder(r.Context(), folderID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	accountID, ok := idParam(w, r, "accountID")
	if !ok {
		return
	}
	feeds, err := s.db.GetFeeds(accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(feeds))
}

func (s *Server) handleAddFeeds(w http.ResponseWriter, r *http.Request) {
	accountID, ok := idParam(w, r, "accountID")
	if !ok {
		return
	}
	var req struct {
		URL      string   `json:"url"`
		URLs     []string `json:"urls"`
		FolderID *int64   `json:"folder_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.URL != "" {
		req.URLs = append([]string{req.URL}, req.URLs...)
	}
	if len(req.URLs) == 0 {
		http.Error(w, "No url provided", http.StatusBadRequest)
		return
	}

	feeds := make([]syncer.NewFeed, len(req.URLs))
	for i, u := range req.URLs {
		feeds[i] = syncer.NewFeed{URL: u, FolderID: req.FolderID}
	}
	results := s.syncer.AddFeeds(r.Context(), accountID, feeds)

	out := make([]failureJSON, 0, len(results))
	added := 0
	for _, res := range results {
		out = append(out, toFailureJSON(res))
		if res.Err == nil && !res.AlreadyInserted {
			added++
		}
	}
	if len(results) == 1 && results[0].Err != nil {
		writeJSON(w, statusFor(results[0].Err), out)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"added": added, "results": out})
}

func (s *Server) handleUpdateFeed(w http.ResponseWriter, r *http.Request) {
	feedID, ok := idParam(w, r, "feedID")
	if !ok {
		return
	}
	var req struct {
		Name     string `json:"name"`
		FolderID *int64 `json:"folder_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.syncer.UpdateFeed(r.Context(), feedID, req.Name, req.FolderID); err != nil {
		writeError(w, err)
		return
	}
	feed, err := s.db.GetFeedByID(feedID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	feedID, ok := idParam(w, r, "feedID")
	if !ok {
		return
	}
	if err := s.syncer.DeleteFeed(r.Context(), feedID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Item Handlers ---

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	feedID, ok := idParam(w, r, "feedID")
	if !ok {
		return
	}
	onlyUnread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	items, err := s.db.GetItems(feedID, onlyUnread)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.handleItemState(w, r, "read", s.syncer.MarkRead)
}

func (s *Server) handleMarkStarred(w http.ResponseWriter, r *http.Request) {
	s.handleItemState(w, r, "starred", s.syncer.MarkStarred)
}

func (s *Server) handleItemState(w http.ResponseWriter, r *http.Request, field string, set func(int64, bool) error) {
	itemID, ok := idParam(w, r, "itemID")
	if !ok {
		return
	}
	var req map[string]bool
	if !decode(w, r, &req) {
		return
	}
	on, present := req[field]
	if !present {
		http.Error(w, fmt.Sprintf("Missing %q", field), http.StatusBadRequest)
		return
	}
	if err := set(itemID, on); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", field: on})
}

// --- Settings Handlers ---

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PollingInterval int `json:"polling_interval"`
	}
	if !decode(w, r, &req) {
		return
	}
	// Enforce minimum.
	if req.PollingInterval < database.MinPollingIntervalMinutes {
		req.PollingInterval = database.MinPollingIntervalMinutes
	}
	if err := s.db.SetSetting(model.SettingPollingInterval, strconv.Itoa(req.PollingInterval)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "polling_interval": req.PollingInterval})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	interval, err := s.db.GetPollingInterval()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"polling_interval": interval,
	})
}

// --- OPML Handlers ---

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	accountID, ok := idParam(w, r, "accountID")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxOPMLSize)
	file, _, err := r.FormFile("opml")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse OPML: %v", err), http.StatusBadRequest)
		return
	}

	results := s.syncer.ImportOPML(r.Context(), accountID, entries)
	imported := 0
	var failures []failureJSON
	for _, res := range results {
		switch {
		case res.Err != nil:
			failures = append(failures, toFailureJSON(res))
		case !res.AlreadyInserted:
			imported++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"imported": imported,
		"total":    len(entries),
		"failures": nonNil(failures),
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	accountID, ok := idParam(w, r, "accountID")
	if !ok {
		return
	}
	data, err := s.syncer.ExportOPML(accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=feedsync-feeds.opml")
	w.Write(data)
}

// --- Helpers ---

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}

// statusFor maps an error to the HTTP status of the response.
func statusFor(err error) int {
	if errors.Is(err, database.ErrNotFound) {
		return http.StatusNotFound
	}
	switch feederr.KindOf(err) {
	case feederr.NotFound:
		return http.StatusNotFound
	case feederr.Conflict:
		return http.StatusConflict
	case feederr.Format:
		return http.StatusUnprocessableEntity
	case feederr.Network, feederr.Parse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
