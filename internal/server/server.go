package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bdougie/medai/internal/analyzer"
	"github.com/bdougie/medai/internal/models"
	"github.com/bdougie/medai/internal/storage"
)

// maxUploadBytes bounds a single multipart upload
const maxUploadBytes = 200 << 20

var (
	imageExts = []string{".png", ".jpg", ".jpeg"}
	videoExts = []string{".mp4", ".mov", ".avi"}
	audioExts = []string{".wav", ".mp3", ".m4a"}
)

// Server exposes the five user actions over HTTP
type Server struct {
	analyzer *analyzer.Analyzer
	history  storage.History
	workDir  string
	logger   *slog.Logger
	mux      *http.ServeMux
}

type resultResponse struct {
	Result     string    `json:"result"`
	Transcript string    `json:"transcript,omitempty"`
	Progress   []float64 `json:"progress,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type chatRequest struct {
	Question string `json:"question"`
}

// New wires a server. Uploads are saved into workDir.
func New(a *analyzer.Analyzer, history storage.History, workDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		analyzer: a,
		history:  history,
		workDir:  workDir,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Router() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("/prescription", s.handlePrescription)
	s.mux.HandleFunc("/posture", s.handlePosture)
	s.mux.HandleFunc("/chat", s.handleChat)
	s.mux.HandleFunc("/audio-notes", s.handleAudioNotes)
	s.mux.HandleFunc("/history", s.handleHistory)
	s.mux.HandleFunc("/history/search", s.handleHistorySearch)
}

// POST /prescription
func (s *Server) handlePrescription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, ok := s.saveUpload(w, r, imageExts)
	if !ok {
		return
	}
	result, err := s.analyzer.ReadPrescription(r.Context(), path)
	s.finish(r.Context(), w, models.KindPrescription, path, resultResponse{Result: result}, err)
}

// POST /posture
func (s *Server) handlePosture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, ok := s.saveUpload(w, r, videoExts)
	if !ok {
		return
	}

	frames := 0
	if v := r.FormValue("frames"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid frames", http.StatusBadRequest)
			return
		}
		frames = n
	}

	if whole, _ := strconv.ParseBool(r.FormValue("whole")); whole {
		result, err := s.analyzer.AnalyzePostureWhole(r.Context(), path)
		s.finish(r.Context(), w, models.KindVideo, path, resultResponse{Result: result}, err)
		return
	}

	var progress []float64
	report := func(fraction float64) {
		progress = append(progress, fraction)
		s.logger.Info("posture progress", "video", filepath.Base(path), "percent", int(fraction*100))
	}
	var result string
	var err error
	if frames > 0 {
		result, err = s.analyzer.AnalyzePostureFrames(r.Context(), path, frames, report)
	} else {
		result, err = s.analyzer.AnalyzePosture(r.Context(), path, report)
	}
	s.finish(r.Context(), w, models.KindVideo, path, resultResponse{Result: result, Progress: progress}, err)
}

// POST /chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: expected JSON {question}; "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question is required", Kind: string(analyzer.KindInput)})
		return
	}
	answer, err := s.analyzer.Chat(r.Context(), req.Question)
	s.finish(r.Context(), w, models.KindChat, req.Question, resultResponse{Result: answer}, err)
}

// POST /audio-notes
func (s *Server) handleAudioNotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, ok := s.saveUpload(w, r, audioExts)
	if !ok {
		return
	}
	transcript, notes, err := s.analyzer.AudioNotes(r.Context(), path)
	s.finish(r.Context(), w, models.KindAudio, path, resultResponse{Result: notes, Transcript: transcript}, err)
}

// GET, DELETE /history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.history.Load(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	case http.MethodDelete:
		if err := s.history.Clear(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /history/search?q=...&limit=...
func (s *Server) handleHistorySearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	searcher, ok := s.history.(storage.Searcher)
	if !ok {
		http.Error(w, "history backend does not support search", http.StatusNotImplemented)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		http.Error(w, "missing q", http.StatusBadRequest)
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := searcher.Search(r.Context(), q, limit)
	if errors.Is(err, storage.ErrSearchUnavailable) {
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// finish records the action in history and writes the response. Failed
// actions are recorded too, tagged with their error kind.
func (s *Server) finish(ctx context.Context, w http.ResponseWriter, kind models.Kind, input string, resp resultResponse, err error) {
	entry := analyzer.Entry(kind, input, resp.Result, err)
	if herr := s.history.Append(ctx, entry); herr != nil {
		s.logger.Error("failed to append history", "type", kind, "error", herr)
	}

	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Kind: entry.ErrorKind})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch analyzer.KindOf(err) {
	case analyzer.KindInput:
		return http.StatusBadRequest
	case analyzer.KindVideo:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// saveUpload stores the multipart "file" field in the working directory
// under its original base name and returns the saved path
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request, allowed []string) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "bad request: expected multipart field \"file\"; "+err.Error(), http.StatusBadRequest)
		return "", false
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) || !allowedExt(name, allowed) {
		http.Error(w, fmt.Sprintf("unsupported file %q; allowed: %s", header.Filename, strings.Join(allowed, ", ")), http.StatusBadRequest)
		return "", false
	}

	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "", false
	}
	path := filepath.Join(s.workDir, name)
	out, err := os.Create(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "", false
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "", false
	}
	if err := out.Close(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "", false
	}
	s.logger.Debug("saved upload", "path", path, "bytes", header.Size)
	return path, true
}

func allowedExt(name string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
