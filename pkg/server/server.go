// Package server serves the channel streams of a score over HTTP so a
// remote player can pull each channel's PCM independently.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/zurustar/scorestream/pkg/logger"
	"github.com/zurustar/scorestream/pkg/score"
	"github.com/zurustar/scorestream/pkg/synth"
)

const (
	// DefaultLength is the PCM length served when a request names none.
	DefaultLength = synth.ChunkSize * synth.SampleSize

	// MaxLength caps one PCM request at ten seconds of audio.
	MaxLength = 10 * synth.SampleRate * synth.SampleSize

	// SampleFormat names the PCM encoding in the X-Sample-Format header.
	SampleFormat = "s16le"
)

// Options configures a Server.
type Options struct {
	// CORSOrigins enables CORS for these origins. Empty disables CORS.
	CORSOrigins []string
	Logger      *slog.Logger
}

// Server exposes one score. Each channel is guarded by its own mutex, so
// requests for different channels render concurrently.
type Server struct {
	sc      *score.Score
	locks   map[int]*sync.Mutex
	handler http.Handler
	log     *slog.Logger
}

// New creates a server for sc.
func New(sc *score.Score, opts Options) *Server {
	s := &Server{
		sc:    sc,
		locks: make(map[int]*sync.Mutex),
		log:   logger.OrDefault(opts.Logger).With("score", sc.ID().String()),
	}
	for _, ch := range sc.Indices() {
		s.locks[ch] = &sync.Mutex{}
	}

	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/metadata", s.handleMetadata).Methods(http.MethodGet)
	router.HandleFunc("/channels", s.handleChannels).Methods(http.MethodGet)
	router.HandleFunc("/channels/{index:[0-9]+}", s.handleChannel).Methods(http.MethodGet)
	router.HandleFunc("/channels/{index:[0-9]+}/pcm", s.handlePCM).Methods(http.MethodGet)

	s.handler = router
	if len(opts.CORSOrigins) > 0 {
		s.handler = cors.New(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet},
			ExposedHeaders: []string{"X-Sample-Rate", "X-Sample-Format", "X-Stream-Offset", "X-Stream-EOF"},
		}).Handler(router)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled. ready, when not nil,
// receives the bound address once the listener is open.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}

	s.log.Info("serving channels", "addr", ln.Addr().String(), "channels", len(s.locks))
	if ready != nil {
		ready <- ln.Addr()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}

// ChannelSummary describes one channel stream.
type ChannelSummary struct {
	Channel int     `json:"channel"`
	Drums   bool    `json:"drums"`
	Events  int     `json:"events"`
	State   string  `json:"state"`
	Offset  int64   `json:"offset"`
	TimeMS  float64 `json:"timeMs"`
	EOF     bool    `json:"eof"`
}

func (s *Server) summary(ch int) (ChannelSummary, error) {
	st, err := s.sc.Channel(ch)
	if err != nil {
		return ChannelSummary{}, err
	}
	mu := s.locks[ch]
	mu.Lock()
	defer mu.Unlock()

	return ChannelSummary{
		Channel: ch,
		Drums:   ch == synth.PercussionChannel,
		Events:  len(st.Events()),
		State:   st.State().String(),
		Offset:  st.Tell(),
		TimeMS:  float64(st.Time()) / float64(time.Millisecond),
		EOF:     st.EOF(),
	}, nil
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	out := make([]ChannelSummary, 0, len(s.locks))
	for _, ch := range s.sc.Indices() {
		sum, err := s.summary(ch)
		if err != nil {
			s.writeError(w, err)
			return
		}
		out = append(out, sum)
	}
	writeJSON(w, out)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := channelIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sum, err := s.summary(ch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, sum)
}

// Metadata is the JSON form of the score metadata.
type Metadata struct {
	ID         string   `json:"id"`
	Source     string   `json:"source"`
	TimeFormat string   `json:"timeFormat"`
	Tracks     int      `json:"tracks"`
	TrackNames []string `json:"trackNames"`
	Tempos     []Tempo  `json:"tempos"`
	Events     int      `json:"events"`
	Skipped    int      `json:"skipped"`
	DurationMS float64  `json:"durationMs"`
	Channels   []int    `json:"channels"`
}

type Tempo struct {
	TimeMS float64 `json:"timeMs"`
	BPM    float64 `json:"bpm"`
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	meta := s.sc.Metadata()
	out := Metadata{
		ID:         s.sc.ID().String(),
		Source:     meta.Source,
		TimeFormat: meta.TimeFormat,
		Tracks:     meta.Tracks,
		TrackNames: meta.TrackNames,
		Events:     meta.Events,
		Skipped:    meta.Skipped,
		Channels:   s.sc.Indices(),
	}
	if tl := s.sc.Timeline(); tl != nil {
		out.DurationMS = float64(tl.Duration()) / float64(time.Millisecond)
	}
	for _, t := range meta.Tempos {
		out.Tempos = append(out.Tempos, Tempo{TimeMS: float64(t.Time) / float64(time.Millisecond), BPM: t.BPM})
	}
	writeJSON(w, out)
}

var errBadRequest = errors.New("bad request")

func (s *Server) handlePCM(w http.ResponseWriter, r *http.Request) {
	ch, err := channelIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	st, err := s.sc.Channel(ch)
	if err != nil {
		s.writeError(w, err)
		return
	}

	q := r.URL.Query()
	length := int64(DefaultLength)
	if v := q.Get("length"); v != "" {
		length, err = strconv.ParseInt(v, 10, 64)
		if err != nil || length <= 0 {
			s.writeError(w, fmt.Errorf("%w: length %q", errBadRequest, v))
			return
		}
	}
	length = min(length, MaxLength)
	length -= length % synth.SampleSize

	offset := int64(-1)
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.ParseInt(v, 10, 64)
		if err != nil || offset < 0 {
			s.writeError(w, fmt.Errorf("%w: offset %q", errBadRequest, v))
			return
		}
	}

	mu := s.locks[ch]
	mu.Lock()
	if offset >= 0 {
		if _, err := st.Seek(offset, io.SeekStart); err != nil {
			mu.Unlock()
			s.writeError(w, err)
			return
		}
	}
	buf := make([]byte, length)
	n, err := st.Read(buf)
	tell, eof := st.Tell(), st.EOF()
	mu.Unlock()

	if err != nil {
		s.writeError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.Itoa(n))
	h.Set("X-Sample-Rate", strconv.Itoa(synth.SampleRate))
	h.Set("X-Sample-Format", SampleFormat)
	h.Set("X-Stream-Offset", strconv.FormatInt(tell, 10))
	h.Set("X-Stream-EOF", strconv.FormatBool(eof))
	if _, err := w.Write(buf[:n]); err != nil {
		s.log.Debug("pcm write failed", "channel", ch, "error", err)
	}
}

func channelIndex(r *http.Request) (int, error) {
	v := mux.Vars(r)["index"]
	ch, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: channel %q", errBadRequest, v)
	}
	return ch, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, score.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, score.ErrNegativePosition),
		errors.Is(err, score.ErrUnsupportedOperation):
		status = http.StatusBadRequest
	case errors.Is(err, score.ErrClosed):
		status = http.StatusGone
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
