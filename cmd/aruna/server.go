package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/danarsa/aruna"
	"github.com/danarsa/aruna/frontend/whatsapp"
	"github.com/danarsa/aruna/observer"
)

// turnTimeout bounds one conversation turn end to end, tool calls and
// provider retries included.
const turnTimeout = 2 * time.Minute

type serverDeps struct {
	workflow    *aruna.Workflow
	client      *whatsapp.Client
	verifyToken string
	logger      *slog.Logger
	inst        *observer.Instruments
}

// server receives WhatsApp webhook deliveries and runs one workflow turn
// per incoming message. Turns for different users run concurrently; turns
// for the same user are serialized on that user's conversation.
type server struct {
	serverDeps

	mu       sync.Mutex
	sessions map[string]*session
}

// session is one user's conversation plus the lock that serializes their
// turns.
type session struct {
	mu    sync.Mutex
	state *aruna.ConversationState
}

func newServer(deps serverDeps) *server {
	return &server{serverDeps: deps, sessions: make(map[string]*session)}
}

// listen serves the webhook until ctx is cancelled, then drains in-flight
// requests.
func (s *server) listen(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", s.handleVerify)
	mux.HandleFunc("POST /webhook", s.handleDelivery)

	httpSrv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(sctx)
}

// handleVerify answers Meta's webhook subscription challenge.
func (s *server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.verifyToken {
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

// handleDelivery acknowledges the delivery immediately and processes each
// message in the background. WhatsApp retries deliveries that do not get a
// prompt 200, which would duplicate slow turns.
func (s *server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	var payload whatsapp.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	for _, turn := range whatsapp.ParseIncoming(payload) {
		go s.handleTurn(turn)
	}
}

// handleTurn runs one workflow turn and delivers the reply.
func (s *server) handleTurn(turn aruna.IncomingTurn) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	sess := s.session(turn.OwnerID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	start := time.Now()
	payload, err := s.workflow.Run(ctx, turn, sess.state)
	s.recordTurn(ctx, turn.OwnerID, err, time.Since(start))
	if err != nil {
		var werr *aruna.WorkflowError
		if !errors.As(err, &werr) {
			// Cancellation: no deliverable payload.
			s.logger.Error("turn aborted", "owner", turn.OwnerID, "error", err)
			return
		}
		// WorkflowError still carries the deliverable fallback payload.
		s.logger.Error("turn failed", "owner", turn.OwnerID, "error", err)
	}

	if err := s.client.SendPayload(ctx, turn.OwnerID, payload); err != nil {
		s.logger.Error("reply delivery failed", "owner", turn.OwnerID, "error", err)
	}
}

// session returns the owner's session, creating it on first contact.
func (s *server) session(owner string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[owner]
	if !ok {
		sess = &session{state: aruna.NewConversationState(owner)}
		s.sessions[owner] = sess
	}
	return sess
}

func (s *server) recordTurn(ctx context.Context, owner string, err error, elapsed time.Duration) {
	if s.inst == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		observer.AttrWorkflowOwner.String(owner),
		observer.AttrWorkflowStatus.String(status),
	)
	s.inst.WorkflowRuns.Add(ctx, 1, attrs)
	s.inst.WorkflowDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}
