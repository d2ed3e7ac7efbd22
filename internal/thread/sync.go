package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/alphabot-ai/threadline/internal/auth"
	"github.com/alphabot-ai/threadline/internal/model"
)

// ErrDisconnected is returned by Connect when Disconnect or a newer Connect
// won the race against it.
var ErrDisconnected = errors.New("thread: disconnected while connecting")

type CommentFetcher interface {
	GetComment(ctx context.Context, id int64) (*model.Comment, error)
}

type TokenSource interface {
	GetValidAccessToken(ctx context.Context) (string, error)
}

// Channel is an open reply stream.
type Channel interface {
	Next() (model.Envelope, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, threadID int64, token string) (Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, threadID int64, token string) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, threadID int64, token string) (Channel, error) {
	return f(ctx, threadID, token)
}

// Synchronizer holds one loaded thread and merges replies from its push
// channel into it.
type Synchronizer struct {
	fetcher CommentFetcher
	tokens  TokenSource
	dialer  Dialer

	mu         sync.Mutex
	tree       *Tree
	threadID   int64
	conn       Channel
	cancelDial context.CancelFunc
	done       chan struct{}
	// gen advances on every connect and disconnect. Goroutines from an older
	// generation must not touch state.
	gen     uint64
	onReply []func(*model.Comment)
}

func New(fetcher CommentFetcher, tokens TokenSource, dialer Dialer) *Synchronizer {
	return &Synchronizer{fetcher: fetcher, tokens: tokens, dialer: dialer}
}

// OnReply registers fn to run after each merged reply. fn receives a copy and
// runs on the receive goroutine.
func (s *Synchronizer) OnReply(fn func(reply *model.Comment)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReply = append(s.onReply, fn)
}

// LoadThread fetches the root comment with its replies and makes it the
// current tree.
func (s *Synchronizer) LoadThread(ctx context.Context, id int64) error {
	root, err := s.fetcher.GetComment(ctx, id)
	if err != nil {
		return fmt.Errorf("load thread %d: %w", id, err)
	}

	s.mu.Lock()
	s.tree = NewTree(root)
	s.mu.Unlock()
	return nil
}

// Thread returns a copy of the loaded tree, or nil.
func (s *Synchronizer) Thread() *model.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree == nil {
		return nil
	}
	return s.tree.Snapshot()
}

// Connect replaces any open channel with one subscribed to threadID. The
// access token is attached when the session has one.
func (s *Synchronizer) Connect(ctx context.Context, threadID int64) error {
	s.mu.Lock()
	s.closeLocked()
	gen := s.gen
	dialCtx, cancel := context.WithCancel(ctx)
	s.cancelDial = cancel
	s.threadID = threadID
	s.mu.Unlock()
	defer cancel()

	token, err := s.tokens.GetValidAccessToken(dialCtx)
	switch {
	case errors.Is(err, auth.ErrNoAccessToken):
		token = ""
	case err != nil:
		if !s.abandon(gen) {
			return ErrDisconnected
		}
		return fmt.Errorf("connect thread %d: %w", threadID, err)
	}

	ch, err := s.dialer.Dial(dialCtx, threadID, token)
	if err != nil {
		if s.abandon(gen) {
			return fmt.Errorf("connect thread %d: %w", threadID, err)
		}
		return ErrDisconnected
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = ch.Close()
		return ErrDisconnected
	}
	s.cancelDial = nil
	s.conn = ch
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	log.Printf("[thread] subscribed to thread %d (authenticated=%t)", threadID, token != "")
	go s.receive(gen, threadID, ch, done)
	return nil
}

// abandon clears a failed connect attempt. It reports whether the attempt was
// still current.
func (s *Synchronizer) abandon(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.cancelDial = nil
	return true
}

// Disconnect closes the channel and discards the loaded tree. It is safe to
// call at any time, including while Connect is dialing.
func (s *Synchronizer) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	s.tree = nil
	s.threadID = 0
}

func (s *Synchronizer) closeLocked() {
	s.gen++
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			log.Printf("[thread] close channel for thread %d: %v", s.threadID, err)
		}
		s.conn = nil
	}
	s.done = nil
}

// Connected reports whether a channel is open.
func (s *Synchronizer) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Done is closed when the current channel stops delivering, whether the
// server closed it or it failed. Without a channel it returns a closed
// channel.
func (s *Synchronizer) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *Synchronizer) receive(gen uint64, threadID int64, ch Channel, done chan struct{}) {
	defer close(done)

	for {
		env, err := ch.Next()
		if err != nil {
			s.mu.Lock()
			current := s.gen == gen
			if current {
				s.conn = nil
			}
			s.mu.Unlock()
			if current {
				log.Printf("[thread] channel for thread %d closed: %v", threadID, err)
				_ = ch.Close()
			}
			return
		}

		if env.Type != model.EventNewReply {
			continue
		}
		var reply model.Comment
		if err := json.Unmarshal(env.Data, &reply); err != nil {
			log.Printf("[thread] bad reply payload on thread %d: %v", threadID, err)
			continue
		}
		s.merge(gen, threadID, &reply)
	}
}

func (s *Synchronizer) merge(gen uint64, threadID int64, reply *model.Comment) {
	s.mu.Lock()
	if s.gen != gen || s.tree == nil || s.tree.RootID() != threadID {
		s.mu.Unlock()
		return
	}
	inserted := s.tree.Insert(reply)
	var hooks []func(*model.Comment)
	var notify *model.Comment
	if inserted {
		hooks = append(hooks, s.onReply...)
		notify = reply.Clone()
	}
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(notify)
	}
}
