package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/ipc"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/supervisor"
)

// fakeChild exits as soon as it is asked to shut down.
type fakeChild struct {
	pid  int
	msgs chan ipc.Message
	done chan struct{}

	mu   sync.Mutex
	sent []ipc.Message
	once sync.Once
}

func newFakeChild(pid int) *fakeChild {
	return &fakeChild{
		pid:  pid,
		msgs: make(chan ipc.Message, 8),
		done: make(chan struct{}),
	}
}

func (c *fakeChild) PID() int { return c.pid }

func (c *fakeChild) Messages() <-chan ipc.Message { return c.msgs }

func (c *fakeChild) Done() <-chan struct{} { return c.done }

func (c *fakeChild) Kill() error {
	c.exit()
	return nil
}

func (c *fakeChild) Send(m ipc.Message) error {
	c.mu.Lock()
	c.sent = append(c.sent, m)
	c.mu.Unlock()
	if m.Type == ipc.TypeShutdown {
		c.exit()
	}
	return nil
}

func (c *fakeChild) reply(m ipc.Message) { c.msgs <- m }

func (c *fakeChild) exit() {
	c.once.Do(func() {
		close(c.msgs)
		close(c.done)
	})
}

func (c *fakeChild) exited() bool { return isClosed(c.done) }

func (c *fakeChild) sentOfType(t ipc.MessageType) int { return countType(c.messages(), t) }

func (c *fakeChild) messages() []ipc.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ipc.Message(nil), c.sent...)
}

func countType(msgs []ipc.Message, t ipc.MessageType) int {
	n := 0
	for _, m := range msgs {
		if m.Type == t {
			n++
		}
	}
	return n
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

type fakeSpawner struct {
	mu       sync.Mutex
	nextPID  int
	children []*fakeChild
}

func (s *fakeSpawner) Executable() string { return "/bin/true" }

func (s *fakeSpawner) Spawn(context.Context) (supervisor.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPID++
	c := newFakeChild(s.nextPID)
	s.children = append(s.children, c)
	return c, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

func (s *fakeSpawner) last() *fakeChild {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.children) == 0 {
		return nil
	}
	return s.children[len(s.children)-1]
}

type fakeStore struct {
	mu      sync.Mutex
	cfg     domain.EnforcementConfig
	err     error
	changes chan struct{}
}

func newFakeStore(cfg domain.EnforcementConfig) *fakeStore {
	return &fakeStore{cfg: cfg, changes: make(chan struct{}, 1)}
}

func (s *fakeStore) Load() (domain.EnforcementConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.err
}

func (s *fakeStore) Save(cfg domain.EnforcementConfig) error {
	s.set(cfg, nil)
	return nil
}

func (s *fakeStore) set(cfg domain.EnforcementConfig, err error) {
	s.mu.Lock()
	s.cfg, s.err = cfg, err
	s.mu.Unlock()
}

func (s *fakeStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	return s.changes, nil
}

func (s *fakeStore) Path() string { return "/tmp/stayblocked/config.json" }

type fakeRegistry struct {
	mu         sync.Mutex
	registered map[domain.ProcessRole]int
	heartbeats map[domain.ProcessRole]int
	restarts   map[domain.ProcessRole]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		registered: map[domain.ProcessRole]int{},
		heartbeats: map[domain.ProcessRole]int{},
		restarts:   map[domain.ProcessRole]int{},
	}
}

func (r *fakeRegistry) Register(p domain.SupervisedProcess) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[p.Role] = p.PID
	return nil
}

func (r *fakeRegistry) UpdateHeartbeat(role domain.ProcessRole, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats[role]++
	return nil
}

func (r *fakeRegistry) RecordRestart(role domain.ProcessRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts[role]++
	return nil
}

func (r *fakeRegistry) Get(role domain.ProcessRole) (*domain.SupervisedProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pid, ok := r.registered[role]
	if !ok {
		return nil, nil
	}
	return &domain.SupervisedProcess{Role: role, PID: pid}, nil
}

func (r *fakeRegistry) GetAll() ([]domain.SupervisedProcess, error) { return nil, nil }

func (r *fakeRegistry) Clear() error { return nil }

func (r *fakeRegistry) Close() error { return nil }

func (r *fakeRegistry) heartbeatCount(role domain.ProcessRole) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeats[role]
}

func (r *fakeRegistry) pid(role domain.ProcessRole) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered[role]
}
