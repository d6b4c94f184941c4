package client

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/network"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/protocol"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/session"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/storage"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// recorder counts request and response codes seen by the server.
type recorder struct {
	mu        sync.Mutex
	requests  map[protocol.RequestCode]int
	responses map[protocol.ResponseCode]int
}

func (r *recorder) wrap(next network.Handler) network.Handler {
	return network.HandlerFunc(func(req protocol.Request) protocol.Response {
		resp := next.Handle(req)
		r.mu.Lock()
		r.requests[req.Header.Code]++
		r.responses[resp.Header.Code]++
		r.mu.Unlock()
		return resp
	})
}

func (r *recorder) request(code protocol.RequestCode) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[code]
}

func (r *recorder) response(code protocol.ResponseCode) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responses[code]
}

type backupServer struct {
	addr     string
	store    *storage.Store
	manager  *session.Manager
	filesDir string
	calls    *recorder
}

func startBackupServer(t *testing.T) *backupServer {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	filesDir := t.TempDir()
	manager, err := session.NewManager(store, session.Options{
		FilesDir: filesDir,
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = manager.Close()
	})

	calls := &recorder{
		requests:  make(map[protocol.RequestCode]int),
		responses: make(map[protocol.ResponseCode]int),
	}
	server, err := network.Listen("127.0.0.1:0", calls.wrap(manager), network.ServerOptions{
		ReadTimeout: 5 * time.Second,
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = server.Close()
	})

	return &backupServer{
		addr:     server.Addr().String(),
		store:    store,
		manager:  manager,
		filesDir: filesDir,
		calls:    calls,
	}
}

func newTestClient(t *testing.T, addr, name string, mutate func(*Options)) *Client {
	t.Helper()

	options := Options{
		Address: addr,
		Name:    name,
		Dial: network.DialOptions{
			ConnectionTimeout: 2 * time.Second,
			IOTimeout:         5 * time.Second,
		},
		Retry: RetryOptions{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
		Logger: quietLogger(),
	}
	if mutate != nil {
		mutate(&options)
	}

	c, err := New(options)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}
