package session

import (
	"crypto/rsa"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	appcrypto "github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/crypto"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/protocol"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/storage"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/transfer"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	manager  *Manager
	store    *storage.Store
	clock    *fakeClock
	filesDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clock := newFakeClock()
	filesDir := t.TempDir()
	manager, err := NewManager(store, Options{
		FilesDir:        filesDir,
		SessionTimeout:  10 * time.Minute,
		TransferTimeout: 2 * time.Minute,
		Logger:          logger,
		Now:             clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = manager.Close()
	})

	return &harness{manager: manager, store: store, clock: clock, filesDir: filesDir}
}

func (h *harness) send(t *testing.T, id uuid.UUID, code protocol.RequestCode, payload []byte) protocol.Response {
	t.Helper()
	resp := h.manager.Handle(protocol.NewRequest(id, code, payload))
	require.Equal(t, int(resp.Header.PayloadSize), len(resp.Payload))
	return resp
}

func (h *harness) register(t *testing.T, name string) uuid.UUID {
	t.Helper()
	payload, err := protocol.EncodeNamePayload(protocol.NamePayload{Name: name})
	require.NoError(t, err)

	resp := h.send(t, uuid.Nil, protocol.RequestRegister, payload)
	require.Equal(t, protocol.ResponseRegisterOK, resp.Header.Code)
	id, err := protocol.DecodeClientID(resp.Payload)
	require.NoError(t, err)
	return id
}

func (h *harness) exchangeKeys(t *testing.T, id uuid.UUID, name string) (*rsa.PrivateKey, []byte) {
	t.Helper()
	privateKey, publicKey, err := appcrypto.GenerateKeyPair()
	require.NoError(t, err)

	payload, err := protocol.EncodePublicKeyPayload(protocol.PublicKeyPayload{Name: name, PublicKey: publicKey})
	require.NoError(t, err)

	resp := h.send(t, id, protocol.RequestSendPublicKey, payload)
	require.Equal(t, protocol.ResponsePublicKeyAck, resp.Header.Code)
	keyPayload, err := protocol.DecodeKeyPayload(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, id, keyPayload.ClientID)

	sessionKey, err := appcrypto.UnwrapSymmetricKey(privateKey, keyPayload.WrappedKey)
	require.NoError(t, err)
	return privateKey, sessionKey
}

// sendChunks delivers outbound's chunks in the given order (zero-based
// indexes) and returns every response.
func (h *harness) sendChunks(t *testing.T, id uuid.UUID, outbound *transfer.Outbound, order []int) []protocol.Response {
	t.Helper()
	responses := make([]protocol.Response, 0, len(order))
	for _, index := range order {
		payload, err := protocol.EncodeFileChunk(outbound.Chunks[index])
		require.NoError(t, err)
		responses = append(responses, h.send(t, id, protocol.RequestSendFile, payload))
	}
	return responses
}

func (h *harness) verdict(t *testing.T, id uuid.UUID, code protocol.RequestCode, filename string) protocol.Response {
	t.Helper()
	payload, err := protocol.EncodeNamePayload(protocol.NamePayload{Name: filename})
	require.NoError(t, err)
	return h.send(t, id, code, payload)
}

func inOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}
