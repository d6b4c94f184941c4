// Package client drives the backup protocol from the client side: identity
// bootstrap, key exchange and whole-file transfers, each under a bounded
// retry budget.
package client

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appcrypto "github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/crypto"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/network"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/protocol"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/transfer"
)

var (
	// ErrRegistrationRejected indicates a register-fail response.
	ErrRegistrationRejected = errors.New("client: registration rejected")
	// ErrReconnectDenied indicates a reconnect-fail response.
	ErrReconnectDenied = errors.New("client: reconnect denied")
	// ErrServerFailure indicates a general-failure response.
	ErrServerFailure = errors.New("client: server reported failure")
	// ErrUnexpectedResponse indicates a response code or payload that does not fit the request.
	ErrUnexpectedResponse = errors.New("client: unexpected response")
	// ErrNotRegistered indicates an operation that needs a client id before one exists.
	ErrNotRegistered = errors.New("client: not registered")
	// ErrNoSessionKey indicates a transfer attempted before key exchange.
	ErrNoSessionKey = errors.New("client: no session key")
)

// Options configures a Client.
type Options struct {
	Address      string
	Name         string
	IdentityPath string
	Passphrase   string

	ChunkSize   int
	MaxFileSize int64

	Dial  network.DialOptions
	Retry RetryOptions

	Logger logrus.FieldLogger
}

// FileResult describes one completed file backup.
type FileResult struct {
	Filename string
	Size     uint32
	Checksum uint32
	Attempts int
}

// Client is single threaded: every method blocks on its round trips and
// must not be called concurrently.
type Client struct {
	options Options
	log     logrus.FieldLogger
	retrier *Retrier
	conn    *network.Conn

	id         uuid.UUID
	privateKey *rsa.PrivateKey
	publicKey  []byte
	sessionKey []byte

	// checksumHook replaces the locally computed checksum before comparison.
	checksumHook func(attempt int, local uint32) uint32
}

// New validates options. It does not touch the network.
func New(options Options) (*Client, error) {
	if options.Address == "" {
		return nil, errors.New("client: server address is required")
	}
	if options.Name == "" {
		return nil, errors.New("client: username is required")
	}
	if len(options.Name) >= protocol.NameSize {
		return nil, fmt.Errorf("client: username longer than %d bytes", protocol.NameSize-1)
	}
	if options.Logger == nil {
		options.Logger = logrus.StandardLogger()
	}
	if options.Retry.Logger == nil {
		options.Retry.Logger = options.Logger
	}

	return &Client{
		options: options,
		log:     options.Logger.WithField("component", "client"),
		retrier: NewRetrier(options.Retry),
	}, nil
}

// ID returns the server-issued client id, or uuid.Nil before registration.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// Close drops the server connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Run performs one backup session: reconnect with a stored identity when
// there is one, otherwise (or when the server denies it) register and
// exchange keys, then send each file in order. The first fatal error stops
// the run.
func (c *Client) Run(ctx context.Context, files []string) ([]FileResult, error) {
	if err := c.establish(ctx); err != nil {
		return nil, err
	}

	results := make([]FileResult, 0, len(files))
	for _, path := range files {
		result, err := c.SendFile(ctx, path)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (c *Client) establish(ctx context.Context) error {
	if c.options.IdentityPath != "" {
		identity, err := LoadIdentity(c.options.IdentityPath, c.options.Passphrase)
		switch {
		case err == nil && identity.Name == c.options.Name:
			c.id = identity.ID
			c.privateKey = identity.PrivateKey
			if err := c.Reconnect(ctx); err == nil {
				return nil
			} else if !errors.Is(err, ErrReconnectDenied) {
				return err
			}
			c.log.WithField("name", c.options.Name).Info("server does not recognize stored identity, registering again")
			c.id = uuid.Nil
		case err == nil:
			c.log.WithFields(logrus.Fields{
				"stored": identity.Name,
				"name":   c.options.Name,
			}).Info("stored identity belongs to another username, registering")
		case errors.Is(err, os.ErrNotExist):
		default:
			return fmt.Errorf("load identity: %w", err)
		}
	}

	if err := c.Register(ctx); err != nil {
		return err
	}
	if err := c.ExchangeKeys(ctx); err != nil {
		return err
	}
	return c.saveIdentity()
}

func (c *Client) saveIdentity() error {
	if c.options.IdentityPath == "" {
		return nil
	}
	err := SaveIdentity(c.options.IdentityPath, Identity{
		Name:       c.options.Name,
		ID:         c.id,
		PrivateKey: c.privateKey,
	}, c.options.Passphrase)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// Register obtains a new client id for the configured username.
func (c *Client) Register(ctx context.Context) error {
	payload, err := protocol.EncodeNamePayload(protocol.NamePayload{Name: c.options.Name})
	if err != nil {
		return &FatalError{Op: OpRegister, Err: err}
	}

	return c.retrier.Do(ctx, OpRegister, func(attempt int) error {
		resp, err := c.roundTrip(ctx, protocol.NewRequest(uuid.Nil, protocol.RequestRegister, payload))
		if err != nil {
			return err
		}
		switch resp.Header.Code {
		case protocol.ResponseRegisterOK:
			id, err := protocol.DecodeClientID(resp.Payload)
			if err != nil {
				return err
			}
			c.id = id
			c.log.WithFields(logrus.Fields{
				"client_id": id,
				"attempt":   attempt,
			}).Info("registered")
			return nil
		case protocol.ResponseRegisterFail:
			return fmt.Errorf("%w: username %q", ErrRegistrationRejected, c.options.Name)
		default:
			return unexpected(resp)
		}
	})
}

// ExchangeKeys sends the client's public key and installs the session key
// the server wraps under it. A keypair is generated on first use.
func (c *Client) ExchangeKeys(ctx context.Context) error {
	if c.id == uuid.Nil {
		return &FatalError{Op: OpKeyExchange, Err: ErrNotRegistered}
	}
	if err := c.ensureKeyPair(); err != nil {
		return &FatalError{Op: OpKeyExchange, Err: err}
	}

	payload, err := protocol.EncodePublicKeyPayload(protocol.PublicKeyPayload{
		Name:      c.options.Name,
		PublicKey: c.publicKey,
	})
	if err != nil {
		return &FatalError{Op: OpKeyExchange, Err: err}
	}

	return c.retrier.Do(ctx, OpKeyExchange, func(attempt int) error {
		resp, err := c.roundTrip(ctx, protocol.NewRequest(c.id, protocol.RequestSendPublicKey, payload))
		if err != nil {
			return err
		}
		if resp.Header.Code != protocol.ResponsePublicKeyAck {
			return unexpected(resp)
		}
		return c.installSessionKey(resp.Payload)
	})
}

// Reconnect asks the server for a fresh session key for a stored identity.
// A denial is returned at once as ErrReconnectDenied; retrying cannot change
// the server's answer.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.privateKey == nil {
		return &FatalError{Op: OpReconnect, Err: ErrNotRegistered}
	}
	if err := c.ensureKeyPair(); err != nil {
		return &FatalError{Op: OpReconnect, Err: err}
	}

	payload, err := protocol.EncodeNamePayload(protocol.NamePayload{Name: c.options.Name})
	if err != nil {
		return &FatalError{Op: OpReconnect, Err: err}
	}

	return c.retrier.Do(ctx, OpReconnect, func(attempt int) error {
		resp, err := c.roundTrip(ctx, protocol.NewRequest(c.id, protocol.RequestReconnect, payload))
		if err != nil {
			return err
		}
		switch resp.Header.Code {
		case protocol.ResponseReconnectOK:
			if err := c.installSessionKey(resp.Payload); err != nil {
				return err
			}
			c.log.WithFields(logrus.Fields{
				"client_id": c.id,
				"attempt":   attempt,
			}).Info("reconnected")
			return nil
		case protocol.ResponseReconnectFail:
			return Permanent(ErrReconnectDenied)
		default:
			return unexpected(resp)
		}
	})
}

// SendFile backs up the file at path. Each attempt re-packages the file and
// sends it from packet 1. A checksum mismatch asks the server to discard its
// copy; on the last attempt the transfer is aborted instead and the result
// is a fatal transfer.ErrChecksumMismatch.
func (c *Client) SendFile(ctx context.Context, path string) (FileResult, error) {
	return c.send(ctx, path, func() (*transfer.Outbound, error) {
		return transfer.Package(path, c.sessionKey, c.transferOptions())
	})
}

// SendBytes backs up data under filename.
func (c *Client) SendBytes(ctx context.Context, filename string, data []byte) (FileResult, error) {
	return c.send(ctx, filename, func() (*transfer.Outbound, error) {
		return transfer.PackageBytes(filename, data, c.sessionKey, c.transferOptions())
	})
}

func (c *Client) send(ctx context.Context, name string, pack func() (*transfer.Outbound, error)) (FileResult, error) {
	if len(c.sessionKey) == 0 {
		return FileResult{}, &FatalError{Op: OpSendFile, Err: ErrNoSessionKey}
	}

	var result FileResult
	log := c.log.WithField("file", name)
	err := c.retrier.Do(ctx, OpSendFile, func(attempt int) error {
		outbound, err := pack()
		if err != nil {
			return Permanent(err)
		}
		log := log.WithFields(logrus.Fields{
			"filename": outbound.Filename,
			"attempt":  attempt,
			"packets":  len(outbound.Chunks),
		})

		received, err := c.sendChunks(ctx, outbound)
		if err != nil {
			return err
		}

		local := outbound.Checksum
		if c.checksumHook != nil {
			local = c.checksumHook(attempt, local)
		}
		if received.Checksum == local {
			if err := c.verdict(ctx, protocol.RequestChecksumOK, outbound.Filename); err != nil {
				return err
			}
			result = FileResult{
				Filename: outbound.Filename,
				Size:     outbound.OriginalSize,
				Checksum: local,
				Attempts: attempt,
			}
			log.WithField("checksum", local).Info("file backed up")
			return nil
		}

		mismatch := fmt.Errorf("%w: server %d client %d", transfer.ErrChecksumMismatch, received.Checksum, local)
		if attempt >= c.retrier.MaxAttempts() {
			log.Warn("checksum mismatch on final attempt, aborting")
			if err := c.verdict(ctx, protocol.RequestChecksumAbort, outbound.Filename); err != nil {
				log.WithField("error", err.Error()).Warn("abort request failed")
			}
			return mismatch
		}

		log.Warn("checksum mismatch, resending file")
		if err := c.verdict(ctx, protocol.RequestChecksumRetry, outbound.Filename); err != nil {
			return err
		}
		return mismatch
	})
	if err != nil {
		return FileResult{}, err
	}
	return result, nil
}

// sendChunks sends every chunk in packet order and returns the server's
// file-received report.
func (c *Client) sendChunks(ctx context.Context, outbound *transfer.Outbound) (protocol.FileReceivedPayload, error) {
	for i, chunk := range outbound.Chunks {
		payload, err := protocol.EncodeFileChunk(chunk)
		if err != nil {
			return protocol.FileReceivedPayload{}, err
		}
		resp, err := c.roundTrip(ctx, protocol.NewRequest(c.id, protocol.RequestSendFile, payload))
		if err != nil {
			return protocol.FileReceivedPayload{}, err
		}

		last := i == len(outbound.Chunks)-1
		switch {
		case !last && resp.Header.Code == protocol.ResponseAck:
			continue
		case last && resp.Header.Code == protocol.ResponseFileReceived:
			received, err := protocol.DecodeFileReceivedPayload(resp.Payload)
			if err != nil {
				return protocol.FileReceivedPayload{}, err
			}
			if received.Filename != outbound.Filename || received.ContentSize != uint32(len(outbound.Ciphertext)) {
				return protocol.FileReceivedPayload{}, fmt.Errorf("%w: file report for %q (%d bytes), sent %q (%d bytes)",
					ErrUnexpectedResponse, received.Filename, received.ContentSize, outbound.Filename, len(outbound.Ciphertext))
			}
			return received, nil
		default:
			return protocol.FileReceivedPayload{}, unexpected(resp)
		}
	}
	return protocol.FileReceivedPayload{}, fmt.Errorf("%w: no chunks to send", ErrUnexpectedResponse)
}

func (c *Client) verdict(ctx context.Context, code protocol.RequestCode, filename string) error {
	payload, err := protocol.EncodeNamePayload(protocol.NamePayload{Name: filename})
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(ctx, protocol.NewRequest(c.id, code, payload))
	if err != nil {
		return err
	}
	if resp.Header.Code != protocol.ResponseAck {
		return unexpected(resp)
	}
	return nil
}

// roundTrip dials on demand. A transport error drops the connection so the
// next attempt starts on a fresh one.
func (c *Client) roundTrip(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if c.conn == nil {
		conn, err := network.Dial(ctx, c.options.Address, c.options.Dial)
		if err != nil {
			return protocol.Response{}, err
		}
		c.conn = conn
	}

	resp, err := c.conn.RoundTrip(req)
	if err != nil {
		_ = c.Close()
		return protocol.Response{}, err
	}
	return resp, nil
}

func (c *Client) ensureKeyPair() error {
	if c.privateKey != nil {
		if c.publicKey == nil {
			publicKey, err := appcrypto.MarshalPublicKey(&c.privateKey.PublicKey)
			if err != nil {
				return err
			}
			c.publicKey = publicKey
		}
		return nil
	}

	privateKey, publicKey, err := appcrypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	c.privateKey = privateKey
	c.publicKey = publicKey
	return nil
}

func (c *Client) installSessionKey(payload []byte) error {
	keyPayload, err := protocol.DecodeKeyPayload(payload)
	if err != nil {
		return err
	}
	if keyPayload.ClientID != c.id {
		return fmt.Errorf("%w: key issued for %s, expected %s", ErrUnexpectedResponse, keyPayload.ClientID, c.id)
	}
	sessionKey, err := appcrypto.UnwrapSymmetricKey(c.privateKey, keyPayload.WrappedKey)
	if err != nil {
		return err
	}
	c.sessionKey = sessionKey
	return nil
}

func (c *Client) transferOptions() transfer.Options {
	return transfer.Options{
		ChunkSize:   c.options.ChunkSize,
		MaxFileSize: c.options.MaxFileSize,
	}
}

func unexpected(resp protocol.Response) error {
	if resp.Header.Code == protocol.ResponseGeneralFailure {
		return ErrServerFailure
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedResponse, resp.Header.Code)
}
