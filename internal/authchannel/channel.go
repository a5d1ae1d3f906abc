package authchannel

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/photonicgluon/excalibur-server/internal/authtoken"
	"github.com/photonicgluon/excalibur-server/internal/session"
	"github.com/photonicgluon/excalibur-server/internal/srp"
)

// MaxRetries bounds the S3/S4 retry loops: a client that cannot agree on a
// public value within this many attempts is dropped rather than retried
// forever.
const MaxRetries = 3

// UserRecord is the subset of user-store data the handshake needs: the
// SRP salt and the verifier v = g^x mod N computed at account-creation time.
type UserRecord struct {
	Salt     []byte
	Verifier *big.Int
}

// UserStore looks up SRP account records by username. Implementations own
// whatever persistence backs the actual user table; this package only reads.
type UserStore interface {
	Lookup(ctx context.Context, username string) (UserRecord, bool, error)
}

// SessionStore records the master key a completed handshake establishes,
// keyed by session UUID, satisfied by *session.Cache.
type SessionStore interface {
	Put(uuid session.ID, masterKey []byte)
}

// Config bundles the handshake's tunable parameters.
type Config struct {
	Group           *srp.Group
	ServerSecret    []byte
	SessionDuration time.Duration
	HandshakeBudget time.Duration // overall deadline for S0-S8; 0 means no extra deadline beyond ctx
}

var (
	errUserUnknown       = errors.New("authchannel: user does not exist")
	errClientRefused     = errors.New("authchannel: client refused all server public values")
	errBadClientPublic   = errors.New("authchannel: A mod N cannot be 0")
	errSharedUZero       = errors.New("authchannel: shared u value is 0")
	errM1Mismatch        = errors.New("authchannel: m1 values do not match")
	errClientRejectedM2  = errors.New("authchannel: client did not accept m2")
)

// RunServer drives the S0-S8 handshake to completion over conn. It returns
// nil only after S8 has sent the encrypted token and closed the connection;
// any error return means the session must be discarded with no persisted
// side effects, per the failure semantics the handshake promises.
func RunServer(ctx context.Context, conn Conn, store UserStore, sessions SessionStore, cfg Config) error {
	defer conn.Close()

	if cfg.HandshakeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.HandshakeBudget)
		defer cancel()
	}

	group := cfg.Group

	// S1: recv(username)
	msg, err := conn.ReadMessage(ctx)
	if err != nil {
		return err
	}
	username := msg.Data

	record, exists, err := store.Lookup(ctx, username)
	if err != nil {
		return err
	}
	if !exists {
		return sendErrClose(ctx, conn, "User does not exist", errUserUnknown)
	}

	// S2: send OK(group.bits)
	if err := conn.WriteMessage(ctx, ok(fmt.Sprintf("%d", group.Bits))); err != nil {
		return err
	}

	// S3: agree on server's public value B
	var b, bigB *big.Int
	accepted := false
	for attempt := 0; attempt < MaxRetries; attempt++ {
		b, bigB, err = group.ComputeServerPublicValue(record.Verifier, nil)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(ctx, binaryMessage(StatusOK, bigB.Bytes())); err != nil {
			return err
		}
		resp, err := conn.ReadMessage(ctx)
		if err != nil {
			return err
		}
		if resp.Status == StatusOK {
			accepted = true
			break
		}
	}
	if !accepted {
		return sendErrClose(ctx, conn, "Client refused all server's public values", errClientRefused)
	}

	// S4: receive client's public value A
	var bigA *big.Int
	gotA := false
	for attempt := 0; attempt < MaxRetries; attempt++ {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			return err
		}
		raw, err := msg.bytes()
		if err != nil {
			return err
		}
		bigA = new(big.Int).SetBytes(raw)
		if new(big.Int).Mod(bigA, group.N).Sign() == 0 {
			if err := conn.WriteMessage(ctx, errMsg("A mod N cannot be 0")); err != nil {
				return err
			}
			continue
		}
		gotA = true
		break
	}
	if !gotA {
		return errBadClientPublic
	}

	// S5: compute u
	u := group.ComputeU(bigA, bigB)
	if u.Sign() == 0 {
		return sendErrClose(ctx, conn, "Shared U value is 0", errSharedUZero)
	}
	if err := conn.WriteMessage(ctx, ok("U is OK")); err != nil {
		return err
	}

	// S6: derive master key and verify M1
	premaster := group.ComputePremaster(bigA, b, u, record.Verifier)
	master := group.PremasterToMaster(premaster)
	m1Server := group.GenerateM1(username, record.Salt, bigA.Bytes(), bigB.Bytes(), master)

	msg, err = conn.ReadMessage(ctx)
	if err != nil {
		return err
	}
	m1Client, err := msg.bytes()
	if err != nil {
		return err
	}
	if !constantTimeEqual(m1Client, m1Server[:]) {
		return sendErrClose(ctx, conn, "M1 values do not match", errM1Mismatch)
	}

	// S7: send m2, expect client OK
	m2 := group.GenerateM2(bigA.Bytes(), m1Server, master)
	if err := conn.WriteMessage(ctx, binaryMessage(StatusOK, m2[:])); err != nil {
		return err
	}
	resp, err := conn.ReadMessage(ctx)
	if err != nil {
		return err
	}
	if resp.Status != StatusOK {
		return errClientRejectedM2
	}

	// S8: issue token, install session, send the encrypted token envelope
	uuid, err := session.NewID()
	if err != nil {
		return err
	}
	sessions.Put(uuid, master[:])

	token, err := authtoken.Issue(username, uuid, cfg.ServerSecret, cfg.SessionDuration)
	if err != nil {
		return err
	}

	envelope, err := encryptToken(master, token)
	if err != nil {
		return err
	}
	envelopeJSON, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return conn.WriteMessage(ctx, textMessage(StatusOK, string(envelopeJSON)))
}

// tokenEnvelope is the AES-GCM-encrypted-token wire shape S8 sends: a plain
// JSON object distinct from the ExEF container format, since the client has
// not yet negotiated an ExEF session at this point in the handshake.
type tokenEnvelope struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

func encryptToken(master [32]byte, token string) (tokenEnvelope, error) {
	block, err := aes.NewCipher(master[:])
	if err != nil {
		return tokenEnvelope{}, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return tokenEnvelope{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return tokenEnvelope{}, err
	}

	sealed := aead.Seal(nil, nonce, []byte(token), nil)
	ct := sealed[:len(sealed)-aead.Overhead()]
	tag := sealed[len(sealed)-aead.Overhead():]

	return tokenEnvelope{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

func sendErrClose(ctx context.Context, conn Conn, text string, sentinel error) error {
	_ = conn.WriteMessage(ctx, errMsg(text))
	return sentinel
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
