// Package supervisorcrypto implements the signing and hashing primitives
// the whole engine trusts: canonical-payload SHA-256 hashing and
// HMAC-SHA256 event signing, plus custody of the 32-byte Supervisor
// Secret the signatures are keyed on.
//
// Canonical bytes (internal/canon) are the only payload this package ever
// signs, and the only payload SHA256Hex hashes — any divergence breaks
// signature portability. FrontierProof is the one exception: it hashes
// the raw "nonce:runId" string.
package supervisorcrypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/awnumar/memguard"

	"github.com/sentrywatch/engine/internal/canon"
)

// SecretEnvVar is the environment variable the Supervisor Secret is read
// from, base64-encoded, per spec.md §4.1.
const SecretEnvVar = "SUPERVISOR_SECRET"

// SecretSize is the required decoded length of the Supervisor Secret.
const SecretSize = 32

// Secret is the process-wide Supervisor Secret. It is held in an mlocked,
// non-swappable buffer (github.com/awnumar/memguard) for its entire
// lifetime and is never exposed through any public accessor other than
// Sign/Verify — per spec.md §4.1 and §9, "never exported."
type Secret struct {
	buf       *memguard.LockedBuffer
	ephemeral bool
}

// LoadOrGenerate loads the secret from SUPERVISOR_SECRET (base64, must
// decode to >= SecretSize bytes) or generates SecretSize random bytes and
// logs a single warning, per spec.md §4.1.
func LoadOrGenerate(logger *slog.Logger) (*Secret, error) {
	if raw := os.Getenv(SecretEnvVar); raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err == nil && len(decoded) >= SecretSize {
			buf := memguard.NewBufferFromBytes(decoded[:SecretSize])
			for i := range decoded {
				decoded[i] = 0
			}
			return &Secret{buf: buf}, nil
		}
		if logger != nil {
			logger.Warn("SUPERVISOR_SECRET present but invalid, generating ephemeral secret",
				"reason", decodeFailureReason(decoded, err))
		}
	}

	raw := make([]byte, SecretSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("supervisorcrypto: generating ephemeral secret: %w", err)
	}
	buf := memguard.NewBufferFromBytes(raw)
	for i := range raw {
		raw[i] = 0
	}
	if logger != nil {
		logger.Warn("no valid SUPERVISOR_SECRET in environment, generated an ephemeral supervisor secret for this process")
	}
	return &Secret{buf: buf, ephemeral: true}, nil
}

func decodeFailureReason(decoded []byte, err error) string {
	if err != nil {
		return "not valid base64"
	}
	return fmt.Sprintf("decoded to %d bytes, need at least %d", len(decoded), SecretSize)
}

// Ephemeral reports whether this secret was generated rather than loaded.
func (s *Secret) Ephemeral() bool { return s.ephemeral }

// Destroy wipes the secret from memory. Call exactly once, on process
// exit or when the owning orchestrator is discarded.
func (s *Secret) Destroy() {
	if s.buf != nil {
		s.buf.Destroy()
	}
}

// Sign computes HMAC-SHA256-hex over the canonical encoding of payload.
// payload must not include the field being signed (e.g. supervisorSig).
func (s *Secret) Sign(payload any) (string, error) {
	data, err := canon.MarshalStruct(payload)
	if err != nil {
		return "", fmt.Errorf("supervisorcrypto: canonicalize payload: %w", err)
	}
	return s.signBytes(data), nil
}

func (s *Secret) signBytes(data []byte) string {
	mac := hmac.New(sha256.New, s.buf.Bytes())
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over payload and compares it against
// sig in constant time.
func (s *Secret) Verify(payload any, sig string) (bool, error) {
	want, err := s.Sign(payload)
	if err != nil {
		return false, err
	}
	return constantTimeEqualHex(want, sig), nil
}

func constantTimeEqualHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SHA256Hex returns the hex-encoded SHA-256 digest of the canonical
// encoding of v. Used for input/output hashing of run payloads.
func SHA256Hex(v any) (string, error) {
	data, err := canon.MarshalStruct(v)
	if err != nil {
		return "", fmt.Errorf("supervisorcrypto: canonicalize value: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SHA256HexBytes hashes raw bytes directly (used for the frontier nonce
// proof, which hashes "nonce:runId", not a canonicalized structure).
func SHA256HexBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FrontierProof computes SHA-256(nonce + ":" + runID) hex, the depth-3
// hash proof required by spec.md §3 invariant 6 and §4.6 step 2.
func FrontierProof(nonce, runID string) string {
	return SHA256HexBytes([]byte(nonce + ":" + runID))
}

// NewNonce generates a 16-byte random nonce, hex-encoded, for the
// depth-frontier proof.
func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("supervisorcrypto: generating nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
