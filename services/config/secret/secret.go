// Package secret mlocks long-lived API keys so they are never swapped to
// disk and are wiped from memory when no longer needed. Grounded on the
// teacher's services/orchestrator/handlers/secure_accumulator.go, which
// uses memguard.NewBuffer/Melt/Destroy to protect streamed LLM tokens the
// same way; here the protected payload is config.Config's RemoteAPIKey
// and APIKeys allowlist instead of response text.
package secret

import (
	"crypto/subtle"
	"sync"

	"github.com/awnumar/memguard"
)

var initOnce sync.Once

// initMemguard arms memguard's interrupt handler once per process so a SIGINT/
// SIGTERM wipes every outstanding Value before the process exits,
// matching the teacher's initMemguard/memguard.CatchInterrupt call.
func initMemguard() {
	initOnce.Do(func() {
		memguard.CatchInterrupt()
	})
}

// Value mlocks a single secret string. The zero value is unusable; build
// one with NewValue.
type Value struct {
	buf *memguard.LockedBuffer
}

// NewValue copies plaintext into an mlocked buffer. The temporary []byte
// copy handed to memguard.NewBufferFromBytes is wiped by it; the
// plaintext string itself is not wiped. An empty plaintext yields a nil
// *Value so an unset secret costs nothing.
func NewValue(plaintext string) *Value {
	if plaintext == "" {
		return nil
	}
	initMemguard()
	return &Value{buf: memguard.NewBufferFromBytes([]byte(plaintext))}
}

// Equal reports whether candidate matches the protected secret, compared
// in constant time so a key-matching auth check never leaks timing
// information about how much of the key prefix matched.
func (v *Value) Equal(candidate string) bool {
	if v == nil || v.buf == nil {
		return candidate == ""
	}
	return subtle.ConstantTimeCompare(v.buf.Bytes(), []byte(candidate)) == 1
}

// Reveal returns the secret as a plain Go string, for the rare call site
// that must hand it to something outside memguard's control (e.g. an
// outbound HTTP Authorization header). The result is ordinary,
// unprotected memory the moment it's returned — call this as late as
// possible and don't retain the result longer than the call that needs it.
func (v *Value) Reveal() string {
	if v == nil || v.buf == nil {
		return ""
	}
	return string(v.buf.Bytes())
}

// Destroy wipes the underlying mlocked buffer. Safe to call on nil and
// safe to call more than once.
func (v *Value) Destroy() {
	if v == nil || v.buf == nil {
		return
	}
	v.buf.Destroy()
}
