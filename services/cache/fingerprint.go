// Package cache implements the bounded, TTL-indexed Response Cache with
// single-flight coalescing (spec.md §4.G). The TTL-indexed-entry concept
// is grounded on the teacher's services/orchestrator/ttl.TTLService
// (expiry checked against a timestamp, lazily swept), generalized from
// that package's Weaviate-document TTL to an in-memory map since the
// cache has no persistent/vector-store backing per this spec's scope.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend"
)

// Fingerprint is the canonical hash over (model id, normalized prompt or
// message list, sampling parameters, sorted stop sequences, max tokens)
// spec.md §3 defines. It is stable across equivalent requests.
type Fingerprint string

// FingerprintRequest is the ephemeral input to Compute; CanonicalizeWhitespace
// enables the optional trailing-whitespace canonicalisation spec.md §8
// property 6 describes.
type FingerprintRequest struct {
	ModelID                string
	Prompt                 string
	Messages               []backend.Message
	Params                 backend.GenerationParams
	CanonicalizeWhitespace bool
}

// Compute derives a stable Fingerprint. Unset optional parameters are
// filled to their documented canonical default before hashing, and stop
// sequences are sorted, so requests differing only in those respects
// collide to the same key (spec.md §8 property 6).
func Compute(req FingerprintRequest) Fingerprint {
	p := req.Params.WithDefaults()

	var b strings.Builder
	b.WriteString(req.ModelID)
	b.WriteByte('\x00')

	if len(req.Messages) > 0 {
		for _, m := range req.Messages {
			b.WriteString(m.Role)
			b.WriteByte('\x01')
			b.WriteString(m.Content)
			b.WriteByte('\x00')
		}
	} else {
		prompt := req.Prompt
		if req.CanonicalizeWhitespace {
			prompt = strings.TrimRight(prompt, " \t\n\r")
		}
		b.WriteString(prompt)
		b.WriteByte('\x00')
	}

	b.WriteString(strconv.Itoa(*p.MaxTokens))
	b.WriteByte('\x00')
	b.WriteString(strconv.FormatFloat(*p.Temperature, 'f', -1, 64))
	b.WriteByte('\x00')
	b.WriteString(strconv.FormatFloat(*p.TopP, 'f', -1, 64))
	b.WriteByte('\x00')
	b.WriteString(strconv.Itoa(*p.TopK))
	b.WriteByte('\x00')
	b.WriteString(strconv.FormatFloat(*p.RepeatPenalty, 'f', -1, 64))
	b.WriteByte('\x00')

	stops := append([]string(nil), p.Stop...)
	sort.Strings(stops)
	b.WriteString(strings.Join(stops, "\x02"))

	sum := sha256.Sum256([]byte(b.String()))
	return Fingerprint(hex.EncodeToString(sum[:]))
}
