package record

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Kind is the numeric discriminator of a wire record.
type Kind uint32

const (
	// KindCampaign is published by a business identity.
	KindCampaign Kind = 33851

	// KindApplication is published by a creator identity.
	KindApplication Kind = 33852

	// KindReport is a performance report published by a creator identity.
	KindReport Kind = 33853

	// KindVerification is published by a business identity against a report.
	KindVerification Kind = 33854

	// KindPaymentClaim carries a payment proof token for a report.
	KindPaymentClaim Kind = 33855
)

// knownKinds lists every kind this client understands.
var knownKinds = map[Kind]bool{
	KindCampaign:     true,
	KindApplication:  true,
	KindReport:       true,
	KindVerification: true,
	KindPaymentClaim: true,
}

// Known returns true if the kind is one of the five supported record classes.
func (k Kind) Known() bool {
	return knownKinds[k]
}

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindCampaign:
		return "campaign"
	case KindApplication:
		return "application"
	case KindReport:
		return "report"
	case KindVerification:
		return "verification"
	case KindPaymentClaim:
		return "payment"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Tag is one string-keyed entry of a record's flat tag multimap.
type Tag struct {
	Key   string `json:"key"`   // Key is the tag name
	Value string `json:"value"` // Value is the tag value (may encode a delimited sub-list)
}

// RawRecord is a record as fetched from an endpoint, before decoding.
type RawRecord struct {
	ID        string `json:"id"`        // ID is the hex blake3 hash of the canonical bytes
	Issuer    string `json:"issuer"`    // Issuer is the publisher's hex ed25519 public key
	Kind      Kind   `json:"kind"`      // Kind is the record class discriminator
	CreatedAt int64  `json:"createdAt"` // CreatedAt is the publisher-declared unix timestamp
	Tags      []Tag  `json:"tags"`      // Tags is the ordered tag multimap
	Body      string `json:"body"`      // Body is optional free text
	Sig       string `json:"sig"`       // Sig is the hex ed25519 signature over the ID
}

// TagValue returns the value of the first tag with the given key.
// Returns empty string and false if absent.
func (r *RawRecord) TagValue(key string) (string, bool) {
	for _, t := range r.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}

	return "", false
}

// LocalID returns the record's local identifier: the "d" tag for
// addressable kinds, the record ID otherwise.
func (r *RawRecord) LocalID() string {
	switch r.Kind {
	case KindCampaign, KindApplication, KindReport:
		v, _ := r.TagValue(tagLocalID)
		return v
	default:
		return r.ID
	}
}

// Identity returns the record's replaceable identity as "issuer:localID".
func (r *RawRecord) Identity() string {
	return r.Issuer + ":" + r.LocalID()
}

// ComputeID returns the hex blake3 hash of the record's canonical bytes.
func (r *RawRecord) ComputeID() string {
	sum := blake3.Sum256(r.canonicalBytes())
	return hex.EncodeToString(sum[:])
}

// Seal computes the record ID and signs it with the given private key.
// The issuer field is overwritten with the key's public half.
func (r *RawRecord) Seal(priv ed25519.PrivateKey) {
	pub := priv.Public().(ed25519.PublicKey)
	r.Issuer = hex.EncodeToString(pub)
	r.ID = r.ComputeID()

	idBytes, _ := hex.DecodeString(r.ID)
	r.Sig = hex.EncodeToString(ed25519.Sign(priv, idBytes))
}

// VerifySignature recomputes the record ID and checks the ed25519 signature.
// A record that fails either check is adversarial or corrupted and must be
// dropped before decoding.
func (r *RawRecord) VerifySignature() bool {
	if r.ComputeID() != r.ID {
		return false
	}

	pub, err := hex.DecodeString(r.Issuer)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}

	idBytes, err := hex.DecodeString(r.ID)
	if err != nil {
		return false
	}

	sig, err := hex.DecodeString(r.Sig)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(pub), idBytes, sig)
}

// parseTimestamp parses an RFC 3339 tag value.
func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// formatTimestamp renders a timestamp as an RFC 3339 tag value in UTC.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
