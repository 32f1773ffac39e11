package rpc

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"

	"github.com/google/uuid"
)

// IDProvider mints identifiers for streaming subscriptions. Uniqueness is a
// probabilistic property of the chosen generator; the server does not
// enforce it beyond per-connection bookkeeping. Implementations must be safe
// for concurrent use.
type IDProvider interface {
	NextID() string
}

// DefaultIDLength is the identifier length of the default random-string
// provider.
const DefaultIDLength = 16

const idCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomStringIDProvider mints fixed-length alphanumeric identifiers from
// crypto/rand.
type RandomStringIDProvider struct {
	length int
}

// NewRandomStringIDProvider creates a provider minting identifiers of the
// given length. Lengths below one fall back to DefaultIDLength.
func NewRandomStringIDProvider(length int) *RandomStringIDProvider {
	if length < 1 {
		length = DefaultIDLength
	}
	return &RandomStringIDProvider{length: length}
}

// NextID implements IDProvider.
func (p *RandomStringIDProvider) NextID() string {
	buf := make([]byte, p.length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; a failure here
		// means the process cannot safely continue minting identifiers.
		panic("rpc: crypto/rand failed: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = idCharset[int(b)%len(idCharset)]
	}
	return string(buf)
}

// RandomIntegerIDProvider mints identifiers as decimal random 64-bit
// integers.
type RandomIntegerIDProvider struct{}

// NewRandomIntegerIDProvider creates an integer identifier provider.
func NewRandomIntegerIDProvider() *RandomIntegerIDProvider {
	return &RandomIntegerIDProvider{}
}

// NextID implements IDProvider.
func (p *RandomIntegerIDProvider) NextID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("rpc: crypto/rand failed: " + err.Error())
	}
	return strconv.FormatUint(binary.BigEndian.Uint64(buf[:]), 10)
}

// UUIDProvider mints RFC 4122 UUIDv4 identifiers.
type UUIDProvider struct{}

// NewUUIDProvider creates a UUID identifier provider.
func NewUUIDProvider() *UUIDProvider {
	return &UUIDProvider{}
}

// NextID implements IDProvider.
func (p *UUIDProvider) NextID() string {
	return uuid.NewString()
}
