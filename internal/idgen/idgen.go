// Package idgen generates job identifiers.
package idgen

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// HexAlphabet is the alphabet of the default short job id
const HexAlphabet = "1234567890abcdef"

// Supported id formats
const (
	FormatNanoID = "nanoid"
	FormatUUID   = "uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator drawing length characters from alphabet with crypto/rand.
func NanoID(alphabet string, length int) Generator {
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		out := make([]byte, length)
		for i := range out {
			out[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(out)
	}
}

// UUID returns a Generator of random RFC 9562 version 4 UUIDs.
func UUID() Generator {
	return func() string {
		return uuid.NewString()
	}
}

// New builds the Generator named by format. Length applies to nanoid only.
func New(format string, length int) (Generator, error) {
	switch format {
	case FormatNanoID, "":
		if length <= 0 {
			length = 10
		}
		return NanoID(HexAlphabet, length), nil
	case FormatUUID:
		return UUID(), nil
	default:
		return nil, fmt.Errorf("unknown id format %q", format)
	}
}
