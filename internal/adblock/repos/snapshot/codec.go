// Package snapshot persists compiled rule sets so that a restart does not
// need to download and compile every list again.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/fxamacker/cbor/v2"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/ruleset"
)

// FormatVersion changes whenever the encoded layout does.
const FormatVersion uint16 = 1

var magic = []byte("RRAB")

const headerLen = 6

const (
	ErrBadMagic        errors.Error = "snapshot: bad magic"
	ErrVersionMismatch errors.Error = "snapshot: format version mismatch"
)

// payload is the encoded body. Keys are integers so renaming a Go field does
// not change the format.
type payload struct {
	Network  []domain.NetworkRule  `cbor:"1,keyasint"`
	Cosmetic []domain.CosmeticRule `cbor:"2,keyasint"`
	Stats    domain.CompileStats   `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	// lists routinely hold more rules than the decoder's default array limit
	decMode, err = cbor.DecOptions{
		MaxArrayElements: math.MaxInt32,
		MaxMapPairs:      math.MaxInt32,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes the rules of rs behind a magic and version header. The
// indexes are not encoded; Decode rebuilds them.
func Encode(rs *ruleset.RuleSet) ([]byte, error) {
	body, err := encMode.Marshal(payload{
		Network:  rs.NetworkRules(),
		Cosmetic: rs.CosmeticRules(),
		Stats:    rs.Stats(),
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: encoding: %w", err)
	}
	out := make([]byte, headerLen, headerLen+len(body))
	copy(out, magic)
	binary.BigEndian.PutUint16(out[len(magic):], FormatVersion)
	return append(out, body...), nil
}

// Decode parses data produced by Encode and rebuilds a rule set with opts.
func Decode(data []byte, opts ruleset.Options) (*ruleset.RuleSet, error) {
	if len(data) < headerLen || !bytes.Equal(data[:len(magic)], magic) {
		return nil, ErrBadMagic
	}
	if v := binary.BigEndian.Uint16(data[len(magic):headerLen]); v != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, v, FormatVersion)
	}
	var p payload
	if err := decMode.Unmarshal(data[headerLen:], &p); err != nil {
		return nil, fmt.Errorf("snapshot: decoding: %w", err)
	}
	rs, err := ruleset.New(p.Network, p.Cosmetic, p.Stats, opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot: rebuilding rule set: %w", err)
	}
	return rs, nil
}
