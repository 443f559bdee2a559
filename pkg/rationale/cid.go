// Package rationale addresses free-text rationales by content so a short
// on-chain reference can be checked against the full text kept off-chain.
package rationale

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ErrEmpty is returned when there is nothing to address.
var ErrEmpty = errors.New("rationale: empty text")

// CID returns the CIDv1 (raw codec, sha2-256) of text in its default base32
// string form.
func CID(text string) (string, error) {
	if text == "" {
		return "", ErrEmpty
	}
	c, err := sum([]byte(text))
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// Matches reports whether ref addresses text. Malformed references never
// match.
func Matches(ref, text string) bool {
	want, err := cid.Decode(ref)
	if err != nil {
		return false
	}
	got, err := want.Prefix().Sum([]byte(text))
	if err != nil {
		return false
	}
	return got.Equals(want)
}

func sum(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("rationale: hash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}
