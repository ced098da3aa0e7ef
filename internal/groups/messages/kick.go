package messages

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto"
)

// kickIDSize is the prefix byte plus the 32-byte key of a session id
const kickIDSize = 33

// EncodeKick builds the payload telling memberID it was removed at generation
func EncodeKick(memberID string, generation int64) ([]byte, error) {
	raw, err := crypto.SessionIDBytes(memberID)
	if err != nil {
		return nil, err
	}
	return append(raw, strconv.FormatInt(generation, 10)...), nil
}

// DecodeKick parses a kick payload: the member's binary session id followed
// by the keys generation as ASCII digits.
func DecodeKick(plaintext []byte) (string, int64, error) {
	if len(plaintext) <= kickIDSize {
		return "", 0, fmt.Errorf("%w: kick payload too short (%d bytes)", ErrInvalidMessage, len(plaintext))
	}

	digits := plaintext[kickIDSize:]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", 0, fmt.Errorf("%w: bad kick generation", ErrInvalidMessage)
		}
	}
	generation, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad kick generation", ErrInvalidMessage)
	}

	return hex.EncodeToString(plaintext[:kickIDSize]), generation, nil
}
