package groups

import (
	"fmt"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groups/messages"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

// Authority is the level a verified command acts with
type Authority int

const (
	// AuthorityAdmin commands were signed with, or carry, the group identity key
	AuthorityAdmin Authority = iota + 1
	// AuthoritySelf commands may only affect the sender's own state and content
	AuthoritySelf
)

func (a Authority) String() string {
	switch a {
	case AuthorityAdmin:
		return "admin"
	case AuthoritySelf:
		return "self"
	}
	return "none"
}

// Verifier checks command authority. It has no side effects beyond caching
// signatures it has already verified.
type Verifier struct {
	provider crypto.Provider
	ctx      *Context
}

// NewVerifier builds a verifier over the given crypto provider
func NewVerifier(provider crypto.Provider, ctx *Context) *Verifier {
	return &Verifier{provider: provider, ctx: ctx}
}

// Verify validates cmd and returns the authority it carries for groupID.
// Any failure wraps messages.ErrInvalidMessage.
func (v *Verifier) Verify(groupID string, cmd messages.Command) (Authority, error) {
	if err := cmd.Validate(); err != nil {
		return 0, err
	}

	switch c := cmd.(type) {
	case *messages.Promote:
		return v.verifyPromote(groupID, c)

	case *messages.Invite, *messages.InfoChange, *messages.MemberChange:
		return v.verifyAdminSignature(groupID, c.(messages.AdminSigned))

	case *messages.DeleteMemberContent:
		if len(c.AdminSignature) == 0 {
			return AuthoritySelf, nil
		}
		return v.verifyAdminSignature(groupID, c)

	case *messages.MemberLeft, *messages.InviteResponse:
		return AuthoritySelf, nil

	case *messages.GroupDelete:
		// Authenticated by the group encryption it arrived under
		return AuthorityAdmin, nil
	}

	return 0, fmt.Errorf("%w: unsupported command %T", messages.ErrInvalidMessage, cmd)
}

func (v *Verifier) verifyAdminSignature(groupID string, cmd messages.AdminSigned) (Authority, error) {
	signature := cmd.Signature()
	if len(signature) == 0 {
		return 0, fmt.Errorf("%w: %s is missing its admin signature", messages.ErrInvalidMessage, cmd.Kind())
	}

	publicKey, err := crypto.PublicKeyFromSessionID(groupID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", messages.ErrInvalidMessage, err)
	}

	payload := cmd.SignaturePayload()
	cacheKey := utils.HashBytes(append(append(append([]byte{}, publicKey...), payload...), signature...))
	if v.ctx != nil && v.ctx.signatureVerified(cacheKey) {
		return AuthorityAdmin, nil
	}

	if !v.provider.Verify(signature, payload, publicKey) {
		return 0, fmt.Errorf("%w: bad %s signature", messages.ErrInvalidMessage, cmd.Kind())
	}

	if v.ctx != nil {
		v.ctx.rememberSignature(cacheKey)
	}
	return AuthorityAdmin, nil
}

// verifyPromote proves authority by regenerating the group key from the seed
func (v *Verifier) verifyPromote(groupID string, cmd *messages.Promote) (Authority, error) {
	kp, err := v.provider.GenerateEd25519KeyPair(cmd.GroupIdentitySeed)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", messages.ErrInvalidMessage, err)
	}
	if kp.GroupSessionID() != groupID {
		return 0, fmt.Errorf("%w: promotion seed does not match %s", messages.ErrInvalidMessage, crypto.Truncated(groupID))
	}
	return AuthorityAdmin, nil
}
