package wallet

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const DefaultNamespace = "ENERGENIUS"

var ErrInvalidUID = errors.New("uid is required")

// Resolver derives the custodial address of a user: the last 20 bytes of
// keccak256("<namespace>:<uid>"), rendered with the EIP-55 checksum.
type Resolver struct {
	namespace string
}

func NewResolver(namespace string) *Resolver {
	if strings.TrimSpace(namespace) == "" {
		namespace = DefaultNamespace
	}
	return &Resolver{namespace: namespace}
}

func (r *Resolver) Namespace() string {
	return r.namespace
}

func (r *Resolver) Resolve(uid string) (string, error) {
	if strings.TrimSpace(uid) == "" {
		return "", ErrInvalidUID
	}

	hash := crypto.Keccak256([]byte(r.namespace + ":" + uid))
	return common.BytesToAddress(hash[12:]).Hex(), nil
}
