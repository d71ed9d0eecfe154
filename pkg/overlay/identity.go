package overlay

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity is a peer's keypair and the peer ID derived from it. Identities are
// never persisted: a fresh keypair is generated every time a peer is
// constructed, matching the framework's stateless-peer model.
type Identity struct {
	priv crypto.PrivKey
	id   peer.ID
}

// NewIdentity generates a fresh Ed25519 keypair and derives its peer ID.
func NewIdentity() (*Identity, error) {
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return nil, newError(KindConfig, "identity.generate", err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, newError(KindConfig, "identity.derive", fmt.Errorf("derive peer ID: %w", err))
	}
	return &Identity{priv: priv, id: id}, nil
}

// PrivKey returns the private key backing this identity, for host construction.
func (i *Identity) PrivKey() crypto.PrivKey { return i.priv }

// ID returns the peer ID derived from this identity's public key.
func (i *Identity) ID() peer.ID { return i.id }

func (i *Identity) String() string { return i.id.String() }
