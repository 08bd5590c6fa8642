package mesh

import "golang.zx2c4.com/wireguard/wgctrl/wgtypes"

// KeyPair is a WireGuard private/public key pair.
type KeyPair struct {
	Private wgtypes.Key
	Public  wgtypes.Key
}

// GenerateKeyPair creates a fresh WireGuard key pair.
func GenerateKeyPair() (KeyPair, error) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Private: priv, Public: priv.PublicKey()}, nil
}

// KeyPairFromPrivate derives a key pair from an existing private key.
func KeyPairFromPrivate(priv wgtypes.Key) KeyPair {
	return KeyPair{Private: priv, Public: priv.PublicKey()}
}

// PublicKeyString renders a key pair's public key the way types.MeshNode and
// the wire protocol store it: base64, via wgtypes.Key.String().
func (k KeyPair) PublicKeyString() string { return k.Public.String() }
