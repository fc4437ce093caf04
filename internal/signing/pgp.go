package signing

import (
	"bytes"
	"crypto"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// MetadataSigner signs repository and audit metadata
type MetadataSigner interface {
	// SignCleartext creates a cleartext signature (InRelease style)
	SignCleartext(data []byte) ([]byte, error)

	// SignDetached creates an armored detached signature
	SignDetached(data []byte) ([]byte, error)

	// PublicKey returns the armored public key
	PublicKey() ([]byte, error)
}

// PGPSigner implements MetadataSigner with an OpenPGP key
type PGPSigner struct {
	entity *openpgp.Entity
}

// NewPGPSigner parses a private key (armored or binary) and unlocks it with
// the passphrase. Key material usually comes out of the secure store.
func NewPGPSigner(keyData []byte, passphrase string) (*PGPSigner, error) {
	if len(keyData) == 0 {
		return nil, fmt.Errorf("key data is empty")
	}

	entityList, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(keyData))
	if err != nil {
		entityList, err = openpgp.ReadKeyRing(bytes.NewReader(keyData))
		if err != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}
	}
	if len(entityList) == 0 {
		return nil, fmt.Errorf("no keys found")
	}
	entity := entityList[0]

	if passphrase != "" {
		if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
			if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return nil, fmt.Errorf("failed to decrypt private key: %w", err)
			}
		}
		for _, subkey := range entity.Subkeys {
			if subkey.PrivateKey != nil && subkey.PrivateKey.Encrypted {
				if err := subkey.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
					return nil, fmt.Errorf("failed to decrypt subkey: %w", err)
				}
			}
		}
	}

	return &PGPSigner{entity: entity}, nil
}

// SignCleartext creates a cleartext signature over the data
func (s *PGPSigner) SignCleartext(data []byte) ([]byte, error) {
	var sigBuf bytes.Buffer
	err := openpgp.ArmoredDetachSignText(&sigBuf, s.entity, bytes.NewReader(data), &packet.Config{
		DefaultHash: crypto.SHA512,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("-----BEGIN PGP SIGNED MESSAGE-----\n")
	buf.WriteString("Hash: SHA512\n\n")
	buf.Write(data)
	if !bytes.HasSuffix(data, []byte("\n")) {
		buf.WriteString("\n")
	}
	buf.Write(sigBuf.Bytes())
	return buf.Bytes(), nil
}

// SignDetached creates an armored detached signature
func (s *PGPSigner) SignDetached(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	err := openpgp.ArmoredDetachSign(&buf, s.entity, bytes.NewReader(data), &packet.Config{
		DefaultHash: crypto.SHA512,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create detached signature: %w", err)
	}
	return buf.Bytes(), nil
}

// PublicKey returns the public key in armored format
func (s *PGPSigner) PublicKey() ([]byte, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := s.entity.Serialize(w); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
