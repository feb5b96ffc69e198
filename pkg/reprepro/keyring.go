package reprepro

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/pkg/errors"
)

// SigningKey wraps the OpenPGP entity whose fingerprint goes into the
// SignWith field and whose public half ships with the archive.
type SigningKey struct {
	entity *openpgp.Entity
}

// LoadSigningKey reads an ASCII-armored keyring and selects the first
// entity carrying a private key.
func LoadSigningKey(path string) (*SigningKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading signing key")
	}

	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "parsing signing key")
	}

	for _, e := range entities {
		if e.PrivateKey != nil {
			return &SigningKey{entity: e}, nil
		}
	}

	return nil, errors.New("no private key found in keyring")
}

// Fingerprint returns the primary key fingerprint in the uppercase hex
// form reprepro expects for SignWith.
func (k *SigningKey) Fingerprint() string {
	return strings.ToUpper(fmt.Sprintf("%x", k.entity.PrimaryKey.Fingerprint))
}

// ExportPublic writes the armored public key, suitable for shipping as
// www/archive.key next to the archive indices.
func (k *SigningKey) ExportPublic() ([]byte, error) {
	var buf bytes.Buffer

	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}

	err = k.entity.Serialize(w)
	if err != nil {
		return nil, err
	}

	err = w.Close()
	if err != nil {
		return nil, err
	}

	buf.WriteByte('\n')

	return buf.Bytes(), nil
}
