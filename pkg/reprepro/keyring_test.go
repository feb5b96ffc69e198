package reprepro

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestKeyring(t *testing.T) string {
	t.Helper()

	entity, err := openpgp.NewEntity("Archive Test", "", "archive@example.com", nil)
	require.NoError(t, err)

	var buf bytes.Buffer

	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)

	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "signing.key")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))

	return path
}

func TestSigningKey(t *testing.T) {
	path := writeTestKeyring(t)

	key, err := LoadSigningKey(path)
	require.NoError(t, err)

	t.Run("fingerprint is uppercase hex", func(t *testing.T) {
		fp := key.Fingerprint()

		assert.NotEmpty(t, fp)
		assert.Equal(t, fp, string(bytes.ToUpper([]byte(fp))))

		for _, c := range fp {
			assert.Contains(t, "0123456789ABCDEF", string(c))
		}
	})

	t.Run("exports a readable public key", func(t *testing.T) {
		pub, err := key.ExportPublic()
		require.NoError(t, err)

		assert.Contains(t, string(pub), "BEGIN PGP PUBLIC KEY BLOCK")

		entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(pub))
		require.NoError(t, err)

		require.Equal(t, 1, len(entities))
		assert.Nil(t, entities[0].PrivateKey)
	})

	t.Run("rejects a missing key file", func(t *testing.T) {
		_, err := LoadSigningKey(filepath.Join(t.TempDir(), "nope.key"))
		require.Error(t, err)
	})
}
