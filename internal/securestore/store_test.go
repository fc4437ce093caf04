package securestore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutTryGetRoundTrip(t *testing.T) {
	store := New(t.TempDir())

	payloads := [][]byte{
		[]byte("a"),
		[]byte("hello signing material"),
		bytes.Repeat([]byte{0x00, 0xFF, 0x7A}, 1024),
	}

	for i, payload := range payloads {
		id := string(rune('a'+i)) + "-entry"
		_, err := store.Put(id, payload, Options{Metadata: map[string]string{KindTag: "mac.entitlements"}})
		require.NoError(t, err)

		secret, err := store.TryGet(id)
		require.NoError(t, err)
		require.NotNil(t, secret)
		assert.Equal(t, payload, secret.Payload)
		assert.Equal(t, "mac.entitlements", secret.Entry.Kind())
	}
}

func TestTryGetUnknownIDReturnsNil(t *testing.T) {
	store := New(t.TempDir())

	secret, err := store.TryGet("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, secret)
}

func TestPayloadIsEncryptedAtRest(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	payload := []byte("super secret provisioning profile")
	_, err := store.Put("profile", payload, Options{Metadata: map[string]string{KindTag: "mac.provisioningProfile"}})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(root, "entries", "profile", "payload.bin"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super secret")
}

func TestListAndDelete(t *testing.T) {
	store := New(t.TempDir())

	expires := time.Now().Add(time.Hour).UTC()
	_, err := store.Put("first", []byte("one"), Options{
		ExpiresAt: &expires,
		Metadata:  map[string]string{KindTag: "signing.certificate"},
	})
	require.NoError(t, err)
	_, err = store.Put("second", []byte("two"), Options{Metadata: map[string]string{KindTag: "linux.gpgKey"}})
	require.NoError(t, err)

	entries, err := store.List()
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, store.Delete("first"))
	entries, err = store.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].ID)

	// Deleting an unknown id is not an error
	assert.NoError(t, store.Delete("first"))
}

func TestMasterKeyIsReusedAcrossInstances(t *testing.T) {
	root := t.TempDir()

	first := New(root)
	_, err := first.Put("shared", []byte("payload"), Options{Metadata: map[string]string{KindTag: "signing.certificate"}})
	require.NoError(t, err)

	// A fresh store over the same root must decrypt entries written earlier
	second := New(root)
	secret, err := second.TryGet("shared")
	require.NoError(t, err)
	require.NotNil(t, secret)
	assert.Equal(t, []byte("payload"), secret.Payload)
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "mac.entitlements_prod", SanitizeID("mac.entitlements/Prod"))
	assert.Equal(t, "a-b_c.d", SanitizeID("A-B C.d"))
}
