package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func fastArgon2() *Argon2Hasher {
	return NewArgon2Hasher(Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
}

func TestHashers(t *testing.T) {
	t.Parallel()

	hashers := map[string]Hasher{
		"bcrypt":   NewBcryptHasher(bcrypt.MinCost),
		"argon2id": fastArgon2(),
	}

	for name, hasher := range hashers {
		hasher := hasher
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			digest, err := hasher.Hash("correct horse battery")
			require.NoError(t, err)

			assert.True(t, hasher.Verify("correct horse battery", digest))
			assert.False(t, hasher.Verify("correct horse batterY", digest))
			assert.False(t, hasher.Verify("", digest))
		})

		t.Run(name+" salts every digest", func(t *testing.T) {
			t.Parallel()

			first, err := hasher.Hash("same-password")
			require.NoError(t, err)
			second, err := hasher.Hash("same-password")
			require.NoError(t, err)

			assert.NotEqual(t, first, second)
		})

		t.Run(name+" malformed digest is a plain mismatch", func(t *testing.T) {
			t.Parallel()

			for _, digest := range []string{"", "garbage", "$argon2id$v=19$m=0,t=0,p=0$$", "$2a$10$short"} {
				assert.False(t, hasher.Verify("anything", digest), digest)
			}
		})
	}
}

func TestArgon2DigestFormat(t *testing.T) {
	digest, err := fastArgon2().Hash("password-123")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=8192,t=1,p=1$"))
	assert.Len(t, strings.Split(digest, "$"), 6)
}

func TestNewHasher(t *testing.T) {
	h, err := NewHasher("bcrypt", 4)
	require.NoError(t, err)
	assert.IsType(t, &BcryptHasher{}, h)

	h, err = NewHasher("argon2id", 0)
	require.NoError(t, err)
	assert.IsType(t, &Argon2Hasher{}, h)

	_, err = NewHasher("sha1", 0)
	assert.Error(t, err)
}

func TestBcryptCostFallback(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(99).cost)
	assert.Equal(t, bcrypt.MinCost, NewBcryptHasher(bcrypt.MinCost).cost)
}

func TestSecrets(t *testing.T) {
	a, err := NewSecret()
	require.NoError(t, err)
	b, err := NewSecret()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
	assert.Len(t, HashSecret(a), 64)
	assert.Equal(t, HashSecret(a), HashSecret(a))
	assert.True(t, EqualSecrets(HashSecret(a), HashSecret(a)))
	assert.False(t, EqualSecrets(HashSecret(a), HashSecret(b)))
}
