package tokenhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash(t *testing.T) {
	assert := assert.New(t)

	// echo -n "abc" | sha256sum
	assert.Equal("ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Hash("abc"))
	assert.Len(Hash("anything"), Size)
	assert.Equal(Hash("same"), Hash("same"))
	assert.NotEqual(Hash("a"), Hash("b"))
}

func TestEqual(t *testing.T) {
	assert := assert.New(t)

	h := Hash("secret")
	assert.True(Equal("secret", h))
	assert.False(Equal("other", h))
	assert.False(Equal("secret", h[:10]))
	assert.False(Equal("secret", ""))
}
