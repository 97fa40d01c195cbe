package pepper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFarmHasherDeterministic(t *testing.T) {
	h1 := NewFarmHasher(0)
	h1.Update([]byte("hello"))
	h1.Update([]byte("world"))

	h2 := NewFarmHasher(0)
	h2.Update([]byte("helloworld"))

	require.Equal(t, h1.Finalize(), h2.Finalize())
}

func TestFarmHasherSeeded(t *testing.T) {
	a := NewFarmHasher(1)
	a.Update([]byte("x"))
	b := NewFarmHasher(2)
	b.Update([]byte("x"))
	require.NotEqual(t, a.Finalize(), b.Finalize())
}

func TestComputeIsDeterministic(t *testing.T) {
	p1 := Compute(NewFarmHasher, 0xDEADBEEF)
	p2 := Compute(NewFarmHasher, 0xDEADBEEF)
	require.Equal(t, p1, p2)

	p3 := Compute(NewFarmHasher, 0xCAFEBABE)
	require.NotEqual(t, p1, p3)
}

func TestMixIncludesSalt(t *testing.T) {
	salt := uint64(12345)
	h1 := Mix(NewFarmHasher, []byte("key"), SaltBytes(salt))
	h2 := Mix(NewFarmHasher, []byte("key"), SaltBytes(salt+1))
	require.NotEqual(t, h1, h2)
}
