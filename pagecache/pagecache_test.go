package pagecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkimT13/MetalDB/columnpage"
)

func TestMakeKeyPacksColumnAndPage(t *testing.T) {
	k := MakeKey(1, 2)
	assert.Equal(t, Key(uint32(1)<<16|2), k)
}

func TestGetSetRoundTrip(t *testing.T) {
	c, err := New(0, nil)
	require.NoError(t, err)
	defer c.Close()

	p := columnpage.New(0, 4)
	p.WriteValue(0, 123)
	key := MakeKey(0, 0)

	c.Set(key, p)
	c.Wait()
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, uint32(123), got.ReadValue(0))
}

func TestGetMissReturnsFalse(t *testing.T) {
	c, err := New(0, nil)
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get(MakeKey(0, 99))
	assert.False(t, ok)
}

func TestSetStoresACopyNotTheOriginal(t *testing.T) {
	c, err := New(0, nil)
	require.NoError(t, err)
	defer c.Close()

	p := columnpage.New(0, 2)
	key := MakeKey(0, 0)
	c.Set(key, p)
	c.Wait()

	p.WriteValue(0, 77)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.NotEqual(t, uint32(77), got.ReadValue(0))
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	_, ok := c.Get(MakeKey(0, 0))
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		c.Set(MakeKey(0, 0), columnpage.New(0, 1))
		c.Invalidate(MakeKey(0, 0))
		c.Close()
	})
}

func TestInvalidateDropsEntry(t *testing.T) {
	c, err := New(0, nil)
	require.NoError(t, err)
	defer c.Close()

	key := MakeKey(0, 0)
	c.Set(key, columnpage.New(0, 1))
	c.Wait()
	c.Invalidate(key)

	_, ok := c.Get(key)
	assert.False(t, ok)
}
