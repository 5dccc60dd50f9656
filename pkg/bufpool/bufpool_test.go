package bufpool_test

import (
	"testing"

	"github.com/istgtd/istgtd/pkg/bufpool"
	"github.com/stretchr/testify/assert"
)

func TestGetPutRoundTrip(t *testing.T) {
	buf := bufpool.Get(48) // BHS size
	assert.Len(t, buf, 48)
	buf[0] = 0x7f
	bufpool.Put(buf)

	buf2 := bufpool.Get(48)
	assert.Len(t, buf2, 48)
}

func TestOversizedBufferNotPooled(t *testing.T) {
	p := bufpool.NewPool(&bufpool.Config{SmallSize: 4, MediumSize: 8, LargeSize: 16})
	buf := p.Get(1 << 20)
	assert.Len(t, buf, 1<<20)
	p.Put(buf) // should not panic; silently dropped
}

func TestTierSelection(t *testing.T) {
	p := bufpool.NewPool(nil)
	small := p.Get(10)
	assert.Equal(t, bufpool.DefaultSmallSize, cap(small))

	medium := p.Get(bufpool.DefaultSmallSize + 1)
	assert.Equal(t, bufpool.DefaultMediumSize, cap(medium))
}
