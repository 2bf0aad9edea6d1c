package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsRequestedLength(t *testing.T) {
	for _, size := range []int{0, 1, SmallSize, SmallSize + 1, MediumSize, LargeSize, LargeSize + 1} {
		buf := Get(size)
		assert.Len(t, buf, size)
		Put(buf)
	}
}

func TestGetUsesSizeClasses(t *testing.T) {
	assert.Equal(t, SmallSize, cap(Get(10)))
	assert.Equal(t, MediumSize, cap(Get(SmallSize+1)))
	assert.Equal(t, LargeSize, cap(Get(MediumSize+1)))
	assert.Equal(t, LargeSize+1, cap(Get(LargeSize+1)))
}

func TestPutIgnoresForeignSlices(t *testing.T) {
	Put(nil)
	Put(make([]byte, 17))
}
