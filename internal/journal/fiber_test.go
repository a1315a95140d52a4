package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnterFreshFiber(t *testing.T) {
	_, section := Enter(context.Background(), "op")
	defer section.Close()
	assert.NotEmpty(t, section.Descriptor.FiberID)
	assert.Equal(t, 0, section.Descriptor.Depth)
}

func TestEnterNestedFiberSharesIDIncrementsDepth(t *testing.T) {
	ctx, outer := Enter(context.Background(), "outer")
	defer outer.Close()

	_, inner := Enter(ctx, "inner")
	defer inner.Close()

	assert.Equal(t, outer.Descriptor.FiberID, inner.Descriptor.FiberID)
	assert.Equal(t, outer.Descriptor.Depth+1, inner.Descriptor.Depth)
}
