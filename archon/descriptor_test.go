package archon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectFetchBufferPicksHighestCompleteFrame(t *testing.T) {
	buffers := []BufferDescriptor{
		{Index: 1, Complete: true, FrameNo: 10},
		{Index: 2, Complete: true, FrameNo: 12},
		{Index: 3, Complete: true, FrameNo: 11},
	}
	best, ok := SelectFetchBuffer(buffers)
	assert.True(t, ok, "expected a selectable buffer")
	assert.Equal(t, 2, best.Index, "selected buffer should be the highest complete frame number")
	assert.Equal(t, int64(12), best.FrameNo)
}

func TestSelectFetchBufferIgnoresIncomplete(t *testing.T) {
	buffers := []BufferDescriptor{
		{Index: 1, Complete: false, FrameNo: 99},
		{Index: 2, Complete: true, FrameNo: 5},
	}
	best, ok := SelectFetchBuffer(buffers)
	assert.True(t, ok)
	assert.Equal(t, 2, best.Index, "incomplete buffer 1 should never be selected")
}

func TestSelectFetchBufferNoneComplete(t *testing.T) {
	buffers := []BufferDescriptor{{Index: 1, Complete: false}}
	_, ok := SelectFetchBuffer(buffers)
	assert.False(t, ok, "no complete buffer exists to select")
}

func TestDetectorDimensions(t *testing.T) {
	d := Detector{X0: 0, Y0: 0, X1: 100, Y1: 50}
	assert.Equal(t, 100, d.Width())
	assert.Equal(t, 50, d.Height())
}
