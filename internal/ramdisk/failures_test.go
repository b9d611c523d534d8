package ramdisk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailures(t *testing.T) {
	var f Failures
	assert.Zero(t, f.Len())
	assert.Empty(t, f.Error())

	f.Add("foo")
	f.Add("%s is %d", "bar", 42)

	assert.Equal(t, 2, f.Len())
	assert.Equal(t, "The following errors were encountered during hardware discovery:\n* foo\n* bar is 42", f.Error())
}

func TestFailures_PercentWithoutArgs(t *testing.T) {
	var f Failures
	f.Add("disk 100% full")
	assert.Contains(t, f.Error(), "* disk 100% full")
}
